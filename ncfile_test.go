/*
Copyright © 2016 the reflexible authors.
This file is part of reflexible.

reflexible is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

reflexible is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with reflexible.  If not, see <http://www.gnu.org/licenses/>.
*/

package reflexible

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
)

const tolerance = 1.0e-6

// approxEqual compares within relative tolerance.
func approxEqual(a, b, tol float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= tol*math.Max(math.Abs(a), math.Abs(b))
}

func TestRoundTrip(t *testing.T) {
	fx := defaultFixture(t)
	fx.wetdep, fx.drydep = true, true
	fx.wet = func(s, date int) []float32 { return []float32{5, 6, 7, 8} }
	fx.dry = func(s, date int) []float32 { return []float32{9, 10, 11, 12} }
	fx.write(t)

	outfile := filepath.Join(t.TempDir(), "out.nc")
	ncPath, _, _, err := CreateNCFile(fx.writePathnames(t), false, true, true, outfile)
	if err != nil {
		t.Fatal(err)
	}
	if ncPath != outfile {
		t.Errorf("ncPath = %q, want %q", ncPath, outfile)
	}

	orig, _, _, err := Convert(fx.writePathnames(t), ConvertOptions{WetDep: true, DryDep: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := OpenNCFile(ncPath)
	if err != nil {
		t.Fatal(err)
	}

	// Geometry attributes must survive exactly.
	oh, gh := orig.Header, got.Header
	if gh.OutLon0 != oh.OutLon0 || gh.OutLat0 != oh.OutLat0 ||
		gh.DxOut != oh.DxOut || gh.DyOut != oh.DyOut {
		t.Errorf("geometry after round trip = (%g, %g, %g, %g), want (%g, %g, %g, %g)",
			gh.OutLon0, gh.OutLat0, gh.DxOut, gh.DyOut,
			oh.OutLon0, oh.OutLat0, oh.DxOut, oh.DyOut)
	}
	if len(gh.AvailableDates) != len(oh.AvailableDates) {
		t.Fatalf("got %d dates after round trip, want %d", len(gh.AvailableDates), len(oh.AvailableDates))
	}
	for i := range gh.AvailableDates {
		if !gh.AvailableDates[i].Equal(oh.AvailableDates[i]) {
			t.Errorf("date %d = %v, want %v", i, gh.AvailableDates[i], oh.AvailableDates[i])
		}
	}
	if gh.Direction != oh.Direction {
		t.Errorf("direction = %v, want %v", gh.Direction, oh.Direction)
	}

	// Data cubes within float tolerance.
	for _, key := range orig.FD.Keys() {
		og := orig.FD.Get(key)
		gg := got.FD.Get(key)
		if gg == nil {
			t.Fatalf("no grid for key %v after round trip", key)
		}
		for i := range og.DataCube().Elements {
			if !approxEqual(og.DataCube().Elements[i], gg.DataCube().Elements[i], tolerance) {
				t.Errorf("key %v cube element %d = %g, want %g",
					key, i, gg.DataCube().Elements[i], og.DataCube().Elements[i])
			}
		}
		for i := range og.WetDeposition().Elements {
			if !approxEqual(og.WetDeposition().Elements[i], gg.WetDeposition().Elements[i], tolerance) {
				t.Errorf("key %v wet deposition element %d mismatch", key, i)
			}
		}
	}

	// Orography metadata and values.
	if got.ORO.Attrs["standard_name"] != OroStandardName {
		t.Errorf("ORO standard_name = %q, want %q", got.ORO.Attrs["standard_name"], OroStandardName)
	}
	for i := range orig.ORO.Data.Elements {
		if !approxEqual(orig.ORO.Data.Elements[i], got.ORO.Data.Elements[i], tolerance) {
			t.Errorf("ORO element %d mismatch", i)
		}
	}
}

func TestRoundTripBackward(t *testing.T) {
	fx := backwardFixture(t)
	fx.write(t)

	outfile := filepath.Join(t.TempDir(), "out.nc")
	if _, _, _, err := CreateNCFile(fx.writePathnames(t), false, false, false, outfile); err != nil {
		t.Fatal(err)
	}
	got, err := OpenNCFile(outfile)
	if err != nil {
		t.Fatal(err)
	}
	if got.Direction() != Backward {
		t.Fatalf("direction = %v, want backward", got.Direction())
	}
	g, err := got.C.Get(GridKey{Species: 0, Step: 0})
	if err != nil {
		t.Fatal(err)
	}
	ti, err := g.TimeIntegrated()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range ti.Elements {
		if !approxEqual(v, 3, tolerance) {
			t.Errorf("time-integrated element %d = %g, want 3", i, v)
		}
	}
}

func TestWriteIdempotent(t *testing.T) {
	fx := defaultFixture(t)
	fx.write(t)
	pathnames := fx.writePathnames(t)

	dir := t.TempDir()
	out1 := filepath.Join(dir, "a.nc")
	out2 := filepath.Join(dir, "b.nc")
	if _, _, _, err := CreateNCFile(pathnames, false, false, false, out1); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := CreateNCFile(pathnames, false, false, false, out2); err != nil {
		t.Fatal(err)
	}
	b1, err := os.ReadFile(out1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(out2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("two conversions of the same input produced different bytes")
	}
}

func TestNoPartialFileOnCorruptInput(t *testing.T) {
	fx := defaultFixture(t)
	dir := fx.write(t)
	// Damage the trailing marker of the last record in the second grid
	// file.
	path := filepath.Join(dir, "grid_conc_"+fx.dates[1].Format(dateFormat))
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b[len(b)-1] ^= 0xff
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}

	outfile := filepath.Join(t.TempDir(), "out.nc")
	_, _, _, err = CreateNCFile(fx.writePathnames(t), false, false, false, outfile)
	if err == nil {
		t.Fatal("expected an error for corrupt input")
	}
	if _, statErr := os.Stat(outfile); !os.IsNotExist(statErr) {
		t.Errorf("destination file exists after failed conversion: %v", statErr)
	}
	if _, statErr := os.Stat(outfile + ".tmp"); !os.IsNotExist(statErr) {
		t.Error("temporary file left behind after failed conversion")
	}
}

func TestNestedRoundTrip(t *testing.T) {
	fx := defaultFixture(t)
	fx.write(t)
	nestConc := func(s, date int) []float32 {
		out := make([]float32, 1*3*3)
		for i := range out {
			out[i] = float32(1000*(date+1) + i)
		}
		return out
	}
	nestOro := make([]float32, 9)
	for i := range nestOro {
		nestOro[i] = float32(i)
	}
	fx.writeNested(t, 3, 3, 10.5, 40.5, 0.1, 0.1, nestOro, nestConc)

	outfile := filepath.Join(t.TempDir(), "out.nc")
	if _, _, _, err := CreateNCFile(fx.writePathnames(t), true, false, false, outfile); err != nil {
		t.Fatal(err)
	}
	got, err := OpenNCFile(outfile)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Header.Nested {
		t.Fatal("nested flag lost in round trip")
	}
	if got.Header.NestX != 3 || got.Header.NestY != 3 {
		t.Errorf("nest dimensions = %d×%d, want 3×3", got.Header.NestX, got.Header.NestY)
	}
	g := got.FDNest.Get(GridKey{Species: 0, Step: 1})
	if g == nil {
		t.Fatal("no nested grid for date 1")
	}
	want := nestConc(0, 1)
	for i, v := range g.DataCube().Elements {
		if !approxEqual(v, float64(want[i]), tolerance) {
			t.Errorf("nest cube element %d = %g, want %g", i, v, want[i])
		}
	}
	if got.ORONest.Attrs["standard_name"] != OroStandardName {
		t.Errorf("nest ORO standard_name = %q, want %q",
			got.ORONest.Attrs["standard_name"], OroStandardName)
	}
}
