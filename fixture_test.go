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
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeRecord frames data as a Fortran unformatted sequential record.
func writeRecord(t *testing.T, w io.Writer, order binary.ByteOrder, fields ...interface{}) {
	t.Helper()
	var payload bytes.Buffer
	for _, f := range fields {
		if err := binary.Write(&payload, order, f); err != nil {
			t.Fatalf("building record payload: %v", err)
		}
	}
	n := int32(payload.Len())
	if err := binary.Write(w, order, n); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(w, order, n); err != nil {
		t.Fatal(err)
	}
}

func padBytes(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

// fixRelease is a release-point definition for test fixtures; Start and
// End are offsets in seconds from the simulation start.
type fixRelease struct {
	name       string
	start, end int32
}

// fixture describes a synthetic FLEXPART run directory. Field values are
// produced by the conc/wet/dry functions so tests can hand-compute
// expectations.
type fixture struct {
	dir   string
	order binary.ByteOrder

	direction      Direction
	simStart       time.Time
	outStep        int32
	wetdep, drydep bool

	lon0, lat0, dx, dy float32
	nx, ny, nz         int
	heights            []float32

	species  []string
	releases []fixRelease
	dates    []time.Time

	oro  []float32
	conc func(s, date int) []float32
	wet  func(s, date int) []float32
	dry  func(s, date int) []float32
}

// defaultFixture is a forward run with 1 species, 2 dates and a single
// level on a 2×2 grid. Cell values are 100·(date+1) + flat index, so every
// decoded value is predictable by hand.
func defaultFixture(t *testing.T) *fixture {
	return &fixture{
		dir:       t.TempDir(),
		order:     binary.LittleEndian,
		direction: Forward,
		simStart:  time.Date(2014, 5, 10, 0, 0, 0, 0, time.UTC),
		outStep:   3600,
		lon0:      10, lat0: 40, dx: 0.5, dy: 0.5,
		nx: 2, ny: 2, nz: 1,
		heights: []float32{100},
		species: []string{"TRACER"},
		releases: []fixRelease{
			{name: "RELEASE 1", start: 0, end: 7200},
		},
		dates: []time.Time{
			time.Date(2014, 5, 10, 1, 0, 0, 0, time.UTC),
			time.Date(2014, 5, 10, 2, 0, 0, 0, time.UTC),
		},
		oro: []float32{1, 2, 3, 4},
		conc: func(s, date int) []float32 {
			out := make([]float32, 4)
			for i := range out {
				out[i] = float32(100*(date+1) + i)
			}
			return out
		},
	}
}

// backwardFixture is a backward run with 1 release and 3 steps whose
// level-0 slabs are all ones.
func backwardFixture(t *testing.T) *fixture {
	fx := defaultFixture(t)
	fx.direction = Backward
	fx.nz = 2
	fx.heights = []float32{100, 500}
	fx.dates = append(fx.dates, time.Date(2014, 5, 10, 3, 0, 0, 0, time.UTC))
	fx.releases = []fixRelease{{name: "RECEPTOR 1", start: 0, end: 4 * 3600}}
	fx.conc = func(s, date int) []float32 {
		out := make([]float32, fx.nz*fx.ny*fx.nx)
		for i := 0; i < fx.ny*fx.nx; i++ {
			out[i] = 1 // level 0
		}
		return out
	}
	return fx
}

// write materializes the fixture's header and per-timestep output files
// and returns the output directory.
func (fx *fixture) write(t *testing.T) string {
	t.Helper()
	fx.writeHeaderFile(t, filepath.Join(fx.dir, "header"))
	prefix := gridFilePrefix(fx.direction, false)
	for i, date := range fx.dates {
		fx.writeGridFile(t, filepath.Join(fx.dir, prefix+date.Format(dateFormat)), i, date)
	}
	return fx.dir
}

func (fx *fixture) writeHeaderFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ldirect := int32(1)
	if fx.direction == Backward {
		ldirect = -1
	}
	ibdate, ibtime := compactDate(fx.simStart)
	writeRecord(t, f, fx.order, ibdate, ibtime, fx.outStep, ldirect,
		boolFlag(fx.wetdep), boolFlag(fx.drydep))
	writeRecord(t, f, fx.order, fx.lon0, fx.lat0,
		int32(fx.nx), int32(fx.ny), int32(fx.nz), fx.dx, fx.dy, fx.heights)

	specPayload := []interface{}{int32(len(fx.species))}
	for _, name := range fx.species {
		specPayload = append(specPayload, padBytes(name, speciesNameLen))
	}
	writeRecord(t, f, fx.order, specPayload...)

	writeRecord(t, f, fx.order, int32(len(fx.releases)))
	for _, rel := range fx.releases {
		writeRecord(t, f, fx.order, rel.start, rel.end, int32(1),
			fx.lon0, fx.lat0, fx.lon0, fx.lat0, float32(0), float32(50),
			int32(10000), padBytes(rel.name, releaseNameLen))
	}

	datePayload := []interface{}{int32(len(fx.dates))}
	for _, d := range fx.dates {
		datePayload = append(datePayload, []byte(d.Format(dateFormat)))
	}
	writeRecord(t, f, fx.order, datePayload...)

	writeRecord(t, f, fx.order, fx.oro)
}

func (fx *fixture) writeGridFile(t *testing.T, path string, dateIndex int, date time.Time) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	jjjjmmdd, ihmmss := compactDate(date)
	writeRecord(t, f, fx.order, jjjjmmdd, ihmmss)
	for s := range fx.species {
		if fx.wetdep {
			writeRecord(t, f, fx.order, fx.wet(s, dateIndex))
		}
		if fx.drydep {
			writeRecord(t, f, fx.order, fx.dry(s, dateIndex))
		}
		writeRecord(t, f, fx.order, fx.conc(s, dateIndex))
	}
}

// writeNested adds a nested sub-grid to the fixture: a header_nest file
// sharing the main header's tables but with its own geometry and
// orography, plus the per-timestep nest output files.
func (fx *fixture) writeNested(t *testing.T, nx, ny int, lon0, lat0, dx, dy float32, oro []float32, conc func(s, date int) []float32) {
	t.Helper()
	nest := *fx
	nest.nx, nest.ny = nx, ny
	nest.lon0, nest.lat0 = lon0, lat0
	nest.dx, nest.dy = dx, dy
	nest.oro = oro
	nest.conc = conc
	nest.writeHeaderFile(t, filepath.Join(fx.dir, "header_nest"))
	prefix := gridFilePrefix(fx.direction, true)
	for i, date := range fx.dates {
		nest.writeGridFile(t, filepath.Join(fx.dir, prefix+date.Format(dateFormat)), i, date)
	}
}

// writePathnames writes a manifest pointing at the fixture's directories
// and returns its path.
func (fx *fixture) writePathnames(t *testing.T) string {
	t.Helper()
	optionsDir := filepath.Join(fx.dir, "options")
	if err := os.MkdirAll(optionsDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(fx.dir, "pathnames")
	content := "# reflexible test manifest\n" + optionsDir + "\n" + fx.dir + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openReadWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0)
}

func boolFlag(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
