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
	"fmt"
	"os"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// OpenNCFile reads a netCDF file previously written by WriteNCFile back
// into an in-memory Dataset. It is the structured-access path for callers
// who already have the converted file and do not want to touch the raw
// FLEXPART output again.
func OpenNCFile(path string) (*Dataset, error) {
	ff, err := os.Open(path)
	if err != nil {
		return nil, MissingInputError{Path: path}
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("reflexible: opening %s: %v", path, err)
	}

	h := new(Header)
	h.OutLon0 = f.Header.GetAttribute("", "outlon0").([]float64)[0]
	h.OutLat0 = f.Header.GetAttribute("", "outlat0").([]float64)[0]
	h.DxOut = f.Header.GetAttribute("", "dxout").([]float64)[0]
	h.DyOut = f.Header.GetAttribute("", "dyout").([]float64)[0]
	if f.Header.GetAttribute("", "ldirect").([]int32)[0] == -1 {
		h.Direction = Backward
	}
	h.OutStep = time.Duration(f.Header.GetAttribute("", "loutstep").([]int32)[0]) * time.Second
	ibdate := f.Header.GetAttribute("", "ibdate").(string)
	ibtime := f.Header.GetAttribute("", "ibtime").(string)
	h.SimStart, err = time.Parse("20060102 150405", ibdate+" "+ibtime)
	if err != nil {
		return nil, fmt.Errorf("reflexible: %s: bad ibdate/ibtime attributes %q %q", path, ibdate, ibtime)
	}

	numpoint := int(f.Header.GetAttribute("", "numpoint").([]int32)[0])
	h.Releases = make([]Release, numpoint)
	for i := range h.Releases {
		p := fmt.Sprintf("release%03d_", i+1)
		rel := Release{Name: f.Header.GetAttribute("", p+"name").(string)}
		rel.Start, err = time.Parse(dateFormat, f.Header.GetAttribute("", p+"start").(string))
		if err != nil {
			return nil, fmt.Errorf("reflexible: %s: bad %sstart attribute", path, p)
		}
		rel.End, err = time.Parse(dateFormat, f.Header.GetAttribute("", p+"end").(string))
		if err != nil {
			return nil, fmt.Errorf("reflexible: %s: bad %send attribute", path, p)
		}
		b := f.Header.GetAttribute("", p+"bounds").([]float64)
		rel.LonMin, rel.LatMin, rel.LonMax, rel.LatMax, rel.ZBottom, rel.ZTop = b[0], b[1], b[2], b[3], b[4], b[5]
		h.Releases[i] = rel
	}

	// Grid geometry and dates from the coordinate variables.
	times, err := readVarInt32(f, "time")
	if err != nil {
		return nil, err
	}
	h.AvailableDates = make([]time.Time, len(times))
	for i, s := range times {
		h.AvailableDates[i] = h.SimStart.Add(time.Duration(s) * time.Second)
	}
	levels, err := readVarFloat32(f, "level")
	if err != nil {
		return nil, err
	}
	h.NumZ = len(levels)
	h.OutHeights = make([]float64, len(levels))
	for i, v := range levels {
		h.OutHeights[i] = float64(v)
	}
	h.NumY = f.Header.Lengths("latitude")[0]
	h.NumX = f.Header.Lengths("longitude")[0]

	// Species list and deposition flags from the variable inventory.
	var nspec int
	hasWet, hasDry := false, false
	for _, v := range f.Header.Variables() {
		var s int
		if n, _ := fmt.Sscanf(v, "spec%03d_mr", &s); n == 1 && len(v) == len("spec000_mr") && s > nspec {
			nspec = s
		}
		if n, _ := fmt.Sscanf(v, "WD_spec%03d", &s); n == 1 {
			hasWet = true
		}
		if n, _ := fmt.Sscanf(v, "DD_spec%03d", &s); n == 1 {
			hasDry = true
		}
	}
	if nspec == 0 {
		return nil, fmt.Errorf("reflexible: %s holds no species variables", path)
	}
	h.WetDep, h.DryDep = hasWet, hasDry
	h.Species = make([]Species, nspec)
	for s := range h.Species {
		name := f.Header.GetAttribute(fmt.Sprintf("spec%03d_mr", s+1), "long_name").(string)
		h.Species[s] = Species{Name: name}
	}

	// Rebuild the grid stores.
	fd := newFieldData()
	c := newConcData(h.Direction)
	step := h.NumZ * h.NumY * h.NumX
	plane := h.NumY * h.NumX
	for s := range h.Species {
		cube, err := readVarFloat32(f, fmt.Sprintf("spec%03d_mr", s+1))
		if err != nil {
			return nil, err
		}
		var wet, dry []float32
		if hasWet {
			if wet, err = readVarFloat32(f, fmt.Sprintf("WD_spec%03d", s+1)); err != nil {
				return nil, err
			}
		}
		if hasDry {
			if dry, err = readVarFloat32(f, fmt.Sprintf("DD_spec%03d", s+1)); err != nil {
				return nil, err
			}
		}
		for i := range h.AvailableDates {
			g := new(Grid)
			g.cube = denseFrom(cube[i*step:(i+1)*step], h.NumZ, h.NumY, h.NumX)
			if hasWet {
				g.wet = denseFrom(wet[i*plane:(i+1)*plane], h.NumY, h.NumX)
			}
			if hasDry {
				g.dry = denseFrom(dry[i*plane:(i+1)*plane], h.NumY, h.NumX)
			}
			key := GridKey{Species: s, Step: i}
			fd.put(key, g)
			if h.Direction == Forward {
				c.put(key, g)
			}
		}
		if h.Direction == Backward {
			for r := range h.Releases {
				ti, err := readVarFloat32(f, fmt.Sprintf("spec%03d_rel%03d_ti", s+1, r+1))
				if err != nil {
					return nil, err
				}
				c.put(GridKey{Species: s, Step: r}, &Grid{
					cube:           sparse.ZerosDense(h.NumZ, h.NumY, h.NumX),
					timeIntegrated: denseFrom(ti, h.NumY, h.NumX),
				})
			}
		}
	}

	oroData, err := readVarFloat32(f, "ORO")
	if err != nil {
		return nil, err
	}
	oro := &Oro{Data: denseFrom(oroData, h.NumY, h.NumX), Attrs: make(map[string]string)}
	for _, k := range []string{"standard_name", "long_name", "units", "outlon0", "outlat0", "dxout", "dyout"} {
		oro.Attrs[k] = f.Header.GetAttribute("ORO", k).(string)
	}

	d := &Dataset{Header: h, FD: fd, C: c, ORO: oro}

	// Nested grid, if present.
	for _, v := range f.Header.Variables() {
		if v == "latitude_nest" {
			h.Nested = true
		}
	}
	if h.Nested {
		nestLats, err := readVarFloat64(f, "latitude_nest")
		if err != nil {
			return nil, err
		}
		nestLons, err := readVarFloat64(f, "longitude_nest")
		if err != nil {
			return nil, err
		}
		h.NestY, h.NestX = len(nestLats), len(nestLons)
		oroNest, err := readVarFloat32(f, "ORO_nest")
		if err != nil {
			return nil, err
		}
		d.ORONest = &Oro{Data: denseFrom(oroNest, h.NestY, h.NestX), Attrs: make(map[string]string)}
		for _, k := range []string{"standard_name", "long_name", "units"} {
			d.ORONest.Attrs[k] = f.Header.GetAttribute("ORO_nest", k).(string)
		}
		if h.NestY > 1 {
			h.NestDy = nestLats[1] - nestLats[0]
		}
		if h.NestX > 1 {
			h.NestDx = nestLons[1] - nestLons[0]
		}
		h.NestLat0 = nestLats[0] - h.NestDy/2
		h.NestLon0 = nestLons[0] - h.NestDx/2
		d.FDNest = newFieldData()
		nestStep := h.NumZ * h.NestY * h.NestX
		for s := range h.Species {
			cube, err := readVarFloat32(f, fmt.Sprintf("spec%03d_mr_nest", s+1))
			if err != nil {
				return nil, err
			}
			for i := range h.AvailableDates {
				d.FDNest.put(GridKey{Species: s, Step: i}, &Grid{
					cube: denseFrom(cube[i*nestStep:(i+1)*nestStep], h.NumZ, h.NestY, h.NestX),
				})
			}
		}
	}
	return d, nil
}

func readVarFloat32(f *cdf.File, name string) ([]float32, error) {
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reflexible: reading variable %s: %v", name, err)
	}
	return buf.([]float32), nil
}

func readVarFloat64(f *cdf.File, name string) ([]float64, error) {
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reflexible: reading variable %s: %v", name, err)
	}
	return buf.([]float64), nil
}

func readVarInt32(f *cdf.File, name string) ([]int32, error) {
	r := f.Reader(name, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reflexible: reading variable %s: %v", name, err)
	}
	return buf.([]int32), nil
}

func denseFrom(vals []float32, shape ...int) *sparse.DenseArray {
	out := sparse.ZerosDense(shape...)
	for i, v := range vals {
		out.Elements[i] = float64(v)
	}
	return out
}
