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
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// OroStandardName is the required CF standard name of the orography
// variable.
const OroStandardName = "surface altitude"

// ncVar collects everything needed to define and fill one netCDF variable.
type ncVar struct {
	dims  []string
	attrs [][2]string
	data  interface{} // []float32, []float64 or []int32
}

// WriteNCFile serializes the dataset to a netCDF file at outfile. The
// write is atomic from the caller's perspective: the data goes to a
// sibling temporary file that is renamed onto outfile on success and
// removed on failure, so no partial file is ever left at the destination.
// wetdep and drydep select whether the deposition variables are emitted;
// they have no effect if the run did not record the corresponding layers.
func (d *Dataset) WriteNCFile(outfile string, wetdep, drydep bool) error {
	tmp := outfile + ".tmp"
	ff, err := os.Create(tmp)
	if err != nil {
		return WriteFailureError{Path: outfile, Err: err}
	}
	if err := d.writeNC(ff, wetdep, drydep); err != nil {
		ff.Close()
		os.Remove(tmp)
		return WriteFailureError{Path: outfile, Err: err}
	}
	if err := ff.Sync(); err != nil {
		ff.Close()
		os.Remove(tmp)
		return WriteFailureError{Path: outfile, Err: err}
	}
	if err := ff.Close(); err != nil {
		os.Remove(tmp)
		return WriteFailureError{Path: outfile, Err: err}
	}
	if err := os.Rename(tmp, outfile); err != nil {
		os.Remove(tmp)
		return WriteFailureError{Path: outfile, Err: err}
	}
	return nil
}

func (d *Dataset) writeNC(ff *os.File, wetdep, drydep bool) error {
	h := d.Header

	dimNames := []string{"time", "level", "lat", "lon"}
	dimLens := []int{len(h.AvailableDates), h.NumZ, h.NumY, h.NumX}
	if h.Nested {
		dimNames = append(dimNames, "latnest", "lonnest")
		dimLens = append(dimLens, h.NestY, h.NestX)
	}
	nch := cdf.NewHeader(dimNames, dimLens)

	nch.AddAttribute("", "Conventions", "CF-1.6")
	nch.AddAttribute("", "title", "FLEXPART model output")
	nch.AddAttribute("", "source", "reflexible conversion of FLEXPART raw output")
	nch.AddAttribute("", "outlon0", []float64{h.OutLon0})
	nch.AddAttribute("", "outlat0", []float64{h.OutLat0})
	nch.AddAttribute("", "dxout", []float64{h.DxOut})
	nch.AddAttribute("", "dyout", []float64{h.DyOut})
	ldirect := int32(1)
	if h.Direction == Backward {
		ldirect = -1
	}
	nch.AddAttribute("", "ldirect", []int32{ldirect})
	ibdate, ibtime := compactDate(h.SimStart)
	nch.AddAttribute("", "ibdate", fmt.Sprintf("%08d", ibdate))
	nch.AddAttribute("", "ibtime", fmt.Sprintf("%06d", ibtime))
	nch.AddAttribute("", "loutstep", []int32{int32(h.OutStep.Seconds())})
	nch.AddAttribute("", "numpoint", []int32{int32(len(h.Releases))})
	for i, rel := range h.Releases {
		p := fmt.Sprintf("release%03d_", i+1)
		nch.AddAttribute("", p+"name", rel.Name)
		nch.AddAttribute("", p+"start", rel.Start.Format(dateFormat))
		nch.AddAttribute("", p+"end", rel.End.Format(dateFormat))
		nch.AddAttribute("", p+"bounds", []float64{rel.LonMin, rel.LatMin, rel.LonMax, rel.LatMax, rel.ZBottom, rel.ZTop})
	}

	vars := make(map[string]*ncVar)

	// Coordinate variables.
	times := make([]int32, len(h.AvailableDates))
	for i, t := range h.AvailableDates {
		times[i] = int32(t.Sub(h.SimStart).Seconds())
	}
	vars["time"] = &ncVar{
		dims: []string{"time"},
		attrs: [][2]string{
			{"units", "seconds since " + h.SimStart.Format("2006-01-02 15:04:05")},
			{"calendar", "proleptic_gregorian"},
		},
		data: times,
	}
	levels := make([]float32, h.NumZ)
	for k, v := range h.OutHeights {
		levels[k] = float32(v)
	}
	vars["level"] = &ncVar{
		dims: []string{"level"},
		attrs: [][2]string{
			{"units", "m"},
			{"positive", "up"},
			{"long_name", "height of level top above ground"},
		},
		data: levels,
	}
	vars["latitude"] = &ncVar{
		dims:  []string{"lat"},
		attrs: [][2]string{{"units", "degrees_north"}, {"long_name", "grid cell center latitude"}},
		data:  h.Latitudes(),
	}
	vars["longitude"] = &ncVar{
		dims:  []string{"lon"},
		attrs: [][2]string{{"units", "degrees_east"}, {"long_name", "grid cell center longitude"}},
		data:  h.Longitudes(),
	}

	// Species data variables.
	specUnits := "ng m-3"
	if h.Direction == Backward {
		specUnits = "s"
	}
	for s, sp := range h.Species {
		name := fmt.Sprintf("spec%03d_mr", s+1)
		vars[name] = &ncVar{
			dims:  []string{"time", "level", "lat", "lon"},
			attrs: [][2]string{{"long_name", sp.Name}, {"units", specUnits}},
			data:  d.speciesCube(d.FD, s, h.NumZ, h.NumY, h.NumX),
		}
		if wetdep {
			vars[fmt.Sprintf("WD_spec%03d", s+1)] = &ncVar{
				dims:  []string{"time", "lat", "lon"},
				attrs: [][2]string{{"long_name", sp.Name + " wet deposition"}, {"units", "ng m-2"}},
				data:  d.depositionCube(s, h.NumY, h.NumX, true),
			}
		}
		if drydep {
			vars[fmt.Sprintf("DD_spec%03d", s+1)] = &ncVar{
				dims:  []string{"time", "lat", "lon"},
				attrs: [][2]string{{"long_name", sp.Name + " dry deposition"}, {"units", "ng m-2"}},
				data:  d.depositionCube(s, h.NumY, h.NumX, false),
			}
		}
		if h.Direction == Backward {
			for r := range h.Releases {
				g, err := d.C.Get(GridKey{Species: s, Step: r})
				if err != nil {
					return err
				}
				ti, err := g.TimeIntegrated()
				if err != nil {
					return err
				}
				vars[fmt.Sprintf("spec%03d_rel%03d_ti", s+1, r+1)] = &ncVar{
					dims: []string{"lat", "lon"},
					attrs: [][2]string{
						{"long_name", sp.Name + " time-integrated sensitivity"},
						{"units", "s"},
					},
					data: toFloat32(ti),
				}
			}
		}
	}

	// Orography.
	vars["ORO"] = &ncVar{
		dims:  []string{"lat", "lon"},
		attrs: oroAttrs(d.ORO),
		data:  toFloat32(d.ORO.Data),
	}

	if h.Nested {
		vars["latitude_nest"] = &ncVar{
			dims:  []string{"latnest"},
			attrs: [][2]string{{"units", "degrees_north"}, {"long_name", "nest grid cell center latitude"}},
			data:  h.NestLatitudes(),
		}
		vars["longitude_nest"] = &ncVar{
			dims:  []string{"lonnest"},
			attrs: [][2]string{{"units", "degrees_east"}, {"long_name", "nest grid cell center longitude"}},
			data:  h.NestLongitudes(),
		}
		for s, sp := range h.Species {
			vars[fmt.Sprintf("spec%03d_mr_nest", s+1)] = &ncVar{
				dims:  []string{"time", "level", "latnest", "lonnest"},
				attrs: [][2]string{{"long_name", sp.Name}, {"units", specUnits}},
				data:  d.speciesCube(d.FDNest, s, h.NumZ, h.NestY, h.NestX),
			}
		}
		vars["ORO_nest"] = &ncVar{
			dims:  []string{"latnest", "lonnest"},
			attrs: oroAttrs(d.ORONest),
			data:  toFloat32(d.ORONest.Data),
		}
	}

	// Define and fill in sorted name order so the output bytes are
	// reproducible run to run.
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		v := vars[n]
		switch v.data.(type) {
		case []float32:
			nch.AddVariable(n, v.dims, []float32{0})
		case []float64:
			nch.AddVariable(n, v.dims, []float64{0.})
		case []int32:
			nch.AddVariable(n, v.dims, []int32{0})
		default:
			return fmt.Errorf("unsupported variable type for %s", n)
		}
		for _, a := range v.attrs {
			nch.AddAttribute(n, a[0], a[1])
		}
	}
	nch.Define()
	for _, err := range nch.Check() {
		return err
	}

	f, err := cdf.Create(ff, nch)
	if err != nil {
		return err
	}
	for _, n := range names {
		v := vars[n]
		end := f.Header.Lengths(n)
		start := make([]int, len(end))
		w := f.Writer(n, start, end)
		if _, err := w.Write(v.data); err != nil {
			return fmt.Errorf("writing variable %s: %v", n, err)
		}
	}
	return cdf.UpdateNumRecs(ff)
}

func oroAttrs(oro *Oro) [][2]string {
	keys := make([]string, 0, len(oro.Attrs))
	for k := range oro.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, len(keys))
	for i, k := range keys {
		out[i] = [2]string{k, oro.Attrs[k]}
	}
	return out
}

// speciesCube assembles the (time, level, lat, lon) array for one species
// from the per-date grids in decode order.
func (d *Dataset) speciesCube(fd *FieldData, species, nz, ny, nx int) []float32 {
	step := nz * ny * nx
	out := make([]float32, len(d.Header.AvailableDates)*step)
	for i := range d.Header.AvailableDates {
		g := fd.Get(GridKey{Species: species, Step: i})
		if g == nil {
			continue
		}
		for j, v := range g.cube.Elements {
			out[i*step+j] = float32(v)
		}
	}
	return out
}

// depositionCube assembles the (time, lat, lon) array for one species'
// wet or dry deposition layers.
func (d *Dataset) depositionCube(species, ny, nx int, wet bool) []float32 {
	step := ny * nx
	out := make([]float32, len(d.Header.AvailableDates)*step)
	for i := range d.Header.AvailableDates {
		g := d.FD.Get(GridKey{Species: species, Step: i})
		if g == nil {
			continue
		}
		layer := g.dry
		if wet {
			layer = g.wet
		}
		if layer == nil {
			continue
		}
		for j, v := range layer.Elements {
			out[i*step+j] = float32(v)
		}
	}
	return out
}

func toFloat32(a *sparse.DenseArray) []float32 {
	out := make([]float32, len(a.Elements))
	for i, v := range a.Elements {
		out[i] = float32(v)
	}
	return out
}
