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
	"sort"
	"time"

	"github.com/ctessum/sparse"
)

// GridKey addresses one decoded grid in a store. For FD and forward-run C,
// Step is an index into Header.AvailableDates; for backward-run C it is an
// index into Header.Releases.
type GridKey struct {
	Species int
	Step    int
}

func (k GridKey) String() string {
	return fmt.Sprintf("(%d, %d)", k.Species, k.Step)
}

// Grid is one decoded output field: a dense (level, lat, lon) cube for a
// single (species, date) or (species, release), plus the optional 2-D
// deposition layers that FLEXPART writes alongside it.
type Grid struct {
	cube *sparse.DenseArray // shape (nz, ny, nx)

	wet, dry *sparse.DenseArray // shape (ny, nx); nil unless decoded

	// timeIntegrated is the accumulated backward-run sensitivity,
	// shape (ny, nx). Only set on backward concentration grids.
	timeIntegrated *sparse.DenseArray
}

// DataCube returns the (level, lat, lon) data cube. Callers must not
// mutate it.
func (g *Grid) DataCube() *sparse.DenseArray { return g.cube }

// Slab returns the 2-D (lat, lon) cross-section of the cube at level k.
// The slab is derived from the cube on every call, so it always equals the
// corresponding cube level.
func (g *Grid) Slab(k int) *sparse.DenseArray {
	nz, ny, nx := g.cube.Shape[0], g.cube.Shape[1], g.cube.Shape[2]
	if k < 0 || k >= nz {
		return nil
	}
	slab := sparse.ZerosDense(ny, nx)
	copy(slab.Elements, g.cube.Elements[k*ny*nx:(k+1)*ny*nx])
	return slab
}

// Levels returns the number of vertical levels in the cube.
func (g *Grid) Levels() int { return g.cube.Shape[0] }

// WetDeposition returns the wet deposition layer (lat, lon), or nil if the
// run did not include wet deposition.
func (g *Grid) WetDeposition() *sparse.DenseArray { return g.wet }

// DryDeposition returns the dry deposition layer (lat, lon), or nil if the
// run did not include dry deposition.
func (g *Grid) DryDeposition() *sparse.DenseArray { return g.dry }

// TimeIntegrated returns the accumulated backward sensitivity field
// (lat, lon). It returns ErrNotComputed for grids that have not been
// through FillBackward, and for forward-run grids, which have no
// time-integrated form.
func (g *Grid) TimeIntegrated() (*sparse.DenseArray, error) {
	if g.timeIntegrated == nil {
		return nil, ErrNotComputed
	}
	return g.timeIntegrated, nil
}

// FieldData (FD) maps (species, date) keys to the raw decoded grids:
// footprints for backward runs, concentration snapshots for forward runs.
// It is built once during conversion and read-only afterwards.
type FieldData struct {
	grids map[GridKey]*Grid
}

func newFieldData() *FieldData {
	return &FieldData{grids: make(map[GridKey]*Grid)}
}

// Get returns the grid stored under key, or nil if absent.
func (fd *FieldData) Get(key GridKey) *Grid { return fd.grids[key] }

// Len returns the number of stored grids.
func (fd *FieldData) Len() int { return len(fd.grids) }

// Keys returns the stored keys sorted by species then step.
func (fd *FieldData) Keys() []GridKey { return sortKeys(fd.grids) }

func (fd *FieldData) put(key GridKey, g *Grid) { fd.grids[key] = g }

// ConcData (C) maps keys to grids with concentration semantics. For
// forward runs the keys are (species, date) and the grids alias the FD
// grids directly. For backward runs the keys are (species, release) and
// each grid carries the time-integrated sensitivity computed by
// FillBackward; Get fails with ErrNotComputed until then.
type ConcData struct {
	direction Direction
	grids     map[GridKey]*Grid
}

func newConcData(direction Direction) *ConcData {
	return &ConcData{direction: direction, grids: make(map[GridKey]*Grid)}
}

// Get returns the concentration grid stored under key. For a backward run
// whose time integration has not happened yet, it returns ErrNotComputed.
func (c *ConcData) Get(key GridKey) (*Grid, error) {
	g, ok := c.grids[key]
	if !ok {
		if c.direction == Backward {
			return nil, ErrNotComputed
		}
		return nil, fmt.Errorf("reflexible: no concentration grid for key %v", key)
	}
	return g, nil
}

// Len returns the number of stored grids.
func (c *ConcData) Len() int { return len(c.grids) }

// Keys returns the stored keys sorted by species then step.
func (c *ConcData) Keys() []GridKey { return sortKeys(c.grids) }

func (c *ConcData) put(key GridKey, g *Grid) { c.grids[key] = g }

func sortKeys(m map[GridKey]*Grid) []GridKey {
	keys := make([]GridKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Species != keys[j].Species {
			return keys[i].Species < keys[j].Species
		}
		return keys[i].Step < keys[j].Step
	})
	return keys
}

// Dataset is the in-memory result of a conversion: the parsed Header, the
// populated grid stores, and the orography. It owns its contents
// exclusively; the netCDF file written from it is an independent
// serialization.
type Dataset struct {
	Header *Header
	FD     *FieldData
	C      *ConcData
	ORO    *Oro

	// Nested-grid analogues; nil unless Header.Nested.
	FDNest  *FieldData
	ORONest *Oro
}

// AvailableDates returns the output timestamps from the header.
func (d *Dataset) AvailableDates() []time.Time { return d.Header.AvailableDates }

// Direction returns the simulation direction from the header.
func (d *Dataset) Direction() Direction { return d.Header.Direction }
