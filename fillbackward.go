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
	"github.com/ctessum/sparse"
	"github.com/gonum/floats"
)

// fillConcentrations builds the C store from a populated FD store.
//
// Forward runs: concentrations are the decoded fields themselves, so each
// C entry aliases the FD grid under the same (species, date) key.
//
// Backward runs: for every (species, release) the per-step footprints are
// summed elementwise into a single time-integrated sensitivity field. Steps
// are accumulated in decode order, which is the chronological backward
// order of the availability record; summation order is part of the
// contract, so steps are never reordered. Releases with zero recorded
// steps get a zero-filled accumulator. If allLevels is false only the
// level-0 slab of each step contributes; otherwise all levels are summed
// through the vertical.
func fillConcentrations(h *Header, fd *FieldData, allLevels bool) *ConcData {
	c := newConcData(h.Direction)
	if h.Direction == Forward {
		for _, key := range fd.Keys() {
			c.put(key, fd.Get(key))
		}
		return c
	}
	for s := range h.Species {
		for r := range h.Releases {
			c.put(GridKey{Species: s, Step: r}, fillBackward(h, fd, s, h.Releases[r], allLevels))
		}
	}
	return c
}

// fillBackward accumulates the backward steps for one species and release
// into a grid carrying the summed cube and the 2-D time-integrated field.
// A step belongs to the release if its output date is not after the
// release end; a release whose window precedes every available date
// therefore has zero steps and keeps the zero accumulator.
func fillBackward(h *Header, fd *FieldData, species int, rel Release, allLevels bool) *Grid {
	nx, ny, nz := h.NumX, h.NumY, h.NumZ
	cube := sparse.ZerosDense(nz, ny, nx)
	ti := sparse.ZerosDense(ny, nx)
	for step, date := range h.AvailableDates {
		if date.After(rel.End) {
			continue
		}
		g := fd.Get(GridKey{Species: species, Step: step})
		if g == nil {
			continue
		}
		floats.Add(cube.Elements, g.cube.Elements)
		if allLevels {
			for k := 0; k < nz; k++ {
				floats.Add(ti.Elements, g.cube.Elements[k*ny*nx:(k+1)*ny*nx])
			}
		} else {
			floats.Add(ti.Elements, g.cube.Elements[0:ny*nx])
		}
	}
	return &Grid{cube: cube, timeIntegrated: ti}
}
