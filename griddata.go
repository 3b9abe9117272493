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
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ctessum/sparse"
)

// gridFilePrefix returns the output file name prefix for the given
// direction: forward runs write instantaneous concentration files, backward
// runs write time-step sensitivity files.
func gridFilePrefix(d Direction, nested bool) string {
	p := "grid_conc_"
	if d == Backward {
		p = "grid_time_"
	}
	if nested {
		p += "nest_"
	}
	return p
}

// dateGrids holds the grids decoded from one per-timestep output file,
// indexed by species.
type dateGrids []*Grid

// readFields decodes every per-timestep output file listed in the header's
// availability record into a FieldData store keyed by (species, date
// index). Dates are decoded on parallel workers; each worker owns a
// disjoint set of date indices, and the store itself is assembled
// sequentially afterwards. wetdep and drydep must already be reconciled
// with the header flags.
func readFields(ctx context.Context, h *Header, outputDir string, wetdep, drydep, nested bool, order binary.ByteOrder) (*FieldData, error) {
	nx, ny := h.NumX, h.NumY
	if nested {
		nx, ny = h.NestX, h.NestY
	}
	prefix := gridFilePrefix(h.Direction, nested)

	// Check all files exist up front so a missing date fails before any
	// decode work starts.
	paths := make([]string, len(h.AvailableDates))
	for i, date := range h.AvailableDates {
		paths[i] = filepath.Join(outputDir, prefix+date.Format(dateFormat))
		if _, err := os.Stat(paths[i]); err != nil {
			return nil, MissingInputError{Path: paths[i]}
		}
	}

	results := make([]dateGrids, len(h.AvailableDates))
	numDecoders := runtime.GOMAXPROCS(-1)
	if numDecoders > len(paths) {
		numDecoders = len(paths)
	}
	jobChan := make(chan int, len(paths))
	errChan := make(chan error)
	for w := 0; w < numDecoders; w++ {
		go func() {
			for i := range jobChan {
				if err := ctx.Err(); err != nil {
					errChan <- err
					return
				}
				grids, err := readGridFile(paths[i], h, h.AvailableDates[i], nx, ny, wetdep, drydep, order)
				if err != nil {
					errChan <- err
					return
				}
				results[i] = grids
			}
			errChan <- nil
		}()
	}
	for i := range paths {
		jobChan <- i
	}
	close(jobChan)
	var firstErr error
	for w := 0; w < numDecoders; w++ {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	fd := newFieldData()
	for i, grids := range results {
		for s, g := range grids {
			fd.put(GridKey{Species: s, Step: i}, g)
		}
	}
	return fd, nil
}

// readGridFile decodes one per-timestep output file: a date record
// followed, per species, by the optional wet and dry deposition layers and
// the concentration cube.
func readGridFile(path string, h *Header, date time.Time, nx, ny int, wetdep, drydep bool, order binary.ByteOrder) (dateGrids, error) {
	if order == nil {
		order = binary.LittleEndian
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, MissingInputError{Path: path}
	}
	defer f.Close()
	rr := NewRecordReader(f, path, order)

	var dateRec struct{ JJJJMMDD, IHMMSS int32 }
	if err := rr.ReadInto(&dateRec); err != nil {
		return nil, err
	}
	got, err := parseCompactDate(dateRec.JJJJMMDD, dateRec.IHMMSS)
	if err != nil || !got.Equal(date) {
		return nil, HeaderFormatError{Path: path, Record: "date",
			Reason: fmt.Sprintf("file date %08d %06d does not match availability date %s",
				dateRec.JJJJMMDD, dateRec.IHMMSS, date.Format(dateFormat))}
	}

	nz := h.NumZ
	grids := make(dateGrids, len(h.Species))
	for s := range h.Species {
		g := new(Grid)
		if wetdep {
			g.wet, err = readPlane(rr, nx, ny, order, path)
			if err != nil {
				return nil, err
			}
		}
		if drydep {
			g.dry, err = readPlane(rr, nx, ny, order, path)
			if err != nil {
				return nil, err
			}
		}
		g.cube, err = readCube(rr, nx, ny, nz, order, path)
		if err != nil {
			return nil, err
		}
		grids[s] = g
	}
	return grids, nil
}

// readPlane decodes a 2-D (lat, lon) record.
func readPlane(rr *RecordReader, nx, ny int, order binary.ByteOrder, path string) (*sparse.DenseArray, error) {
	payload, err := rr.Read()
	if err != nil {
		return nil, err
	}
	if len(payload) != 4*nx*ny {
		return nil, HeaderFormatError{Path: path, Record: "deposition",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for a %d×%d layer",
				len(payload), 4*nx*ny, ny, nx)}
	}
	vals := decodeFloat32s(payload, order)
	out := sparse.ZerosDense(ny, nx)
	for i, v := range vals {
		out.Elements[i] = float64(v)
	}
	return out, nil
}

// readCube decodes a 3-D (level, lat, lon) record. The flat payload is in
// C order with the level index slowest: flat = k*ny*nx + j*nx + i. This is
// the orientation contract for every cube and slab in the package.
func readCube(rr *RecordReader, nx, ny, nz int, order binary.ByteOrder, path string) (*sparse.DenseArray, error) {
	payload, err := rr.Read()
	if err != nil {
		return nil, err
	}
	if len(payload) != 4*nx*ny*nz {
		return nil, HeaderFormatError{Path: path, Record: "concentration",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for a %d×%d×%d cube",
				len(payload), 4*nx*ny*nz, nz, ny, nx)}
	}
	vals := decodeFloat32s(payload, order)
	out := sparse.ZerosDense(nz, ny, nx)
	for i, v := range vals {
		out.Elements[i] = float64(v)
	}
	return out, nil
}
