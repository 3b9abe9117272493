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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/sparse"
)

const (
	// dateFormat is the compact timestamp encoding used in the
	// availability record and in output file names.
	dateFormat = "20060102150405"

	speciesNameLen = 10
	releaseNameLen = 45
	releaseRecLen  = 3*4 + 6*4 + 4 + releaseNameLen
)

// Direction distinguishes forward simulations, whose outputs are
// instantaneous concentration snapshots, from backward simulations, whose
// outputs are time steps of a source-sensitivity footprint.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Species describes one transported species from the header species table.
type Species struct {
	Name string
}

// Release describes one release point from the header release table.
// Start and End are absolute times derived from the simulation start.
type Release struct {
	Name       string
	Start, End time.Time
	Kind       int
	LonMin     float64
	LatMin     float64
	LonMax     float64
	LatMax     float64
	ZBottom    float64
	ZTop       float64
	Particles  int
}

// Header holds the simulation metadata parsed from a FLEXPART raw-output
// header file. It is immutable once returned from ReadHeader.
type Header struct {
	// Output grid geometry. OutLon0/OutLat0 are the lower-left corner of
	// the lower-left cell, DxOut/DyOut the cell sizes in degrees.
	OutLon0, OutLat0 float64
	DxOut, DyOut     float64
	NumX, NumY, NumZ int
	// OutHeights are the heights of the level tops [m].
	OutHeights []float64

	// Nested sub-grid geometry; zero unless Nested.
	Nested             bool
	NestLon0, NestLat0 float64
	NestDx, NestDy     float64
	NestX, NestY       int

	// AvailableDates are the output timestamps, strictly increasing.
	// Forward runs index instantaneous snapshots; backward runs index
	// steps along the backward trajectory.
	AvailableDates []time.Time

	Direction      Direction
	WetDep, DryDep bool

	Species  []Species
	Releases []Release

	// SimStart is the simulation begin time (ibdate/ibtime); OutStep the
	// interval between outputs.
	SimStart time.Time
	OutStep  time.Duration
}

// simulationRecord is the fixed-layout first record of a header file.
type simulationRecord struct {
	IBDate, IBTime int32
	LoutStep       int32
	LDirect        int32
	WetDep, DryDep int32
}

// gridRecord is the fixed-layout prefix of the grid definition record; the
// level heights follow it in the same record.
type gridRecord struct {
	OutLon0, OutLat0 float32
	NumX, NumY, NumZ int32
	DxOut, DyOut     float32
}

// ReadHeader parses the header file in outputDir (and header_nest when
// nested is true) and returns the simulation metadata together with the
// orography grid(s) stored at the end of the header file.
func ReadHeader(outputDir string, nested bool, order binary.ByteOrder) (*Header, *Oro, *Oro, error) {
	path := filepath.Join(outputDir, "header")
	h, oro, err := readHeaderFile(path, order)
	if err != nil {
		return nil, nil, nil, err
	}
	if !nested {
		return h, oro, nil, nil
	}
	nestPath := filepath.Join(outputDir, "header_nest")
	hn, oroNest, err := readHeaderFile(nestPath, order)
	if err != nil {
		return nil, nil, nil, err
	}
	if hn.Direction != h.Direction || len(hn.Species) != len(h.Species) ||
		len(hn.AvailableDates) != len(h.AvailableDates) {
		return nil, nil, nil, HeaderFormatError{
			Path:   nestPath,
			Record: "simulation",
			Reason: "nest header disagrees with main header",
		}
	}
	h.Nested = true
	h.NestLon0, h.NestLat0 = hn.OutLon0, hn.OutLat0
	h.NestDx, h.NestDy = hn.DxOut, hn.DyOut
	h.NestX, h.NestY = hn.NumX, hn.NumY
	return h, oro, oroNest, nil
}

func readHeaderFile(path string, order binary.ByteOrder) (*Header, *Oro, error) {
	if order == nil {
		order = binary.LittleEndian
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, MissingInputError{Path: path}
	}
	defer f.Close()
	rr := NewRecordReader(f, path, order)

	h := new(Header)

	// Simulation record.
	var sim simulationRecord
	if err := rr.ReadInto(&sim); err != nil {
		return nil, nil, err
	}
	h.SimStart, err = parseCompactDate(sim.IBDate, sim.IBTime)
	if err != nil {
		return nil, nil, HeaderFormatError{Path: path, Record: "simulation",
			Reason: fmt.Sprintf("bad begin date %08d %06d", sim.IBDate, sim.IBTime)}
	}
	h.OutStep = time.Duration(sim.LoutStep) * time.Second
	switch sim.LDirect {
	case 1:
		h.Direction = Forward
	case -1:
		h.Direction = Backward
	default:
		return nil, nil, HeaderFormatError{Path: path, Record: "simulation",
			Reason: fmt.Sprintf("unknown direction code %d", sim.LDirect)}
	}
	for _, flag := range []int32{sim.WetDep, sim.DryDep} {
		if flag != 0 && flag != 1 {
			return nil, nil, HeaderFormatError{Path: path, Record: "simulation",
				Reason: fmt.Sprintf("bad deposition flag %d", flag)}
		}
	}
	h.WetDep = sim.WetDep == 1
	h.DryDep = sim.DryDep == 1

	// Grid definition record: fixed prefix plus the level heights.
	payload, err := rr.Read()
	if err != nil {
		return nil, nil, err
	}
	var grid gridRecord
	if len(payload) < binary.Size(&grid) {
		return nil, nil, HeaderFormatError{Path: path, Record: "grid",
			Reason: fmt.Sprintf("record is %d bytes, too short for grid definition", len(payload))}
	}
	if err := decodeFields(payload, order, &grid); err != nil {
		return nil, nil, err
	}
	if grid.NumX <= 0 || grid.NumY <= 0 || grid.NumZ <= 0 {
		return nil, nil, HeaderFormatError{Path: path, Record: "grid",
			Reason: fmt.Sprintf("non-positive grid dimensions %d×%d×%d", grid.NumX, grid.NumY, grid.NumZ)}
	}
	if grid.DxOut <= 0 || grid.DyOut <= 0 {
		return nil, nil, HeaderFormatError{Path: path, Record: "grid",
			Reason: fmt.Sprintf("non-positive cell size %g×%g", grid.DxOut, grid.DyOut)}
	}
	if want := binary.Size(&grid) + 4*int(grid.NumZ); len(payload) != want {
		return nil, nil, HeaderFormatError{Path: path, Record: "grid",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for %d levels", len(payload), want, grid.NumZ)}
	}
	h.OutLon0, h.OutLat0 = float64(grid.OutLon0), float64(grid.OutLat0)
	h.DxOut, h.DyOut = float64(grid.DxOut), float64(grid.DyOut)
	h.NumX, h.NumY, h.NumZ = int(grid.NumX), int(grid.NumY), int(grid.NumZ)
	heights := decodeFloat32s(payload[binary.Size(&grid):], order)
	h.OutHeights = make([]float64, len(heights))
	prev := 0.0
	for i, v := range heights {
		h.OutHeights[i] = float64(v)
		if float64(v) <= prev {
			return nil, nil, HeaderFormatError{Path: path, Record: "grid",
				Reason: fmt.Sprintf("level heights not increasing at level %d", i)}
		}
		prev = float64(v)
	}

	// Species table: declared count pins the record length.
	payload, err = rr.Read()
	if err != nil {
		return nil, nil, err
	}
	if len(payload) < 4 {
		return nil, nil, HeaderFormatError{Path: path, Record: "species",
			Reason: "record too short for species count"}
	}
	nspec := int(int32(order.Uint32(payload[:4])))
	if nspec <= 0 || len(payload) != 4+nspec*speciesNameLen {
		return nil, nil, HeaderFormatError{Path: path, Record: "species",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for %d species",
				len(payload), 4+nspec*speciesNameLen, nspec)}
	}
	h.Species = make([]Species, nspec)
	for i := 0; i < nspec; i++ {
		name := payload[4+i*speciesNameLen : 4+(i+1)*speciesNameLen]
		h.Species[i] = Species{Name: strings.TrimSpace(string(name))}
	}

	// Release table: a count record followed by one record per release.
	var numpoint int32
	if err := rr.ReadInto(&numpoint); err != nil {
		return nil, nil, err
	}
	if numpoint < 0 {
		return nil, nil, HeaderFormatError{Path: path, Record: "release",
			Reason: fmt.Sprintf("negative release count %d", numpoint)}
	}
	h.Releases = make([]Release, numpoint)
	for i := range h.Releases {
		payload, err = rr.Read()
		if err != nil {
			return nil, nil, err
		}
		if len(payload) != releaseRecLen {
			return nil, nil, HeaderFormatError{Path: path, Record: "release",
				Reason: fmt.Sprintf("release %d record is %d bytes, expected %d", i, len(payload), releaseRecLen)}
		}
		var rec struct {
			Start, End, Kind       int32
			Lon1, Lat1, Lon2, Lat2 float32
			Z1, Z2                 float32
			Particles              int32
		}
		if err := decodeFields(payload[:len(payload)-releaseNameLen], order, &rec); err != nil {
			return nil, nil, err
		}
		h.Releases[i] = Release{
			Name:      strings.TrimSpace(string(payload[len(payload)-releaseNameLen:])),
			Start:     h.SimStart.Add(time.Duration(rec.Start) * time.Second),
			End:       h.SimStart.Add(time.Duration(rec.End) * time.Second),
			Kind:      int(rec.Kind),
			LonMin:    float64(rec.Lon1),
			LatMin:    float64(rec.Lat1),
			LonMax:    float64(rec.Lon2),
			LatMax:    float64(rec.Lat2),
			ZBottom:   float64(rec.Z1),
			ZTop:      float64(rec.Z2),
			Particles: int(rec.Particles),
		}
	}

	// Availability record: count plus compact timestamps, strictly
	// increasing and non-empty.
	payload, err = rr.Read()
	if err != nil {
		return nil, nil, err
	}
	if len(payload) < 4 {
		return nil, nil, HeaderFormatError{Path: path, Record: "availability",
			Reason: "record too short for date count"}
	}
	ndates := int(int32(order.Uint32(payload[:4])))
	if ndates <= 0 {
		return nil, nil, HeaderFormatError{Path: path, Record: "availability",
			Reason: "no output dates"}
	}
	if len(payload) != 4+ndates*len(dateFormat) {
		return nil, nil, HeaderFormatError{Path: path, Record: "availability",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for %d dates",
				len(payload), 4+ndates*len(dateFormat), ndates)}
	}
	h.AvailableDates = make([]time.Time, ndates)
	for i := 0; i < ndates; i++ {
		s := string(payload[4+i*len(dateFormat) : 4+(i+1)*len(dateFormat)])
		t, err := time.Parse(dateFormat, s)
		if err != nil {
			return nil, nil, HeaderFormatError{Path: path, Record: "availability",
				Reason: fmt.Sprintf("bad timestamp %q", s)}
		}
		if i > 0 && !t.After(h.AvailableDates[i-1]) {
			return nil, nil, HeaderFormatError{Path: path, Record: "availability",
				Reason: fmt.Sprintf("timestamps not strictly increasing at index %d (%s)", i, s)}
		}
		h.AvailableDates[i] = t
	}

	// Orography record closes the header file.
	oro, err := readOro(rr, h.NumX, h.NumY, order, path)
	if err != nil {
		return nil, nil, err
	}
	oro.Attrs["outlon0"] = fmt.Sprintf("%g", h.OutLon0)
	oro.Attrs["outlat0"] = fmt.Sprintf("%g", h.OutLat0)
	oro.Attrs["dxout"] = fmt.Sprintf("%g", h.DxOut)
	oro.Attrs["dyout"] = fmt.Sprintf("%g", h.DyOut)
	return h, oro, nil
}

// Oro is the static terrain-height field for an output grid.
type Oro struct {
	// Data holds terrain height [m] with shape (lat, lon).
	Data *sparse.DenseArray
	// Attrs carries the CF-style descriptive metadata, always including
	// standard_name = "surface altitude".
	Attrs map[string]string
}

func readOro(rr *RecordReader, nx, ny int, order binary.ByteOrder, path string) (*Oro, error) {
	payload, err := rr.Read()
	if err != nil {
		return nil, err
	}
	if len(payload) != 4*nx*ny {
		return nil, HeaderFormatError{Path: path, Record: "orography",
			Reason: fmt.Sprintf("record is %d bytes, expected %d for a %d×%d grid",
				len(payload), 4*nx*ny, ny, nx)}
	}
	vals := decodeFloat32s(payload, order)
	data := sparse.ZerosDense(ny, nx)
	for i, v := range vals {
		data.Elements[i] = float64(v)
	}
	return &Oro{
		Data: data,
		Attrs: map[string]string{
			"standard_name": "surface altitude",
			"long_name":     "outgrid surface altitude",
			"units":         "m",
		},
	}, nil
}

// Longitudes returns the cell-center longitudes of the output grid.
func (h *Header) Longitudes() []float64 {
	out := make([]float64, h.NumX)
	for i := range out {
		out[i] = h.OutLon0 + (float64(i)+0.5)*h.DxOut
	}
	return out
}

// Latitudes returns the cell-center latitudes of the output grid.
func (h *Header) Latitudes() []float64 {
	out := make([]float64, h.NumY)
	for j := range out {
		out[j] = h.OutLat0 + (float64(j)+0.5)*h.DyOut
	}
	return out
}

// NestLongitudes returns the cell-center longitudes of the nested grid.
func (h *Header) NestLongitudes() []float64 {
	out := make([]float64, h.NestX)
	for i := range out {
		out[i] = h.NestLon0 + (float64(i)+0.5)*h.NestDx
	}
	return out
}

// NestLatitudes returns the cell-center latitudes of the nested grid.
func (h *Header) NestLatitudes() []float64 {
	out := make([]float64, h.NestY)
	for j := range out {
		out[j] = h.NestLat0 + (float64(j)+0.5)*h.NestDy
	}
	return out
}

// parseCompactDate converts the FLEXPART jjjjmmdd/ihmmss integer pair to a
// UTC time at whole-second resolution.
func parseCompactDate(jjjjmmdd, ihmmss int32) (time.Time, error) {
	return time.Parse("20060102 150405", fmt.Sprintf("%08d %06d", jjjjmmdd, ihmmss))
}

// compactDate is the inverse of parseCompactDate.
func compactDate(t time.Time) (jjjjmmdd, ihmmss int32) {
	jjjjmmdd = int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
	ihmmss = int32(t.Hour()*10000 + t.Minute()*100 + t.Second())
	return
}

// decodeFields decodes the leading bytes of payload into the fixed-size
// value data.
func decodeFields(payload []byte, order binary.ByteOrder, data interface{}) error {
	return binary.Read(bytes.NewReader(payload), order, data)
}
