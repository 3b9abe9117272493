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
	"io"
)

// RecordReader decodes Fortran unformatted sequential records from a byte
// stream. Each record is framed as an int32 length marker, the payload, and
// a trailing int32 marker that must repeat the leading one. FLEXPART writes
// its raw output little-endian; the byte order is nevertheless an explicit
// parameter so that big-endian files can be read and so that tests can pin
// both orders.
type RecordReader struct {
	r      io.Reader
	path   string // for error reporting only
	order  binary.ByteOrder
	offset int64
}

// NewRecordReader returns a reader for the Fortran records in r. path is
// used in error messages. A nil order defaults to little-endian.
func NewRecordReader(r io.Reader, path string, order binary.ByteOrder) *RecordReader {
	if order == nil {
		order = binary.LittleEndian
	}
	return &RecordReader{r: r, path: path, order: order}
}

// Offset returns the stream position of the next record's leading marker.
func (rr *RecordReader) Offset() int64 { return rr.offset }

// Read returns the payload of the next record. A clean end of file yields
// an EndOfStreamError; a stream that ends inside a record, or a trailing
// marker that disagrees with the leading one, yields a CorruptRecordError.
func (rr *RecordReader) Read() ([]byte, error) {
	start := rr.offset
	var n int32
	if err := binary.Read(rr.r, rr.order, &n); err != nil {
		if err == io.EOF {
			return nil, EndOfStreamError{Path: rr.path, Offset: start}
		}
		return nil, CorruptRecordError{Path: rr.path, Offset: start, Expected: -1, Got: -1}
	}
	rr.offset += 4
	if n < 0 {
		return nil, CorruptRecordError{Path: rr.path, Offset: start, Expected: n, Got: n}
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(rr.r, payload); err != nil {
		return nil, CorruptRecordError{Path: rr.path, Offset: start, Expected: n, Got: -1}
	}
	rr.offset += int64(n)
	var check int32
	if err := binary.Read(rr.r, rr.order, &check); err != nil {
		return nil, CorruptRecordError{Path: rr.path, Offset: start, Expected: n, Got: -1}
	}
	rr.offset += 4
	if check != n {
		return nil, CorruptRecordError{Path: rr.path, Offset: start, Expected: n, Got: check}
	}
	return payload, nil
}

// ReadInto reads the next record and decodes its payload into data, which
// must be a fixed-size value or a slice of fixed-size values sized to
// consume the record exactly.
func (rr *RecordReader) ReadInto(data interface{}) error {
	start := rr.offset
	payload, err := rr.Read()
	if err != nil {
		return err
	}
	if want := binary.Size(data); want != len(payload) {
		return HeaderFormatError{
			Path:   rr.path,
			Record: "record",
			Reason: fmt.Sprintf("record at offset %d is %d bytes, expected %d", start, len(payload), want),
		}
	}
	return binary.Read(bytes.NewReader(payload), rr.order, data)
}

// decodeFloat32s interprets payload as a packed float32 array in the given
// byte order.
func decodeFloat32s(payload []byte, order binary.ByteOrder) []float32 {
	out := make([]float32, len(payload)/4)
	binary.Read(bytes.NewReader(payload), order, out)
	return out
}
