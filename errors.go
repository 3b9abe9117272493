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
	"errors"
	"fmt"
)

// ErrNotComputed is returned when accessing a backward-run concentration
// grid before FillBackward has run for its release.
var ErrNotComputed = errors.New("reflexible: time-integrated field not yet computed")

// CorruptRecordError indicates a Fortran record whose trailing length
// marker does not match its leading one, or a record truncated mid-payload.
type CorruptRecordError struct {
	Path     string
	Offset   int64 // file offset of the leading length marker
	Expected int32
	Got      int32
}

func (e CorruptRecordError) Error() string {
	return fmt.Sprintf("reflexible: corrupt record in %s at offset %d: leading length %d, trailing length %d",
		e.Path, e.Offset, e.Expected, e.Got)
}

// EndOfStreamError indicates a clean end of file: the stream ended exactly
// on a record boundary. Callers use record position to distinguish an
// expected EOF from a short file.
type EndOfStreamError struct {
	Path   string
	Offset int64
}

func (e EndOfStreamError) Error() string {
	return fmt.Sprintf("reflexible: end of stream in %s at offset %d", e.Path, e.Offset)
}

// HeaderFormatError indicates a header or data record that is structurally
// intact but violates the format contract: wrong size for the declared
// counts, non-increasing timestamps, an unknown direction code, and so on.
type HeaderFormatError struct {
	Path   string
	Record string // which record violated the contract
	Reason string
}

func (e HeaderFormatError) Error() string {
	return fmt.Sprintf("reflexible: bad %s record in %s: %s", e.Record, e.Path, e.Reason)
}

// MissingInputError indicates that the pathnames manifest or the header
// availability list references a file or directory that does not exist.
type MissingInputError struct {
	Path string
}

func (e MissingInputError) Error() string {
	return fmt.Sprintf("reflexible: missing input %s", e.Path)
}

// WriteFailureError indicates that the destination netCDF file could not be
// created, written, or renamed into place.
type WriteFailureError struct {
	Path string
	Err  error
}

func (e WriteFailureError) Error() string {
	return fmt.Sprintf("reflexible: writing %s: %v", e.Path, e.Err)
}

func (e WriteFailureError) Unwrap() error { return e.Err }
