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
	"bufio"
	"context"
	"encoding/binary"
	"os"
	"strings"
)

// ConvertOptions controls a conversion run.
type ConvertOptions struct {
	// Nested selects decoding of the nested sub-grid (header_nest and
	// grid_*_nest_ files) in addition to the main grid.
	Nested bool
	// WetDep and DryDep select decoding of the deposition layers. They
	// are intersected with the header's own deposition flags: a layer the
	// run never wrote cannot be requested into existence.
	WetDep, DryDep bool
	// IntegrateAllLevels sums all vertical levels into the backward
	// time-integrated field instead of only level 0.
	IntegrateAllLevels bool
	// ByteOrder of the raw files; nil means little-endian.
	ByteOrder binary.ByteOrder
}

// ReadPathnames parses a pathnames manifest: a line-oriented text file
// whose first non-blank, non-comment line is the options directory and
// whose second is the raw-output directory. Both must exist.
func ReadPathnames(path string) (optionsDir, outputDir string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", MissingInputError{Path: path}
	}
	defer f.Close()
	var fields []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields = append(fields, line)
		if len(fields) == 2 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if len(fields) < 2 {
		return "", "", HeaderFormatError{Path: path, Record: "pathnames",
			Reason: "manifest must list an options directory and an output directory"}
	}
	optionsDir, outputDir = fields[0], fields[1]
	for _, dir := range []string{optionsDir, outputDir} {
		if _, err := os.Stat(dir); err != nil {
			return "", "", MissingInputError{Path: dir}
		}
	}
	return optionsDir, outputDir, nil
}

// Convert parses the pathnames manifest and decodes the FLEXPART dataset
// it points to, returning the in-memory result together with the options
// and output directories the data came from.
func Convert(pathnames string, opts ConvertOptions) (*Dataset, string, string, error) {
	return ConvertContext(context.Background(), pathnames, opts)
}

// ConvertContext is Convert with cancellation. Cancellation aborts the
// conversion between decode units; a partially built dataset is never
// returned.
func ConvertContext(ctx context.Context, pathnames string, opts ConvertOptions) (*Dataset, string, string, error) {
	optionsDir, outputDir, err := ReadPathnames(pathnames)
	if err != nil {
		return nil, "", "", err
	}

	h, oro, oroNest, err := ReadHeader(outputDir, opts.Nested, opts.ByteOrder)
	if err != nil {
		return nil, "", "", err
	}
	wetdep := opts.WetDep && h.WetDep
	drydep := opts.DryDep && h.DryDep

	fd, err := readFields(ctx, h, outputDir, wetdep, drydep, false, opts.ByteOrder)
	if err != nil {
		return nil, "", "", err
	}
	d := &Dataset{
		Header: h,
		FD:     fd,
		C:      fillConcentrations(h, fd, opts.IntegrateAllLevels),
		ORO:    oro,
	}
	if opts.Nested {
		d.FDNest, err = readFields(ctx, h, outputDir, wetdep, drydep, true, opts.ByteOrder)
		if err != nil {
			return nil, "", "", err
		}
		d.ORONest = oroNest
	}
	if err := ctx.Err(); err != nil {
		return nil, "", "", err
	}
	return d, optionsDir, outputDir, nil
}

// CreateNCFile converts the FLEXPART dataset referenced by the pathnames
// manifest into a netCDF file at outfile. It returns the path of the
// written file and the options and output directories the data was read
// from. Any failure aborts the whole conversion with a single tagged error
// and leaves no file at outfile.
func CreateNCFile(pathnames string, nested, wetdep, drydep bool, outfile string) (ncPath, optionsDir, outputDir string, err error) {
	opts := ConvertOptions{Nested: nested, WetDep: wetdep, DryDep: drydep}
	d, optionsDir, outputDir, err := Convert(pathnames, opts)
	if err != nil {
		return "", "", "", err
	}
	if err := d.WriteNCFile(outfile, wetdep && d.Header.WetDep, drydep && d.Header.DryDep); err != nil {
		return "", "", "", err
	}
	return outfile, optionsDir, outputDir, nil
}
