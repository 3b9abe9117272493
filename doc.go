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

// Package reflexible converts the raw Fortran-record binary output of the
// FLEXPART atmospheric dispersion model into netCDF files and into typed
// in-memory grid objects.
//
// A FLEXPART run directory holds a binary header file describing the
// output grid, the species and release-point tables and the available
// output timestamps, followed by one binary file per output timestamp with
// the gridded fields: concentration snapshots for forward runs,
// source-sensitivity footprints for backward runs, and optional wet and
// dry deposition layers. CreateNCFile drives the full conversion from a
// pathnames manifest to a netCDF file; Convert returns the decoded Dataset
// for programmatic use without writing anything to disk.
package reflexible
