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

// Package reflexibleutil wraps the reflexible conversion core in a command
// line interface. Configuration resolution (flags, config file,
// environment) and logging live here; the core itself only returns errors.
package reflexibleutil

import (
	"fmt"
	"time"

	"github.com/Wooyme/reflexible"
	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var log = logrus.New()

var options = []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}{
	{
		name: "config",
		usage: `
              config specifies the configuration file location.`,
		defaultVal: "",
		flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
	},
	{
		name: "pathnames",
		usage: `
              pathnames specifies the manifest file listing the FLEXPART
              options directory and raw-output directory.`,
		shorthand:  "p",
		defaultVal: "pathnames",
		flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
	},
	{
		name: "nested",
		usage: `
              nested selects conversion of the nested sub-grid in addition
              to the main output grid.`,
		defaultVal: false,
		flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
	},
	{
		name: "wetdep",
		usage: `
              wetdep selects decoding of the wet deposition layers, if the
              run recorded them.`,
		defaultVal: true,
		flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
	},
	{
		name: "drydep",
		usage: `
              drydep selects decoding of the dry deposition layers, if the
              run recorded them.`,
		defaultVal: true,
		flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
	},
	{
		name: "outfile",
		usage: `
              outfile specifies the destination netCDF file.`,
		shorthand:  "o",
		defaultVal: "output.nc",
		flagsets:   []*pflag.FlagSet{convertCmd.Flags()},
	},
}

func init() {
	Cfg = viper.New()
	Root.AddCommand(convertCmd)
	for _, option := range options {
		for _, set := range option.flagsets {
			if set.Lookup(option.name) != nil {
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, v, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, v, option.usage)
				}
			case bool:
				set.Bool(option.name, v, option.usage)
			default:
				panic(fmt.Errorf("reflexibleutil: invalid default for option %s", option.name))
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

// Root is the base command for the reflexible tool.
var Root = &cobra.Command{
	Use:   "reflexible",
	Short: "reflexible converts FLEXPART raw output to netCDF.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile := cast.ToString(Cfg.Get("config")); cfgFile != "" {
			Cfg.SetConfigFile(cfgFile)
			if err := Cfg.ReadInConfig(); err != nil {
				return fmt.Errorf("reading configuration file %s: %v", cfgFile, err)
			}
		}
		return nil
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a FLEXPART run directory to a netCDF file.",
	Long: `convert reads the pathnames manifest, decodes the FLEXPART
header and per-timestep output files it points to, and writes a single
netCDF file with the grids, deposition layers and orography.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pathnames := cast.ToString(Cfg.Get("pathnames"))
		outfile := cast.ToString(Cfg.Get("outfile"))
		start := time.Now()
		ncPath, optionsDir, outputDir, err := reflexible.CreateNCFile(
			pathnames,
			cast.ToBool(Cfg.Get("nested")),
			cast.ToBool(Cfg.Get("wetdep")),
			cast.ToBool(Cfg.Get("drydep")),
			outfile,
		)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"ncfile":  ncPath,
			"options": optionsDir,
			"output":  outputDir,
			"elapsed": time.Since(start),
		}).Info("conversion finished")
		return nil
	},
}
