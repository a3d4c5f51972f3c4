/*
Copyright © 2024 the AirShed authors.
This file is part of AirShed.

AirShed is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AirShed is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AirShed.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package airshedutil contains the command-line interface for AirShed.
package airshedutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/airshed"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	def := airshed.DefaultConfig()

	// Options are the configuration options available to AirShed.
	options = []struct {
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
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages to report:
              one of debug, info, warning, or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "WindData",
			usage: `
              WindData is the path to the netCDF file holding the gridded
              eastward and northward wind components. The path can include
              environment variables.`,
			shorthand:  "w",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "PollutantData",
			usage: `
              PollutantData gives the paths to the netCDF files holding gridded
              concentrations (as values), keyed by pollutant name. The paths can
              include environment variables.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory where output tables and shapefiles
              are written. It must already exist.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. It can include
              environment variables. If LogFile is left blank, the logfile will be saved
              in OutputDir.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "MetricsFile",
			usage: `
              MetricsFile, if specified, is the path where run metrics are
              written in the Prometheus text format.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "KnownSourcesFile",
			usage: `
              KnownSourcesFile is the path to a TOML file listing known emission
              sources. If it is blank, sources in and around Delhi are used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), sourcesCmd.Flags()},
		},
		{
			name: "SpeedThreshold",
			usage: `
              SpeedThreshold is the mean wind speed (m/s) at or below which a
              period is considered to be dominated by local sources.`,
			defaultVal: def.SpeedThreshold,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SeverityPercentile",
			usage: `
              SeverityPercentile is the percentile of each pollutant's
              concentrations at or above which a period is a severe episode.`,
			defaultVal: def.SeverityPercentile,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SeverityAbsolute",
			usage: `
              SeverityAbsolute gives fixed severe episode thresholds, keyed by
              pollutant. They override SeverityPercentile.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TrajectoryStep",
			usage: `
              TrajectoryStep is the back-trajectory integration time step.`,
			defaultVal: def.TrajectoryStep,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TrajectoryHorizon",
			usage: `
              TrajectoryHorizon is how far back in time back-trajectories are
              calculated.`,
			defaultVal: def.TrajectoryHorizon,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "IntegrationScheme",
			usage: `
              IntegrationScheme is the back-trajectory integration scheme,
              either euler or rk2.`,
			defaultVal: def.IntegrationScheme,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "PeriodResolution",
			usage: `
              PeriodResolution is the length of the periods that are classified,
              either daily or monthly.`,
			defaultVal: def.PeriodResolution,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Seasons",
			usage: `
              Seasons lists the seasons used to group results, each as the
              season name followed by a colon and its space-separated month
              numbers. Every month must belong to exactly one season.`,
			defaultVal: formatSeasons(def.Seasons),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "HotspotExceedanceRule",
			usage: `
              HotspotExceedanceRule is the expression giving each grid cell's
              exceedance threshold. It can use the variables mean, std, k,
              domain_mean, and domain_std.`,
			defaultVal: def.HotspotExceedanceRule,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "HotspotStdMultiple",
			usage: `
              HotspotStdMultiple is the value of k in HotspotExceedanceRule.`,
			defaultVal: def.HotspotStdMultiple,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "HotspotMinPersistence",
			usage: `
              HotspotMinPersistence is the fraction of time steps that a grid
              cell must exceed its threshold in to be part of a hotspot.`,
			defaultVal: def.HotspotMinPersistence,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "HotspotNeighborRadius",
			usage: `
              HotspotNeighborRadius is the distance, in grid cells, within which
              hotspot cells are joined together.`,
			defaultVal: def.HotspotNeighborRadius,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SourceMatchRadiusKm",
			usage: `
              SourceMatchRadiusKm is the maximum distance (km) between a hotspot
              and a known source for the source to be attributed to it.`,
			defaultVal: def.SourceMatchRadiusKm,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReferenceLon",
			usage: `
              ReferenceLon is the longitude where wind is sampled and
              back-trajectories start.`,
			defaultVal: def.ReferencePoint.X,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReferenceLat",
			usage: `
              ReferenceLat is the latitude where wind is sampled and
              back-trajectories start.`,
			defaultVal: def.ReferencePoint.Y,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReferenceRadius",
			usage: `
              ReferenceRadius is the half-width, in degrees, of the region
              around the reference point that wind is averaged over.`,
			defaultVal: def.ReferenceRadius,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ConcentrationChannel",
			usage: `
              ConcentrationChannel is the name of the concentration variable in
              the pollutant files.`,
			defaultVal: def.ConcentrationChannel,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "UChannel",
			usage: `
              UChannel is the name of the eastward wind variable in WindData.`,
			defaultVal: def.UChannel,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "VChannel",
			usage: `
              VChannel is the name of the northward wind variable in WindData.`,
			defaultVal: def.VChannel,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of concurrent workers. If < 1, the number
              of available processors is used.`,
			defaultVal: def.Workers,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("AIRSHED")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case time.Duration:
				set.DurationP(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(sourcesCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("airshed: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("airshed: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	})
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "airshed",
	Short: "Attribute air pollution to local and transported sources.",
	Long: `AirShed classifies periods of gridded air pollution data as dominated by
local sources or by transport from outside of the region, traces severe
pollution episodes back to their origins, and finds persistent hotspots.
Use the subcommands specified below to access the functionality.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'AIRSHED_var' where 'var' is the
name of the variable to be set. Paths are additionally allowed to contain
environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of AirShed.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("AirShed v%s\n", airshed.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd is a command that runs an analysis.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an analysis.",
	Long: `run classifies each period in the wind and pollutant data as local or
advected, calculates back-trajectories for severe pollution episodes, detects
pollution hotspots, and writes the results to OutputDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := AnalysisConfig(Cfg)
		if err != nil {
			return err
		}
		pollutants, err := pollutantFiles(Cfg)
		if err != nil {
			return err
		}
		outputDir, err := checkOutputDir(Cfg.GetString("OutputDir"))
		if err != nil {
			return err
		}
		windFile := os.ExpandEnv(Cfg.GetString("WindData"))
		if windFile == "" {
			return fmt.Errorf("airshed: you need to specify the WindData configuration variable")
		}
		return Run(
			cmd,
			checkLogFile(os.ExpandEnv(Cfg.GetString("LogFile")), outputDir),
			outputDir,
			os.ExpandEnv(Cfg.GetString("MetricsFile")),
			windFile,
			pollutants,
			cfg,
		)
	},
	DisableAutoGenTag: true,
}

// sourcesCmd prints the known emission sources.
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Print the known emission sources.",
	Long: `sources prints the known emission sources that hotspots are matched
against, as read from KnownSourcesFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := knownSources(Cfg)
		if err != nil {
			return err
		}
		cmd.Printf("%-24s %-24s %10s %10s\n", "Name", "Category", "Lon", "Lat")
		for _, s := range sources {
			cmd.Printf("%-24s %-24s %10.4f %10.4f\n", s.Name, s.Category, s.Lon, s.Lat)
		}
		return nil
	},
	DisableAutoGenTag: true,
}
