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

package airshedutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/geom"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/airshed"
	"github.com/spf13/cast"
)

// AnalysisConfig unmarshals a viper configuration for an analysis and
// validates it.
func AnalysisConfig(cfg *viper.Viper) (*airshed.Config, error) {
	seasons, err := parseSeasons(cfg.GetStringSlice("Seasons"))
	if err != nil {
		return nil, err
	}
	absolute, err := getStringMapFloat64("SeverityAbsolute", cfg)
	if err != nil {
		return nil, err
	}
	sources, err := knownSources(cfg)
	if err != nil {
		return nil, err
	}
	c := airshed.Config{
		SpeedThreshold:        cfg.GetFloat64("SpeedThreshold"),
		SeverityPercentile:    cfg.GetFloat64("SeverityPercentile"),
		SeverityAbsolute:      absolute,
		TrajectoryStep:        cfg.GetDuration("TrajectoryStep"),
		TrajectoryHorizon:     cfg.GetDuration("TrajectoryHorizon"),
		IntegrationScheme:     strings.ToLower(cfg.GetString("IntegrationScheme")),
		Seasons:               seasons,
		HotspotExceedanceRule: cfg.GetString("HotspotExceedanceRule"),
		HotspotStdMultiple:    cfg.GetFloat64("HotspotStdMultiple"),
		HotspotMinPersistence: cfg.GetFloat64("HotspotMinPersistence"),
		HotspotNeighborRadius: cfg.GetInt("HotspotNeighborRadius"),
		SourceMatchRadiusKm:   cfg.GetFloat64("SourceMatchRadiusKm"),
		KnownSources:          sources,
		ReferencePoint:        geom.Point{X: cfg.GetFloat64("ReferenceLon"), Y: cfg.GetFloat64("ReferenceLat")},
		ReferenceRadius:       cfg.GetFloat64("ReferenceRadius"),
		PeriodResolution:      strings.ToLower(cfg.GetString("PeriodResolution")),
		ConcentrationChannel:  cfg.GetString("ConcentrationChannel"),
		UChannel:              cfg.GetString("UChannel"),
		VChannel:              cfg.GetString("VChannel"),
		Workers:               cfg.GetInt("Workers"),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// formatSeasons formats seasons as "name:month month ..." strings.
func formatSeasons(seasons []airshed.Season) []string {
	o := make([]string, len(seasons))
	for i, s := range seasons {
		months := make([]string, len(s.Months))
		for j, m := range s.Months {
			months[j] = strconv.Itoa(int(m))
		}
		o[i] = s.Name + ":" + strings.Join(months, " ")
	}
	return o
}

// parseSeasons parses seasons in the format created by formatSeasons.
func parseSeasons(s []string) ([]airshed.Season, error) {
	o := make([]airshed.Season, len(s))
	for i, ss := range s {
		name, months, ok := strings.Cut(ss, ":")
		if !ok {
			return nil, fmt.Errorf("airshed: invalid season %q; the format is 'name:month month ...'", ss)
		}
		o[i].Name = strings.TrimSpace(name)
		for _, m := range strings.Fields(months) {
			v, err := cast.ToIntE(m)
			if err != nil {
				return nil, fmt.Errorf("airshed: invalid month in season %q: %v", ss, err)
			}
			o[i].Months = append(o[i].Months, time.Month(v))
		}
	}
	return o, nil
}

// knownSourceFile is the format of a TOML known source registry.
type knownSourceFile struct {
	Sources []airshed.KnownSource `toml:"source"`
}

// LoadKnownSources reads a known source registry from a TOML file with
// one [[source]] table per source.
func LoadKnownSources(path string) ([]airshed.KnownSource, error) {
	var f knownSourceFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("airshed: reading known sources: %v", err)
	}
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("airshed: no sources in known sources file %s", path)
	}
	return f.Sources, nil
}

// knownSources returns the known sources specified in cfg, or the
// default sources if no file is specified.
func knownSources(cfg *viper.Viper) ([]airshed.KnownSource, error) {
	path := os.ExpandEnv(cfg.GetString("KnownSourcesFile"))
	if path == "" {
		return airshed.DefaultKnownSources(), nil
	}
	return LoadKnownSources(path)
}

// pollutantFiles returns the pollutant data file paths in cfg, with
// environment variables expanded.
func pollutantFiles(cfg *viper.Viper) (map[string]string, error) {
	files, err := GetStringMapString("PollutantData", cfg)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("airshed: there are no pollutant files specified. Please fill in " +
			"the PollutantData configuration and try again")
	}
	o := make(map[string]string, len(files))
	for k, v := range files {
		o[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return o, nil
}

// checkOutputDir expands any environment variables in the output directory
// and makes sure that it exists.
func checkOutputDir(d string) (string, error) {
	if d == "" {
		return "", fmt.Errorf(`airshed: you need to specify an output directory configuration variable (for example: OutputDir="output")`)
	}
	d = os.ExpandEnv(d)
	info, err := os.Stat(d)
	if err != nil {
		return d, fmt.Errorf("airshed: the OutputDir directory doesn't exist: %v", err)
	}
	if !info.IsDir() {
		return d, fmt.Errorf("airshed: OutputDir %s is not a directory", d)
	}
	return d, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputDir string) string {
	if logFile == "" {
		logFile = filepath.Join(outputDir, "airshed.log")
	}
	return logFile
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(bytes.NewBufferString(v))
		if err := d.Decode(&o); err != nil {
			return nil, fmt.Errorf("airshed: parsing configuration variable %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("airshed: invalid type for configuration variable %s: %#v", varName, i)
	}
}

// getStringMapFloat64 returns a map[string]float64 from a viper
// configuration, which might be a json object if it was set from a
// command line argument.
func getStringMapFloat64(varName string, cfg *viper.Viper) (map[string]float64, error) {
	i := cfg.Get(varName)
	o := make(map[string]float64)
	switch v := i.(type) {
	case nil:
		return o, nil
	case map[string]interface{}:
		for k, val := range v {
			f, err := cast.ToFloat64E(val)
			if err != nil {
				return nil, fmt.Errorf("airshed: configuration variable %s.%s: %v", varName, k, err)
			}
			o[k] = f
		}
		return o, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, fmt.Errorf("airshed: parsing configuration variable %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("airshed: invalid type for configuration variable %s: %#v", varName, i)
	}
}
