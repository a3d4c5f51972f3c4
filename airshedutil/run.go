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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/airshed"
	"github.com/spatialmodel/airshed/internal/observability"
	"github.com/spf13/cobra"
)

// Output file names, relative to the output directory.
const (
	ClassifiedFile           = "classified.csv"
	EpisodesFile             = "episodes.csv"
	SummaryFile              = "summary.csv"
	HotspotsFile             = "hotspots.shp"
	TrajectoriesFile         = "trajectories.shp"
	SeasonalTrajectoriesFile = "seasonal_trajectories.shp"
)

// readGridField reads a gridded field from the netCDF file at path.
func readGridField(path string) (*airshed.GridField, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("airshed: problem loading input data: %v", err)
	}
	defer f.Close()
	g, err := airshed.ReadGridField(f)
	if err != nil {
		return nil, fmt.Errorf("airshed: problem loading input data from %s: %v", path, err)
	}
	return g, nil
}

// Run runs an analysis.
//
// CobraCommand is the cobra.Command instance where Run is called from.
// Log messages are written to its output as well as to LogFile.
//
// OutputDir is the directory where output files are written.
//
// If MetricsFile is not empty, run metrics are written to it in the
// Prometheus text format.
//
// WindData is the path to the netCDF file holding wind components, and
// PollutantData holds the paths to the pollutant netCDF files keyed by
// pollutant name.
func Run(CobraCommand *cobra.Command, LogFile, OutputDir, MetricsFile, WindData string,
	PollutantData map[string]string, cfg *airshed.Config) error {

	logfile, err := os.Create(LogFile)
	if err != nil {
		return fmt.Errorf("airshed: problem creating log file: %v", err)
	}
	defer logfile.Close()
	log := logrus.New()
	log.Out = io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	log.Formatter = logrus.StandardLogger().Formatter
	log.Level = logrus.GetLevel()

	log.WithField("file", WindData).Info("reading wind data")
	wind, err := readGridField(WindData)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(PollutantData))
	for pol := range PollutantData {
		names = append(names, pol)
	}
	sort.Strings(names)
	pollutants := make(map[string]*airshed.GridField, len(names))
	for _, pol := range names {
		log.WithFields(logrus.Fields{"pollutant": pol, "file": PollutantData[pol]}).Info("reading pollutant data")
		if pollutants[pol], err = readGridField(PollutantData[pol]); err != nil {
			return err
		}
	}

	a, err := airshed.NewAnalysis(*cfg)
	if err != nil {
		return err
	}
	a.Log = log
	var reg *prometheus.Registry
	if MetricsFile != "" {
		reg = prometheus.NewRegistry()
		a.Metrics = observability.NewMetrics(reg)
	}

	res, err := a.Run(pollutants, wind)
	if err != nil {
		return err
	}

	log.WithField("dir", OutputDir).Info("writing output")
	if err := writeOutput(OutputDir, res); err != nil {
		return err
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(MetricsFile, reg); err != nil {
			return fmt.Errorf("airshed: writing metrics: %v", err)
		}
	}
	log.WithFields(logrus.Fields{"run_id": res.RunID, "config": res.ConfigHash}).Info("done")
	return nil
}

// writeOutput writes all of the results in res to dir.
func writeOutput(dir string, res *airshed.Result) error {
	writers := []struct {
		file  string
		write func(string, *airshed.Result) error
	}{
		{ClassifiedFile, writeClassified},
		{EpisodesFile, writeEpisodes},
		{SummaryFile, writeSummaries},
		{HotspotsFile, writeHotspots},
		{TrajectoriesFile, writeTrajectories},
		{SeasonalTrajectoriesFile, writeSeasonalTrajectories},
	}
	for _, w := range writers {
		if err := w.write(filepath.Join(dir, w.file), res); err != nil {
			return fmt.Errorf("airshed: writing %s: %v", w.file, err)
		}
	}
	return nil
}
