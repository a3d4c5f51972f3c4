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
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/spatialmodel/airshed"
)

// wgs84 is the spatial reference of all output shapefiles.
const wgs84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["Degree",0.017453292519943295]]`

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// writeCSV writes a header and rows to a new file.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Write(header)
	w.WriteAll(rows) // WriteAll flushes.
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeClassified(path string, res *airshed.Result) error {
	rows := make([][]string, len(res.Classified))
	for i, r := range res.Classified {
		conc := ""
		if r.HasConcentration {
			conc = formatFloat(r.Concentration)
		}
		rows[i] = []string{
			r.Pollutant,
			formatTime(r.Period.Start),
			formatTime(r.Period.End),
			conc,
			formatFloat(r.WindSpeed),
			formatFloat(r.WindDirection),
			r.Regime.String(),
		}
	}
	return writeCSV(path, []string{"pollutant", "period_start", "period_end",
		"concentration", "wind_speed", "wind_direction", "regime"}, rows)
}

func writeEpisodes(path string, res *airshed.Result) error {
	rows := make([][]string, len(res.Episodes))
	for i, e := range res.Episodes {
		row := []string{
			e.Pollutant,
			formatTime(e.Period.Start),
			formatFloat(e.Concentration),
			formatFloat(e.PercentileRank),
			e.Regime.String(),
			"", "", "", "", "",
		}
		if t := e.Trajectory; t != nil {
			o := t.Origin()
			row[5] = strconv.Itoa(len(t.Points))
			row[6] = strconv.FormatBool(t.Truncated)
			row[7] = formatFloat(o.Lon)
			row[8] = formatFloat(o.Lat)
			row[9] = formatFloat(t.DistanceKm())
		}
		rows[i] = row
	}
	return writeCSV(path, []string{"pollutant", "period_start", "concentration",
		"percentile_rank", "regime", "trajectory_points", "truncated",
		"origin_lon", "origin_lat", "distance_km"}, rows)
}

func writeSummaries(path string, res *airshed.Result) error {
	rows := make([][]string, len(res.Summaries))
	for i, s := range res.Summaries {
		rows[i] = []string{
			s.Season,
			s.Pollutant,
			strconv.Itoa(s.Records),
			formatFloat(s.MeanConcentration),
			formatFloat(s.MeanLocal),
			formatFloat(s.MeanAdvected),
			formatFloat(s.LocalFraction),
			formatFloat(s.AdvectedFraction),
			formatFloat(s.UnclassifiedFraction),
		}
	}
	return writeCSV(path, []string{"season", "pollutant", "records",
		"mean_concentration", "mean_local", "mean_advected",
		"local_fraction", "advected_fraction", "unclassified_fraction"}, rows)
}

// writePrj writes the spatial reference of shapefile shpPath.
func writePrj(shpPath string) error {
	f, err := os.Create(shpPath[:len(shpPath)-len(".shp")] + ".prj")
	if err != nil {
		return err
	}
	if _, err := f.WriteString(wgs84); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writeHotspots writes hotspot centroids as points. Shapefile field names
// are limited to 10 characters.
func writeHotspots(path string, res *airshed.Result) error {
	e, err := shp.NewEncoderFromFields(path, goshp.POINT,
		goshp.StringField("pollutant", 32),
		goshp.NumberField("cells", 8),
		goshp.FloatField("persist", 14, 8),
		goshp.FloatField("mean_conc", 20, 6),
		goshp.FloatField("max_conc", 20, 6),
		goshp.StringField("source", 64),
		goshp.StringField("category", 32),
		goshp.StringField("nearest", 64),
		goshp.FloatField("src_dist", 14, 4),
	)
	if err != nil {
		return err
	}
	for _, h := range res.Hotspots {
		var source, category, nearest string
		if h.Source != nil {
			source, category = h.Source.Name, h.Source.Category
		}
		if h.NearestSource != nil {
			nearest = h.NearestSource.Name
		}
		if err := e.EncodeFields(h.Centroid, h.Pollutant, len(h.Cells), h.Persistence,
			h.MeanConcentration, h.MaxConcentration, source, category, nearest,
			h.SourceDistanceKm); err != nil {
			e.Close()
			return err
		}
	}
	e.Close()
	return writePrj(path)
}

func polyline(t *airshed.Trajectory) geom.MultiLineString {
	return geom.MultiLineString{t.LineString()}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeTrajectories(path string, res *airshed.Result) error {
	e, err := shp.NewEncoderFromFields(path, goshp.POLYLINE,
		goshp.StringField("pollutant", 32),
		goshp.StringField("start", 25),
		goshp.StringField("regime", 16),
		goshp.FloatField("conc", 20, 6),
		goshp.NumberField("truncated", 1),
		goshp.FloatField("hours", 10, 2),
		goshp.FloatField("dist_km", 14, 4),
	)
	if err != nil {
		return err
	}
	for _, ep := range res.Episodes {
		t := ep.Trajectory
		if t == nil {
			continue
		}
		if err := e.EncodeFields(polyline(t), ep.Pollutant, formatTime(ep.Period.Start),
			ep.Regime.String(), ep.Concentration, boolToInt(t.Truncated),
			t.Duration().Hours(), t.DistanceKm()); err != nil {
			e.Close()
			return err
		}
	}
	e.Close()
	return writePrj(path)
}

func writeSeasonalTrajectories(path string, res *airshed.Result) error {
	e, err := shp.NewEncoderFromFields(path, goshp.POLYLINE,
		goshp.StringField("season", 32),
		goshp.StringField("pollutant", 32),
		goshp.StringField("regime", 16),
		goshp.NumberField("episodes", 8),
		goshp.NumberField("truncated", 1),
		goshp.FloatField("hours", 10, 2),
	)
	if err != nil {
		return err
	}
	for _, s := range res.Seasonal {
		if err := e.EncodeFields(polyline(s.Trajectory), s.Season, s.Pollutant,
			s.Regime.String(), s.Episodes, boolToInt(s.Trajectory.Truncated),
			s.Trajectory.Duration().Hours()); err != nil {
			e.Close()
			return err
		}
	}
	e.Close()
	return writePrj(path)
}
