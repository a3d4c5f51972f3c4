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

package airshed

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecords returns one daily record per concentration, with the given
// regimes repeating.
func testRecords(pollutant string, concs []float64, regimes ...Regime) []ClassifiedRecord {
	periods := Periods(timeAxis(testStart, 24*time.Hour, len(concs)), Daily)
	o := make([]ClassifiedRecord, len(concs))
	for i, c := range concs {
		o[i] = ClassifiedRecord{
			Period:           periods[i],
			Pollutant:        pollutant,
			Concentration:    c,
			HasConcentration: !math.IsNaN(c),
			Regime:           regimes[i%len(regimes)],
		}
	}
	return o
}

func TestDetectPercentile(t *testing.T) {
	ed := &EpisodeDetector{Percentile: 85}
	records := testRecords("NO2", []float64{3, 1, 9, 2, 10, 4, 5, 6, 7, 8}, Local)
	episodes := ed.Detect(records)

	require.Len(t, episodes, 2)
	assert.Equal(t, 9.0, episodes[0].Concentration)
	assert.Equal(t, 10.0, episodes[1].Concentration)
	assert.True(t, episodes[0].Period.Start.Before(episodes[1].Period.Start))
	assert.InDelta(t, 90, episodes[0].PercentileRank, 1.e-9)
	assert.InDelta(t, 100, episodes[1].PercentileRank, 1.e-9)
	for _, e := range episodes {
		assert.Equal(t, "NO2", e.Pollutant)
		assert.Nil(t, e.Trajectory)
	}
}

func TestDetectAbsolute(t *testing.T) {
	ed := &EpisodeDetector{
		Percentile: 95,
		Absolute:   map[string]float64{"NO2": 5},
	}
	records := append(
		testRecords("NO2", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, Local),
		testRecords("SO2", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, Local)...,
	)
	episodes := ed.Detect(records)

	var no2, so2 int
	for _, e := range episodes {
		switch e.Pollutant {
		case "NO2":
			no2++
			assert.True(t, e.Concentration >= 5)
		case "SO2":
			so2++
			assert.Equal(t, 100.0, e.Concentration)
		}
	}
	assert.Equal(t, 6, no2, "absolute threshold is inclusive")
	assert.Equal(t, 1, so2, "percentile threshold is per pollutant")
}

func TestDetectMissingConcentration(t *testing.T) {
	ed := &EpisodeDetector{Percentile: 75}
	nan := math.NaN()
	episodes := ed.Detect(testRecords("CO", []float64{nan, 1, nan, 3}, Local))
	require.Len(t, episodes, 1)
	assert.Equal(t, 3.0, episodes[0].Concentration)

	assert.Empty(t, ed.Detect(testRecords("CO", []float64{nan, nan}, Local)))

	_, err := ed.Threshold("CO", nil)
	assert.True(t, errors.Is(err, ErrNoValidData))
}

func TestDetectTrajectories(t *testing.T) {
	wind := uniformWind(t, 0, -5)
	in, err := NewIntegrator(wind, TrajectoryConfig{Step: time.Hour, Horizon: 12 * time.Hour})
	require.NoError(t, err)

	ed := &EpisodeDetector{
		Percentile: 50,
		Integrator: in,
		Seed:       geom.Point{X: 77, Y: 28},
		Workers:    3,
	}
	records := testRecords("NO2", []float64{1, 10, 11, 12}, Local, AdvectedNorth, Unclassified, Local)
	episodes := ed.Detect(records)

	require.Len(t, episodes, 3)
	assert.Equal(t, AdvectedNorth, episodes[0].Regime)
	require.NotNil(t, episodes[0].Trajectory)
	assert.False(t, episodes[0].Trajectory.Truncated)
	assert.Len(t, episodes[0].Trajectory.Points, 13)
	assert.True(t, episodes[0].Trajectory.Origin().Lat > 28, "trajectory should move upwind")

	assert.Equal(t, Unclassified, episodes[1].Regime)
	assert.Nil(t, episodes[1].Trajectory)
	assert.Equal(t, Local, episodes[2].Regime)
	assert.Nil(t, episodes[2].Trajectory)
}

func TestValidateSeasons(t *testing.T) {
	assert.NoError(t, ValidateSeasons(DefaultSeasons()))

	missing := DefaultSeasons()[:3]
	assert.True(t, errors.Is(ValidateSeasons(missing), ErrConfiguration))

	dup := DefaultSeasons()
	dup[0].Months = append(dup[0].Months, time.March)
	assert.True(t, errors.Is(ValidateSeasons(dup), ErrConfiguration))

	unnamed := DefaultSeasons()
	unnamed[1].Name = ""
	assert.True(t, errors.Is(ValidateSeasons(unnamed), ErrConfiguration))
}

func straightTrajectory(t0 time.Time, dLat float64, n int, truncated bool) *Trajectory {
	tr := &Trajectory{Truncated: truncated}
	for i := 0; i < n; i++ {
		age := time.Duration(i) * time.Hour
		tr.Points = append(tr.Points, TrajectoryPoint{
			Lon: 77, Lat: 28 + dLat*float64(i), Time: t0.Add(-age), Age: age,
		})
	}
	return tr
}

func TestSeasonalTrajectories(t *testing.T) {
	jan := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	nov := time.Date(2023, time.November, 10, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2023, time.July, 10, 0, 0, 0, 0, time.UTC)
	episodes := []SevereEpisode{
		{Period: Period{Time: jan}, Pollutant: "NO2", Regime: AdvectedNorth, Trajectory: straightTrajectory(jan, 0.1, 4, false)},
		{Period: Period{Time: nov}, Pollutant: "NO2", Regime: AdvectedWest, Trajectory: straightTrajectory(nov, 0, 4, false)},
		{Period: Period{Time: jan.Add(24 * time.Hour)}, Pollutant: "NO2", Regime: AdvectedNorth, Trajectory: straightTrajectory(jan, 0.3, 3, true)},
		{Period: Period{Time: jan}, Pollutant: "CO", Regime: AdvectedNorth, Trajectory: straightTrajectory(jan, 0.2, 4, false)},
		{Period: Period{Time: jul}, Pollutant: "NO2", Regime: Local},
	}
	st, err := SeasonalTrajectories(episodes, DefaultSeasons())
	require.NoError(t, err)

	require.Len(t, st, 3)
	assert.Equal(t, "winter", st[0].Season)
	assert.Equal(t, "CO", st[0].Pollutant)
	assert.Equal(t, 1, st[0].Episodes)

	assert.Equal(t, "winter", st[1].Season)
	assert.Equal(t, "NO2", st[1].Pollutant)
	assert.Equal(t, AdvectedNorth, st[1].Regime)
	assert.Equal(t, 2, st[1].Episodes)
	assert.True(t, st[1].Trajectory.Truncated)
	require.Len(t, st[1].Trajectory.Points, 3)
	assert.InDelta(t, 28.4, st[1].Trajectory.Points[2].Lat, 1.e-12)
	assert.Equal(t, 2*time.Hour, st[1].Trajectory.Points[2].Age)
	assert.True(t, st[1].Trajectory.Points[2].Time.Equal(jan.Add(-2*time.Hour)))

	assert.Equal(t, "post_monsoon", st[2].Season)
	assert.Equal(t, AdvectedWest, st[2].Regime)
	assert.False(t, st[2].Trajectory.Truncated)
}

func TestSeasonalTrajectoriesStepMismatch(t *testing.T) {
	jan := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)
	halfHourly := straightTrajectory(jan, 0.1, 3, false)
	for i := range halfHourly.Points {
		halfHourly.Points[i].Age /= 2
	}
	episodes := []SevereEpisode{
		{Period: Period{Time: jan}, Pollutant: "NO2", Regime: AdvectedNorth, Trajectory: straightTrajectory(jan, 0.1, 3, false)},
		{Period: Period{Time: jan}, Pollutant: "NO2", Regime: AdvectedNorth, Trajectory: halfHourly},
	}
	_, err := SeasonalTrajectories(episodes, DefaultSeasons())
	assert.True(t, errors.Is(err, ErrConfiguration), "%v", err)
}

func TestSummarize(t *testing.T) {
	nan := math.NaN()
	records := testRecords("NO2", []float64{2, 4, nan, 6, 8},
		Local, AdvectedEast, Unclassified, AdvectedSouth, Local)
	s := Summarize(records, DefaultSeasons())

	require.Len(t, s, 1)
	assert.Equal(t, "post_monsoon", s[0].Season)
	assert.Equal(t, 5, s[0].Records)
	assert.InDelta(t, 5, s[0].MeanConcentration, 1.e-12)
	assert.InDelta(t, 5, s[0].MeanLocal, 1.e-12)
	assert.InDelta(t, 5, s[0].MeanAdvected, 1.e-12)
	assert.InDelta(t, 0.5, s[0].LocalFraction, 1.e-12)
	assert.InDelta(t, 0.5, s[0].AdvectedFraction, 1.e-12)
	assert.InDelta(t, 0.2, s[0].UnclassifiedFraction, 1.e-12)

	s = Summarize(testRecords("CO", []float64{1}, Unclassified), DefaultSeasons())
	require.Len(t, s, 1)
	assert.Equal(t, 0.0, s[0].LocalFraction)
	assert.Equal(t, 1.0, s[0].UnclassifiedFraction)
	assert.True(t, math.IsNaN(s[0].MeanLocal))
}
