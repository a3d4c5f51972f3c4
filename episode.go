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
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ctessum/geom"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// ClassifiedRecord is the classification of one pollutant during one
// analysis period.
type ClassifiedRecord struct {
	Period    Period
	Pollutant string

	// Concentration is the domain-mean concentration during the period.
	// It is only meaningful if HasConcentration is true.
	Concentration    float64
	HasConcentration bool

	WindSpeed, WindDirection float64
	Regime                   Regime
}

// SevereEpisode is a period with an extreme concentration of a
// pollutant.
type SevereEpisode struct {
	Period        Period
	Pollutant     string
	Concentration float64

	// PercentileRank is the percentage of the pollutant's valid periods
	// with concentrations at or below this one.
	PercentileRank float64

	Regime Regime

	// Trajectory is the back-trajectory of air arriving at the reference
	// point at the end of the period. It is nil for episodes that are
	// not advected.
	Trajectory *Trajectory
}

// Season is a named set of calendar months.
type Season struct {
	Name   string       `validate:"required"`
	Months []time.Month `validate:"required,dive,min=1,max=12"`
}

// ValidateSeasons checks that every calendar month belongs to exactly
// one season.
func ValidateSeasons(seasons []Season) error {
	seen := make(map[time.Month]string)
	for _, s := range seasons {
		if s.Name == "" {
			return fmt.Errorf("airshed: season with months %v has no name: %w", s.Months, ErrConfiguration)
		}
		for _, m := range s.Months {
			if m < time.January || m > time.December {
				return fmt.Errorf("airshed: season %s has invalid month %d: %w", s.Name, m, ErrConfiguration)
			}
			if other, ok := seen[m]; ok {
				return fmt.Errorf("airshed: month %v is in seasons %s and %s: %w", m, other, s.Name, ErrConfiguration)
			}
			seen[m] = s.Name
		}
	}
	if len(seen) != 12 {
		return fmt.Errorf("airshed: seasons cover %d of 12 months: %w", len(seen), ErrConfiguration)
	}
	return nil
}

// seasonIndex returns the index of the season containing t, or -1.
func seasonIndex(seasons []Season, t time.Time) int {
	m := t.UTC().Month()
	for i, s := range seasons {
		for _, sm := range s.Months {
			if sm == m {
				return i
			}
		}
	}
	return -1
}

// EpisodeDetector finds severe pollution episodes and calculates
// back-trajectories for the advected ones.
type EpisodeDetector struct {
	// Percentile is the percentile, in (0, 100], of a pollutant's own
	// series at or above which a period is severe.
	Percentile float64

	// Absolute holds fixed severity thresholds by pollutant. Where
	// present, they take precedence over Percentile.
	Absolute map[string]float64

	Integrator *Integrator

	// Seed is the location trajectories are calculated from.
	Seed geom.Point

	// Workers is the number of trajectories to calculate concurrently.
	// If zero, runtime.GOMAXPROCS(0) is used.
	Workers int

	Log logrus.FieldLogger
}

// Threshold returns the severity threshold for pollutant given the
// valid concentrations in its series.
func (ed *EpisodeDetector) Threshold(pollutant string, sorted []float64) (float64, error) {
	if th, ok := ed.Absolute[pollutant]; ok {
		return th, nil
	}
	if len(sorted) == 0 {
		return math.NaN(), fmt.Errorf("airshed: severity threshold for %s: %w", pollutant, ErrNoValidData)
	}
	return stat.Quantile(ed.Percentile/100, stat.Empirical, sorted, nil), nil
}

// Detect returns the severe episodes among records, in the same order as
// records. Records may hold more than one pollutant; each pollutant's
// severity threshold is calculated from its own records.
func (ed *EpisodeDetector) Detect(records []ClassifiedRecord) []SevereEpisode {
	log := ed.log()
	series := make(map[string][]float64)
	for _, r := range records {
		if r.HasConcentration {
			series[r.Pollutant] = append(series[r.Pollutant], r.Concentration)
		}
	}
	thresholds := make(map[string]float64)
	for pol, s := range series {
		sort.Float64s(s)
		th, err := ed.Threshold(pol, s)
		if err != nil {
			log.WithField("pollutant", pol).Warn(err)
			continue
		}
		thresholds[pol] = th
		log.WithFields(logrus.Fields{"pollutant": pol, "threshold": th}).Debug("severity threshold")
	}

	var episodes []SevereEpisode
	for _, r := range records {
		th, ok := thresholds[r.Pollutant]
		if !ok || !r.HasConcentration || r.Concentration < th {
			continue
		}
		episodes = append(episodes, SevereEpisode{
			Period:         r.Period,
			Pollutant:      r.Pollutant,
			Concentration:  r.Concentration,
			PercentileRank: 100 * stat.CDF(r.Concentration, stat.Empirical, series[r.Pollutant], nil),
			Regime:         r.Regime,
		})
	}
	ed.trajectories(episodes)
	return episodes
}

// trajectories concurrently calculates back-trajectories for the
// advected episodes.
func (ed *EpisodeDetector) trajectories(episodes []SevereEpisode) {
	if ed.Integrator == nil {
		return
	}
	nprocs := ed.Workers
	if nprocs <= 0 {
		nprocs = runtime.GOMAXPROCS(0)
	}
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			for ii := pp; ii < len(episodes); ii += nprocs {
				e := &episodes[ii]
				if !e.Regime.IsAdvected() {
					continue
				}
				e.Trajectory = ed.Integrator.BackTrajectory(ed.Seed, e.Period.Time)
			}
			wg.Done()
		}(pp)
	}
	wg.Wait()

	for _, e := range episodes {
		if e.Trajectory != nil && e.Trajectory.Truncated {
			ed.log().WithFields(logrus.Fields{
				"pollutant": e.Pollutant,
				"period":    e.Period,
				"points":    len(e.Trajectory.Points),
			}).Debug("truncated trajectory")
		}
	}
}

func (ed *EpisodeDetector) log() logrus.FieldLogger {
	if ed.Log == nil {
		return logrus.StandardLogger()
	}
	return ed.Log
}

// SeasonalTrajectory is the average of the trajectories of the severe
// episodes of one pollutant and regime within a season.
type SeasonalTrajectory struct {
	Season    string
	Pollutant string
	Regime    Regime

	// Episodes is the number of trajectories averaged.
	Episodes int

	// Trajectory is the pointwise mean of the contributing trajectories,
	// truncated to the shortest. Corresponding points share an Age, and
	// each point's Time is the mean of the contributing timestamps. It is
	// marked truncated if any contributing trajectory was.
	Trajectory *Trajectory
}

type seasonalKey struct {
	season    int
	pollutant string
	regime    Regime
}

// SeasonalTrajectories groups the episodes that have trajectories by
// season, pollutant and regime and averages the trajectories in each
// group. The results are ordered by season, then pollutant, then regime.
// Episodes in months not covered by seasons are ignored. It returns an
// error if the trajectories in a group have different step sizes.
func SeasonalTrajectories(episodes []SevereEpisode, seasons []Season) ([]SeasonalTrajectory, error) {
	groups := make(map[seasonalKey][]*Trajectory)
	var keys []seasonalKey
	for _, e := range episodes {
		if e.Trajectory == nil {
			continue
		}
		si := seasonIndex(seasons, e.Period.Time)
		if si < 0 {
			continue
		}
		k := seasonalKey{season: si, pollutant: e.Pollutant, regime: e.Regime}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], e.Trajectory)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.season != b.season {
			return a.season < b.season
		}
		if a.pollutant != b.pollutant {
			return a.pollutant < b.pollutant
		}
		return a.regime < b.regime
	})

	o := make([]SeasonalTrajectory, len(keys))
	for i, k := range keys {
		mean, err := MeanTrajectory(groups[k])
		if err != nil {
			return nil, fmt.Errorf("airshed: %s %s %v trajectories: %w", seasons[k.season].Name, k.pollutant, k.regime, err)
		}
		o[i] = SeasonalTrajectory{
			Season:     seasons[k.season].Name,
			Pollutant:  k.pollutant,
			Regime:     k.regime,
			Episodes:   len(groups[k]),
			Trajectory: mean,
		}
	}
	return o, nil
}

// MeanTrajectory returns the pointwise mean of trajs. Trajectories are
// truncated to the length of the shortest before averaging. It returns an
// error wrapping ErrConfiguration if the trajectories were calculated with
// different step sizes, and nil if trajs is empty.
func MeanTrajectory(trajs []*Trajectory) (*Trajectory, error) {
	if len(trajs) == 0 {
		return nil, nil
	}
	n := len(trajs[0].Points)
	truncated := false
	var step time.Duration // zero until a trajectory with a step is seen
	for _, t := range trajs {
		if len(t.Points) < n {
			n = len(t.Points)
		}
		truncated = truncated || t.Truncated
		if len(t.Points) < 2 {
			continue
		}
		if s := t.Points[1].Age - t.Points[0].Age; step == 0 {
			step = s
		} else if s != step {
			return nil, fmt.Errorf("airshed: cannot average trajectories with steps %v and %v: %w", step, s, ErrConfiguration)
		}
	}
	o := &Trajectory{Points: make([]TrajectoryPoint, n), Truncated: truncated}
	w := 1 / float64(len(trajs))
	for i := range o.Points {
		p := &o.Points[i]
		p.Age = trajs[0].Points[i].Age
		ref := trajs[0].Points[i].Time
		var offset float64 // seconds from ref
		for _, t := range trajs {
			p.Lon += t.Points[i].Lon * w
			p.Lat += t.Points[i].Lat * w
			offset += t.Points[i].Time.Sub(ref).Seconds() * w
		}
		p.Time = ref.Add(time.Duration(math.Round(offset * float64(time.Second))))
	}
	return o, nil
}

// RegimeSummary summarizes the classified records of one pollutant
// within one season.
type RegimeSummary struct {
	Season    string
	Pollutant string

	// Records is the number of classified periods.
	Records int

	// MeanConcentration is the mean concentration over periods with
	// concentration data. MeanLocal and MeanAdvected are the same
	// restricted to Local and advected periods. They are NaN when there
	// are no such periods.
	MeanConcentration, MeanLocal, MeanAdvected float64

	// LocalFraction and AdvectedFraction are the fractions of classified
	// periods that are Local or advected. Unclassified periods are
	// excluded from them. UnclassifiedFraction is the fraction of all
	// periods that are Unclassified.
	LocalFraction, AdvectedFraction, UnclassifiedFraction float64
}

// Summarize calculates regime statistics for each season and pollutant
// present in records, ordered by season and then pollutant.
func Summarize(records []ClassifiedRecord, seasons []Season) []RegimeSummary {
	type key struct {
		season    int
		pollutant string
	}
	type acc struct {
		n, local, advected, unclassified int
		all, loc, adv                    []float64
	}
	groups := make(map[key]*acc)
	var keys []key
	for _, r := range records {
		si := seasonIndex(seasons, r.Period.Time)
		if si < 0 {
			continue
		}
		k := key{season: si, pollutant: r.Pollutant}
		a, ok := groups[k]
		if !ok {
			a = new(acc)
			groups[k] = a
			keys = append(keys, k)
		}
		a.n++
		switch {
		case r.Regime == Local:
			a.local++
		case r.Regime.IsAdvected():
			a.advected++
		default:
			a.unclassified++
		}
		if !r.HasConcentration {
			continue
		}
		a.all = append(a.all, r.Concentration)
		switch {
		case r.Regime == Local:
			a.loc = append(a.loc, r.Concentration)
		case r.Regime.IsAdvected():
			a.adv = append(a.adv, r.Concentration)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].season != keys[j].season {
			return keys[i].season < keys[j].season
		}
		return keys[i].pollutant < keys[j].pollutant
	})

	mean := func(x []float64) float64 {
		if len(x) == 0 {
			return math.NaN()
		}
		return stat.Mean(x, nil)
	}
	o := make([]RegimeSummary, len(keys))
	for i, k := range keys {
		a := groups[k]
		s := RegimeSummary{
			Season:               seasons[k.season].Name,
			Pollutant:            k.pollutant,
			Records:              a.n,
			MeanConcentration:    mean(a.all),
			MeanLocal:            mean(a.loc),
			MeanAdvected:         mean(a.adv),
			UnclassifiedFraction: float64(a.unclassified) / float64(a.n),
		}
		if c := a.local + a.advected; c > 0 {
			s.LocalFraction = float64(a.local) / float64(c)
			s.AdvectedFraction = float64(a.advected) / float64(c)
		}
		o[i] = s
	}
	return o
}
