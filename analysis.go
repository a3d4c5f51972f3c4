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

// Package airshed attributes observed air pollution to local generation or
// transport from outside of a domain, using gridded wind fields and
// back-trajectories, and finds persistent pollution hotspots.
package airshed

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/airshed/internal/hash"
	"github.com/spatialmodel/airshed/internal/observability"
)

// Version gives the version number.
const Version = "1.0.0"

// Analysis runs the complete regime attribution and hotspot detection
// workflow.
type Analysis struct {
	Config

	// Log receives progress and per-period diagnostics. It defaults to
	// logrus.StandardLogger().
	Log logrus.FieldLogger

	// Metrics, if not nil, records run statistics.
	Metrics *observability.Metrics

	// Clock is used to time runs. It defaults to the real clock.
	Clock clockwork.Clock
}

// NewAnalysis creates a new Analysis after validating cfg.
func NewAnalysis(cfg Config) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Analysis{
		Config: cfg,
		Log:    logrus.StandardLogger(),
		Clock:  clockwork.NewRealClock(),
	}, nil
}

// Result holds the outputs of an analysis run.
type Result struct {
	RunID              uuid.UUID
	Started, Completed time.Time

	// ConfigHash identifies the configuration the run used.
	ConfigHash string

	// Classified holds one record per period per pollutant, ordered by
	// pollutant and then period.
	Classified []ClassifiedRecord

	Episodes  []SevereEpisode
	Seasonal  []SeasonalTrajectory
	Summaries []RegimeSummary

	// Hotspots are ordered by pollutant.
	Hotspots []Hotspot
}

// Run analyzes the given pollutant fields, keyed by pollutant name,
// together with wind. It returns an error wrapping ErrConfiguration,
// before any period is processed, if the inputs are inconsistent.
// Failures affecting individual periods, episodes or cells are logged and
// recorded in the result instead.
func (a *Analysis) Run(pollutants map[string]*GridField, wind *GridField) (*Result, error) {
	log := a.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := a.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	res := &Result{RunID: uuid.New(), Started: clock.Now(), ConfigHash: hash.Hash(a.Config)}
	log = log.WithField("run_id", res.RunID)
	log.WithField("config", res.ConfigHash).Info("starting analysis")

	names, err := a.checkInputs(pollutants, wind)
	if err != nil {
		return nil, err
	}
	resolution, err := ParsePeriodResolution(a.PeriodResolution)
	if err != nil {
		return nil, err
	}
	classifier, err := NewRegimeClassifier(wind, RegimeConfig{
		Reference:      a.ReferencePoint,
		Radius:         a.ReferenceRadius,
		SpeedThreshold: a.SpeedThreshold,
		UChannel:       a.UChannel,
		VChannel:       a.VChannel,
	})
	if err != nil {
		return nil, err
	}
	tc, err := a.TrajectoryConfig()
	if err != nil {
		return nil, err
	}
	integrator, err := NewIntegrator(wind, tc)
	if err != nil {
		return nil, err
	}
	hd, err := NewHotspotDetector(a.HotspotConfig())
	if err != nil {
		return nil, err
	}
	hd.Log = log

	periods := Periods(wind.Times(), resolution)
	regimes := make([]Regime, len(periods))
	samples := make([]WindSample, len(periods))
	for i, p := range periods {
		regimes[i], samples[i], err = classifier.ClassifyPeriod(p)
		if err != nil {
			log.WithField("period", p).Warnf("period is unclassified: %v", err)
		}
		if a.Metrics != nil {
			a.Metrics.PeriodsClassified.WithLabelValues(regimes[i].String()).Inc()
		}
	}

	for _, pol := range names {
		g := pollutants[pol]
		for i, p := range periods {
			r := ClassifiedRecord{
				Period:        p,
				Pollutant:     pol,
				WindSpeed:     samples[i].Speed,
				WindDirection: samples[i].Direction,
				Regime:        regimes[i],
			}
			r.Concentration, err = g.Aggregate(a.ConcentrationChannel, nil, p.Window(), Mean())
			if err == nil {
				r.HasConcentration = true
			} else if !errors.Is(err, ErrNoValidData) {
				return nil, err
			}
			res.Classified = append(res.Classified, r)
		}
		log.WithFields(logrus.Fields{"pollutant": pol, "periods": len(periods)}).Info("classified periods")
	}

	ed := &EpisodeDetector{
		Percentile: a.SeverityPercentile,
		Absolute:   a.SeverityAbsolute,
		Integrator: integrator,
		Seed:       a.ReferencePoint,
		Workers:    a.Workers,
		Log:        log,
	}
	res.Episodes = ed.Detect(res.Classified)
	if res.Seasonal, err = SeasonalTrajectories(res.Episodes, a.Seasons); err != nil {
		return nil, err
	}
	res.Summaries = Summarize(res.Classified, a.Seasons)
	log.WithFields(logrus.Fields{
		"episodes": len(res.Episodes),
		"seasonal": len(res.Seasonal),
	}).Info("severe episode detection complete")

	for _, pol := range names {
		hs, err := hd.Detect(pollutants[pol])
		if errors.Is(err, ErrNoValidData) {
			log.WithField("pollutant", pol).Warn("no valid data for hotspot detection")
			continue
		} else if err != nil {
			return nil, err
		}
		for i := range hs {
			hs[i].Pollutant = pol
		}
		res.Hotspots = append(res.Hotspots, hs...)
	}

	res.Completed = clock.Now()
	a.record(res)
	log.WithField("duration", res.Completed.Sub(res.Started)).Info("analysis complete")
	return res, nil
}

// checkInputs checks that the input fields are consistent and returns
// the sorted pollutant names.
func (a *Analysis) checkInputs(pollutants map[string]*GridField, wind *GridField) ([]string, error) {
	if wind == nil {
		return nil, fmt.Errorf("airshed: no wind field: %w", ErrConfiguration)
	}
	if len(pollutants) == 0 {
		return nil, fmt.Errorf("airshed: no pollutant fields: %w", ErrConfiguration)
	}
	names := make([]string, 0, len(pollutants))
	for pol, g := range pollutants {
		if g == nil {
			return nil, fmt.Errorf("airshed: pollutant %s has no field: %w", pol, ErrConfiguration)
		}
		if !g.HasChannel(a.ConcentrationChannel) {
			return nil, fmt.Errorf("airshed: pollutant %s has no channel %q: %w", pol, a.ConcentrationChannel, ErrConfiguration)
		}
		if err := CheckCompatible(wind, g); err != nil {
			return nil, fmt.Errorf("airshed: pollutant %s: %w", pol, err)
		}
		names = append(names, pol)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Analysis) record(res *Result) {
	m := a.Metrics
	if m == nil {
		return
	}
	for _, e := range res.Episodes {
		m.SevereEpisodes.WithLabelValues(e.Pollutant).Inc()
		if e.Trajectory == nil {
			continue
		}
		outcome := "complete"
		if e.Trajectory.Truncated {
			outcome = "truncated"
		}
		m.Trajectories.WithLabelValues(outcome).Inc()
	}
	for _, h := range res.Hotspots {
		m.Hotspots.WithLabelValues(h.Pollutant, strconv.FormatBool(h.Source != nil)).Inc()
	}
	m.RunDuration.Observe(res.Completed.Sub(res.Started).Seconds())
}
