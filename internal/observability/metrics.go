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

// Package observability holds the Prometheus metrics recorded during an
// analysis run.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "airshed"

// Metrics holds the Prometheus counters and histograms for an analysis run.
type Metrics struct {
	PeriodsClassified *prometheus.CounterVec // labels: regime
	SevereEpisodes    *prometheus.CounterVec // labels: pollutant
	Trajectories      *prometheus.CounterVec // labels: outcome={complete,truncated}
	Hotspots          *prometheus.CounterVec // labels: pollutant, matched={true,false}

	RunDuration prometheus.Histogram
}

// NewMetrics creates all analysis metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeriodsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_classified_total",
			Help:      "Analysis periods classified, by regime.",
		}, []string{"regime"}),
		SevereEpisodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "severe_episodes_total",
			Help:      "Severe pollution episodes detected, by pollutant.",
		}, []string{"pollutant"}),
		Trajectories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trajectories_total",
			Help:      "Back-trajectories calculated, by outcome.",
		}, []string{"outcome"}),
		Hotspots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hotspots_total",
			Help:      "Hotspots detected, by pollutant and whether a known source matched.",
		}, []string{"pollutant", "matched"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete analysis run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),
	}

	reg.MustRegister(
		m.PeriodsClassified,
		m.SevereEpisodes,
		m.Trajectories,
		m.Hotspots,
		m.RunDuration,
	)

	return m
}
