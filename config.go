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
	"time"

	"github.com/ctessum/geom"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config holds the configuration of an analysis run.
type Config struct {
	// SpeedThreshold is the mean wind speed, in m/s, at or below which a
	// period is classified as Local.
	SpeedThreshold float64 `validate:"gte=0"`

	// SeverityPercentile is the percentile of each pollutant's own series
	// at or above which a period is a severe episode.
	SeverityPercentile float64 `validate:"gt=0,lte=100"`

	// SeverityAbsolute holds fixed severity thresholds by pollutant,
	// overriding SeverityPercentile.
	SeverityAbsolute map[string]float64

	TrajectoryStep    time.Duration `validate:"gt=0s"`
	TrajectoryHorizon time.Duration `validate:"gtefield=TrajectoryStep"`

	// IntegrationScheme is "euler" or "rk2".
	IntegrationScheme string `validate:"oneof=euler rk2"`

	Seasons []Season `validate:"required,dive"`

	// With the default per-cell rule a cell can exceed mean + k*std in at
	// most 1/(1+k²) of its time steps, so HotspotMinPersistence must be
	// below that for hotspots to be found.
	HotspotExceedanceRule string  `validate:"required"`
	HotspotStdMultiple    float64 `validate:"gte=0"`
	HotspotMinPersistence float64 `validate:"gte=0,lt=1"`

	// HotspotNeighborRadius is in grid cells.
	HotspotNeighborRadius int `validate:"gte=0"`

	SourceMatchRadiusKm float64 `validate:"gte=0"`

	KnownSources []KnownSource `validate:"dive"`

	// ReferencePoint is where wind is sampled for regime classification
	// and where back-trajectories are seeded. Wind is averaged over the
	// cells within ReferenceRadius degrees of it.
	ReferencePoint  geom.Point
	ReferenceRadius float64 `validate:"gte=0"`

	// PeriodResolution is "daily" or "monthly".
	PeriodResolution string `validate:"oneof=daily monthly"`

	ConcentrationChannel string `validate:"required"`
	UChannel             string `validate:"required"`
	VChannel             string `validate:"required"`

	// Workers is the number of concurrent workers. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int `validate:"gte=0"`
}

// DefaultSeasons are the seasons of the Indian subcontinent.
func DefaultSeasons() []Season {
	return []Season{
		{Name: "winter", Months: []time.Month{time.December, time.January, time.February}},
		{Name: "summer", Months: []time.Month{time.March, time.April, time.May}},
		{Name: "monsoon", Months: []time.Month{time.June, time.July, time.August, time.September}},
		{Name: "post_monsoon", Months: []time.Month{time.October, time.November}},
	}
}

// DefaultKnownSources are major emission sources in and around Delhi.
func DefaultKnownSources() []KnownSource {
	return []KnownSource{
		{Name: "Badarpur TPS", Lon: 77.3083, Lat: 28.5014, Category: "power_plants"},
		{Name: "Rajghat TPS", Lon: 77.23, Lat: 28.64, Category: "power_plants"},
		{Name: "Okhla", Lon: 77.2833, Lat: 28.55, Category: "industrial_areas"},
		{Name: "Noida", Lon: 77.3167, Lat: 28.5667, Category: "industrial_areas"},
		{Name: "Punjab", Lon: 75.3412, Lat: 30.0668, Category: "crop_burning_regions"},
		{Name: "Haryana", Lon: 76.0856, Lat: 29.0588, Category: "crop_burning_regions"},
	}
}

// DefaultConfig returns the configuration for an analysis centred on
// Delhi.
func DefaultConfig() Config {
	return Config{
		SpeedThreshold:        4.0,
		SeverityPercentile:    90,
		TrajectoryStep:        time.Hour,
		TrajectoryHorizon:     72 * time.Hour,
		IntegrationScheme:     Euler.String(),
		Seasons:               DefaultSeasons(),
		HotspotExceedanceRule: DefaultExceedanceRule,
		HotspotStdMultiple:    1,
		HotspotMinPersistence: 0.1,
		HotspotNeighborRadius: 1,
		SourceMatchRadiusKm:   10,
		KnownSources:          DefaultKnownSources(),
		ReferencePoint:        geom.Point{X: 77.2090, Y: 28.6139},
		ReferenceRadius:       0.25,
		PeriodResolution:      Daily.String(),
		ConcentrationChannel:  Concentration,
		UChannel:              UWind,
		VChannel:              VWind,
	}
}

// Validate checks the configuration for errors. All returned errors wrap
// ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("airshed: invalid configuration: %v: %w", err, ErrConfiguration)
	}
	if err := ValidateSeasons(c.Seasons); err != nil {
		return err
	}
	if _, err := ParseExceedanceRule(c.HotspotExceedanceRule); err != nil {
		return err
	}
	for pol, th := range c.SeverityAbsolute {
		if pol == "" {
			return fmt.Errorf("airshed: absolute severity threshold %g has no pollutant: %w", th, ErrConfiguration)
		}
	}
	names := make(map[string]bool)
	for _, s := range c.KnownSources {
		if s.Name == "" || names[s.Name] {
			return fmt.Errorf("airshed: known source names must be unique and non-empty (%q): %w", s.Name, ErrConfiguration)
		}
		names[s.Name] = true
	}
	return nil
}

// TrajectoryConfig returns the trajectory settings in c.
func (c *Config) TrajectoryConfig() (TrajectoryConfig, error) {
	scheme, err := ParseIntegrationScheme(c.IntegrationScheme)
	if err != nil {
		return TrajectoryConfig{}, err
	}
	return TrajectoryConfig{
		Step:     c.TrajectoryStep,
		Horizon:  c.TrajectoryHorizon,
		Scheme:   scheme,
		UChannel: c.UChannel,
		VChannel: c.VChannel,
	}, nil
}

// HotspotConfig returns the hotspot detection settings in c.
func (c *Config) HotspotConfig() HotspotConfig {
	return HotspotConfig{
		ExceedanceRule:      c.HotspotExceedanceRule,
		StdMultiple:         c.HotspotStdMultiple,
		MinPersistence:      c.HotspotMinPersistence,
		NeighborRadius:      c.HotspotNeighborRadius,
		SourceMatchRadiusKm: c.SourceMatchRadiusKm,
		KnownSources:        c.KnownSources,
		Channel:             c.ConcentrationChannel,
		Workers:             c.Workers,
	}
}
