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
	"time"

	"github.com/ctessum/geom"
)

// Regime is the inferred cause of the pollution observed during a period.
type Regime int

// These are the regimes that a period can be classified into.
const (
	Unclassified Regime = iota
	Local
	AdvectedNorth
	AdvectedEast
	AdvectedSouth
	AdvectedWest
)

var regimeNames = map[Regime]string{
	Unclassified:  "Unclassified",
	Local:         "Local",
	AdvectedNorth: "AdvectedNorth",
	AdvectedEast:  "AdvectedEast",
	AdvectedSouth: "AdvectedSouth",
	AdvectedWest:  "AdvectedWest",
}

func (r Regime) String() string {
	if s, ok := regimeNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Regime(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Regime) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// IsAdvected returns whether r is one of the advected regimes.
func (r Regime) IsAdvected() bool {
	return r == AdvectedNorth || r == AdvectedEast || r == AdvectedSouth || r == AdvectedWest
}

// Classify labels a period from its mean wind speed and the direction, in
// degrees clockwise from north, that the wind is blowing from. Speeds at
// or below threshold are Local. Otherwise the direction is bucketed into
// 90° sectors centred on the cardinal directions, with each sector
// including its anticlockwise edge, so 45° is East and 315° is North.
// Invalid speeds give Unclassified.
func Classify(speed, direction, threshold float64) Regime {
	if math.IsNaN(speed) || speed < 0 || math.IsNaN(direction) {
		return Unclassified
	}
	if speed <= threshold {
		return Local
	}
	d := math.Mod(direction, 360)
	if d < 0 {
		d += 360
	}
	switch {
	case d >= 315 || d < 45:
		return AdvectedNorth
	case d < 135:
		return AdvectedEast
	case d < 225:
		return AdvectedSouth
	default:
		return AdvectedWest
	}
}

// WindFromComponents returns the speed of the wind with eastward
// component u and northward component v, and the direction it is blowing
// from in degrees clockwise from north in [0, 360).
func WindFromComponents(u, v float64) (speed, direction float64) {
	speed = math.Hypot(u, v)
	direction = math.Mod(math.Atan2(-u, -v)*180/math.Pi+360, 360)
	return
}

// PeriodResolution specifies the length of analysis periods.
type PeriodResolution int

const (
	// Daily periods are UTC calendar days.
	Daily PeriodResolution = iota
	// Monthly periods are UTC calendar months.
	Monthly
)

// ParsePeriodResolution returns the resolution with the given name.
func ParsePeriodResolution(s string) (PeriodResolution, error) {
	switch s {
	case "daily", "":
		return Daily, nil
	case "monthly":
		return Monthly, nil
	default:
		return Daily, fmt.Errorf("airshed: invalid period resolution %q: %w", s, ErrConfiguration)
	}
}

func (r PeriodResolution) String() string {
	if r == Monthly {
		return "monthly"
	}
	return "daily"
}

// Period is one analysis period.
type Period struct {
	Start, End time.Time // End is exclusive

	// Time is the last timestamp of the time axis within the period. It
	// is used to seed trajectories.
	Time time.Time
}

// Window returns the time window covered by p.
func (p Period) Window() TimeWindow { return TimeWindow{Start: p.Start, End: p.End} }

func (p Period) String() string { return p.Start.Format("2006-01-02") }

// Periods splits the given increasing time axis into periods of the
// given resolution. Only periods containing at least one timestamp are
// returned.
func Periods(times []time.Time, res PeriodResolution) []Period {
	var o []Period
	for _, t := range times {
		t = t.UTC()
		if len(o) > 0 && t.Before(o[len(o)-1].End) {
			o[len(o)-1].Time = t
			continue
		}
		var start, end time.Time
		switch res {
		case Monthly:
			start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
			end = start.AddDate(0, 1, 0)
		default:
			start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			end = start.AddDate(0, 0, 1)
		}
		o = append(o, Period{Start: start, End: end, Time: t})
	}
	return o
}

// WindSample is the representative wind for a period.
type WindSample struct {
	U, V             float64
	Speed, Direction float64
}

// RegimeConfig holds the settings for regime classification.
type RegimeConfig struct {
	// Wind is sampled over the square region extending Radius degrees
	// from Reference.
	Reference geom.Point
	Radius    float64

	// SpeedThreshold is the mean wind speed at or below which a period
	// is Local.
	SpeedThreshold float64

	// UChannel and VChannel default to UWind and VWind.
	UChannel, VChannel string
}

// RegimeClassifier labels analysis periods from a wind field.
type RegimeClassifier struct {
	wind   *GridField
	region *geom.Bounds
	cfg    RegimeConfig
}

// NewRegimeClassifier creates a classifier that samples the wind field.
func NewRegimeClassifier(wind *GridField, cfg RegimeConfig) (*RegimeClassifier, error) {
	if cfg.UChannel == "" {
		cfg.UChannel = UWind
	}
	if cfg.VChannel == "" {
		cfg.VChannel = VWind
	}
	if !(cfg.Radius >= 0) {
		return nil, fmt.Errorf("airshed: reference radius must be >= 0 but is %g: %w", cfg.Radius, ErrConfiguration)
	}
	if !(cfg.SpeedThreshold >= 0) {
		return nil, fmt.Errorf("airshed: speed threshold must be >= 0 but is %g: %w", cfg.SpeedThreshold, ErrConfiguration)
	}
	if !wind.Contains(cfg.Reference) {
		return nil, fmt.Errorf("airshed: reference point %v is outside of the wind field: %w", cfg.Reference, ErrConfiguration)
	}
	for _, c := range []string{cfg.UChannel, cfg.VChannel} {
		if !wind.HasChannel(c) {
			return nil, fmt.Errorf("airshed: wind field has no channel %q: %w", c, ErrConfiguration)
		}
	}
	r := cfg.Radius
	return &RegimeClassifier{
		wind: wind,
		region: &geom.Bounds{
			Min: geom.Point{X: cfg.Reference.X - r, Y: cfg.Reference.Y - r},
			Max: geom.Point{X: cfg.Reference.X + r, Y: cfg.Reference.Y + r},
		},
		cfg: cfg,
	}, nil
}

// Sample returns the vector mean wind over the reference region during
// period p.
func (rc *RegimeClassifier) Sample(p Period) (WindSample, error) {
	u, err := rc.wind.Aggregate(rc.cfg.UChannel, rc.region, p.Window(), Mean())
	if err != nil {
		return WindSample{}, err
	}
	v, err := rc.wind.Aggregate(rc.cfg.VChannel, rc.region, p.Window(), Mean())
	if err != nil {
		return WindSample{}, err
	}
	s := WindSample{U: u, V: v}
	s.Speed, s.Direction = WindFromComponents(u, v)
	return s, nil
}

// ClassifyPeriod returns the regime of period p and the wind sample it
// was derived from. If no wind sample could be calculated the regime is
// Unclassified and the error explains why.
func (rc *RegimeClassifier) ClassifyPeriod(p Period) (Regime, WindSample, error) {
	s, err := rc.Sample(p)
	if err != nil {
		nan := math.NaN()
		return Unclassified, WindSample{U: nan, V: nan, Speed: nan, Direction: nan}, err
	}
	return Classify(s.Speed, s.Direction, rc.cfg.SpeedThreshold), s, nil
}
