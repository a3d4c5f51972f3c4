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
	"fmt"
	"math"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/unit"
)

const (
	// metersPerDegree is the length of one degree of latitude.
	metersPerDegree = 111320.

	// earthRadiusKm is the mean radius of the Earth.
	earthRadiusKm = 6371.0088
)

// TrajectoryPoint is one sample along a trajectory.
type TrajectoryPoint struct {
	Lon, Lat float64
	Time     time.Time

	// Age is how long before the trajectory seed time this point was
	// occupied.
	Age time.Duration
}

// Point returns the location of p.
func (p TrajectoryPoint) Point() geom.Point { return geom.Point{X: p.Lon, Y: p.Lat} }

// Trajectory is a back-trajectory: a series of points moving backward in
// time from a seed point. The first point is always the seed.
type Trajectory struct {
	Points []TrajectoryPoint

	// Truncated is true if integration stopped before the horizon was
	// reached.
	Truncated bool
}

// Origin returns the earliest point of the trajectory.
func (t *Trajectory) Origin() TrajectoryPoint { return t.Points[len(t.Points)-1] }

// Duration returns the length of time covered by the trajectory.
func (t *Trajectory) Duration() time.Duration { return t.Origin().Age }

// DistanceKm returns the great-circle distance between the seed and the
// origin of the trajectory.
func (t *Trajectory) DistanceKm() float64 {
	return greatCircleKm(t.Points[0].Point(), t.Origin().Point())
}

// LineString returns the trajectory path.
func (t *Trajectory) LineString() geom.LineString {
	l := make(geom.LineString, len(t.Points))
	for i, p := range t.Points {
		l[i] = p.Point()
	}
	return l
}

// greatCircleKm returns the haversine distance between two
// longitude-latitude points.
func greatCircleKm(a, b geom.Point) float64 {
	const rad = math.Pi / 180
	dLat := (b.Y - a.Y) * rad
	dLon := (b.X - a.X) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Y*rad)*math.Cos(b.Y*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// IntegrationScheme specifies how positions are advanced each step.
type IntegrationScheme int

const (
	// Euler uses the wind at the start of each step.
	Euler IntegrationScheme = iota

	// RK2 uses the wind at the midpoint of each step.
	RK2
)

func (s IntegrationScheme) String() string {
	switch s {
	case Euler:
		return "euler"
	case RK2:
		return "rk2"
	default:
		return fmt.Sprintf("IntegrationScheme(%d)", int(s))
	}
}

// ParseIntegrationScheme returns the scheme with the given name.
func ParseIntegrationScheme(s string) (IntegrationScheme, error) {
	switch s {
	case "euler", "":
		return Euler, nil
	case "rk2":
		return RK2, nil
	default:
		return Euler, fmt.Errorf("airshed: invalid integration scheme %q: %w", s, ErrConfiguration)
	}
}

// TrajectoryConfig holds the settings for back-trajectory calculation.
type TrajectoryConfig struct {
	Step    time.Duration // integration time step
	Horizon time.Duration // look-back time
	Scheme  IntegrationScheme

	// UChannel and VChannel are the names of the eastward and northward
	// wind channels, in m/s. They default to UWind and VWind.
	UChannel, VChannel string
}

// Integrator calculates back-trajectories from a wind field.
type Integrator struct {
	wind   *GridField
	cfg    TrajectoryConfig
	nSteps int
}

// NewIntegrator creates a new trajectory integrator for the given wind
// field.
func NewIntegrator(wind *GridField, cfg TrajectoryConfig) (*Integrator, error) {
	if cfg.UChannel == "" {
		cfg.UChannel = UWind
	}
	if cfg.VChannel == "" {
		cfg.VChannel = VWind
	}
	if !(cfg.Step > 0) {
		return nil, fmt.Errorf("airshed: trajectory step must be > 0 but is %v: %w", cfg.Step, ErrConfiguration)
	}
	if cfg.Horizon < cfg.Step {
		return nil, fmt.Errorf("airshed: trajectory horizon %v is shorter than step %v: %w", cfg.Horizon, cfg.Step, ErrConfiguration)
	}
	for _, c := range []string{cfg.UChannel, cfg.VChannel} {
		if !wind.HasChannel(c) {
			return nil, fmt.Errorf("airshed: wind field has no channel %q: %w", c, ErrConfiguration)
		}
	}
	return &Integrator{
		wind:   wind,
		cfg:    cfg,
		nSteps: int(cfg.Horizon / cfg.Step),
	}, nil
}

// Steps returns the number of steps in a complete trajectory.
func (in *Integrator) Steps() int { return in.nSteps }

// displacement returns the distance in meters travelled over dt at
// velocity vel, in m/s.
func displacement(vel float64, dt time.Duration) float64 {
	d := unit.Mul(unit.New(vel, unit.MeterPerSecond), unit.New(dt.Seconds(), unit.Second))
	if err := d.Check(unit.Meter); err != nil {
		panic(err)
	}
	return d.Value()
}

// upwind returns the position reached by moving from p against the wind
// (u, v) for a time dt.
func upwind(p geom.Point, u, v float64, dt time.Duration) geom.Point {
	return geom.Point{
		X: p.X - displacement(u, dt)/(metersPerDegree*math.Cos(p.Y*math.Pi/180)),
		Y: p.Y - displacement(v, dt)/metersPerDegree,
	}
}

func (in *Integrator) sample(p geom.Point, t time.Time) (u, v float64, err error) {
	u, err = in.wind.ValueAt(in.cfg.UChannel, p.X, p.Y, t)
	if err != nil {
		return
	}
	v, err = in.wind.ValueAt(in.cfg.VChannel, p.X, p.Y, t)
	return
}

// velocity returns the wind used to advance from p at time t.
func (in *Integrator) velocity(p geom.Point, t time.Time) (u, v float64, err error) {
	u, v, err = in.sample(p, t)
	if err != nil || in.cfg.Scheme != RK2 {
		return
	}
	half := in.cfg.Step / 2
	mid := upwind(p, u, v, half)
	if !in.wind.Contains(mid) {
		return 0, 0, fmt.Errorf("airshed: trajectory midpoint %v: %w", mid, ErrOutOfDomain)
	}
	return in.sample(mid, t.Add(-half))
}

// BackTrajectory calculates the back-trajectory of air arriving at seed at
// time t0. Integration stops early, and the result is marked truncated,
// if the trajectory leaves the wind field or if wind data is missing for
// two consecutive steps. The last valid wind is held for a single step of
// missing data. The result always contains at least the seed point.
func (in *Integrator) BackTrajectory(seed geom.Point, t0 time.Time) *Trajectory {
	traj := &Trajectory{
		Points: make([]TrajectoryPoint, 1, in.nSteps+1),
	}
	traj.Points[0] = TrajectoryPoint{Lon: seed.X, Lat: seed.Y, Time: t0}
	if !in.wind.Contains(seed) {
		traj.Truncated = true
		return traj
	}

	p, t := seed, t0
	var lastU, lastV float64
	haveLast, held := false, false
	for step := 1; step <= in.nSteps; step++ {
		u, v, err := in.velocity(p, t)
		switch {
		case err == nil:
			lastU, lastV, haveLast, held = u, v, true, false
		case errors.Is(err, ErrMissingData) && haveLast && !held:
			u, v, held = lastU, lastV, true
		default:
			traj.Truncated = true
			return traj
		}
		next := upwind(p, u, v, in.cfg.Step)
		if !in.wind.Contains(next) {
			traj.Truncated = true
			return traj
		}
		p, t = next, t.Add(-in.cfg.Step)
		traj.Points = append(traj.Points, TrajectoryPoint{
			Lon:  p.X,
			Lat:  p.Y,
			Time: t,
			Age:  t0.Sub(t),
		})
	}
	return traj
}
