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

const trajHorizon = 72 * time.Hour

// uniformWind returns a time-invariant wind field over northern India.
func uniformWind(t *testing.T, u, v float64) *GridField {
	return newTestField(t, axis(70, 0.5, 31), axis(20, 0.5, 31), timeAxis(testStart, time.Hour, 73),
		map[string]func(float64, float64, time.Time) float64{
			UWind: constant(u),
			VWind: constant(v),
		})
}

func newTestIntegrator(t *testing.T, wind *GridField, scheme IntegrationScheme) *Integrator {
	in, err := NewIntegrator(wind, TrajectoryConfig{
		Step:    time.Hour,
		Horizon: trajHorizon,
		Scheme:  scheme,
	})
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func TestBackTrajectoryUniform(t *testing.T) {
	const speed = 5.
	t0 := testStart.Add(trajHorizon)
	dist := speed * trajHorizon.Seconds() // m

	tests := []struct {
		name       string
		u, v       float64
		seed       geom.Point
		wantOrigin geom.Point
	}{
		{
			name: "westerly",
			u:    speed,
			seed: geom.Point{X: 84, Y: 28},
			wantOrigin: geom.Point{
				X: 84 - dist/(metersPerDegree*math.Cos(28*math.Pi/180)),
				Y: 28,
			},
		},
		{
			name:       "northerly",
			v:          -speed,
			seed:       geom.Point{X: 77, Y: 22},
			wantOrigin: geom.Point{X: 77, Y: 22 + dist/metersPerDegree},
		},
	}
	for _, test := range tests {
		for _, scheme := range []IntegrationScheme{Euler, RK2} {
			t.Run(test.name+"_"+scheme.String(), func(t *testing.T) {
				in := newTestIntegrator(t, uniformWind(t, test.u, test.v), scheme)
				traj := in.BackTrajectory(test.seed, t0)

				require.False(t, traj.Truncated)
				require.Len(t, traj.Points, in.Steps()+1)
				assert.Equal(t, 72, in.Steps())
				assert.Equal(t, test.seed, traj.Points[0].Point())

				o := traj.Origin()
				assert.InDelta(t, test.wantOrigin.X, o.Lon, 1.e-9)
				assert.InDelta(t, test.wantOrigin.Y, o.Lat, 1.e-9)
				assert.True(t, o.Time.Equal(testStart), "origin time %v", o.Time)
				assert.Equal(t, trajHorizon, traj.Duration())
				// Great-circle and flat-earth distances agree to within 0.5%.
				if different(traj.DistanceKm(), dist/1000, 0.005) {
					t.Errorf("distance: have %g km, want %g km", traj.DistanceKm(), dist/1000)
				}
			})
		}
	}
}

func TestBackTrajectoryTimes(t *testing.T) {
	in := newTestIntegrator(t, uniformWind(t, 1, 1), Euler)
	t0 := testStart.Add(trajHorizon)
	traj := in.BackTrajectory(geom.Point{X: 77, Y: 28}, t0)
	for i, p := range traj.Points {
		assert.Equal(t, time.Duration(i)*time.Hour, p.Age)
		assert.True(t, p.Time.Equal(t0.Add(-p.Age)))
		if i > 0 {
			assert.True(t, p.Time.Before(traj.Points[i-1].Time))
		}
	}
}

func TestBackTrajectoryLeavesDomain(t *testing.T) {
	wind := uniformWind(t, 5, 0)
	in := newTestIntegrator(t, wind, Euler)
	traj := in.BackTrajectory(geom.Point{X: 71, Y: 28}, testStart.Add(trajHorizon))

	assert.True(t, traj.Truncated)
	assert.Less(t, len(traj.Points), in.Steps()+1)
	// 18 km per step and about 98 km per degree of longitude.
	assert.Len(t, traj.Points, 6)
	for _, p := range traj.Points {
		assert.True(t, wind.Contains(p.Point()), "point %v is outside of the domain", p)
	}
}

func TestBackTrajectorySeedOutside(t *testing.T) {
	in := newTestIntegrator(t, uniformWind(t, 5, 0), Euler)
	seed := geom.Point{X: 90, Y: 28}
	traj := in.BackTrajectory(seed, testStart.Add(trajHorizon))
	assert.True(t, traj.Truncated)
	require.Len(t, traj.Points, 1)
	assert.Equal(t, seed, traj.Origin().Point())

	// Seed time after the end of the wind data.
	traj = in.BackTrajectory(geom.Point{X: 77, Y: 28}, testStart.Add(trajHorizon+time.Hour))
	assert.True(t, traj.Truncated)
	assert.Len(t, traj.Points, 1)
}

// invalidateTime marks all values at time index it as missing.
func invalidateTime(g *GridField, it int) {
	for j := 0; j < g.Ny(); j++ {
		for i := 0; i < g.Nx(); i++ {
			g.Invalidate(it, j, i)
		}
	}
}

func TestBackTrajectoryMissingData(t *testing.T) {
	seed := geom.Point{X: 77, Y: 22}
	t0 := testStart.Add(trajHorizon)
	complete := newTestIntegrator(t, uniformWind(t, 0, -5), Euler).BackTrajectory(seed, t0)

	t.Run("hold once", func(t *testing.T) {
		wind := uniformWind(t, 0, -5)
		invalidateTime(wind, 70)
		traj := newTestIntegrator(t, wind, Euler).BackTrajectory(seed, t0)
		assert.False(t, traj.Truncated)
		assert.Equal(t, len(complete.Points), len(traj.Points))
		assert.InDelta(t, complete.Origin().Lat, traj.Origin().Lat, 1.e-9)
	})
	t.Run("missing twice", func(t *testing.T) {
		wind := uniformWind(t, 0, -5)
		invalidateTime(wind, 70)
		invalidateTime(wind, 69)
		traj := newTestIntegrator(t, wind, Euler).BackTrajectory(seed, t0)
		assert.True(t, traj.Truncated)
		assert.Len(t, traj.Points, 4)
	})
	t.Run("missing at seed", func(t *testing.T) {
		wind := uniformWind(t, 0, -5)
		invalidateTime(wind, 72)
		traj := newTestIntegrator(t, wind, Euler).BackTrajectory(seed, t0)
		assert.True(t, traj.Truncated)
		assert.Len(t, traj.Points, 1)
	})
}

func TestNewIntegratorErrors(t *testing.T) {
	wind := uniformWind(t, 1, 1)
	for _, cfg := range []TrajectoryConfig{
		{Step: 0, Horizon: time.Hour},
		{Step: time.Hour, Horizon: time.Minute},
		{Step: time.Hour, Horizon: 2 * time.Hour, UChannel: "u10"},
	} {
		_, err := NewIntegrator(wind, cfg)
		assert.True(t, errors.Is(err, ErrConfiguration), "%+v: %v", cfg, err)
	}
	_, err := ParseIntegrationScheme("rk4")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestMeanTrajectory(t *testing.T) {
	a := &Trajectory{Points: []TrajectoryPoint{
		{Lon: 77, Lat: 28}, {Lon: 76, Lat: 29, Age: time.Hour}, {Lon: 75, Lat: 30, Age: 2 * time.Hour},
	}}
	b := &Trajectory{Points: []TrajectoryPoint{
		{Lon: 77, Lat: 28}, {Lon: 78, Lat: 27, Age: time.Hour},
	}, Truncated: true}

	m, err := MeanTrajectory([]*Trajectory{a, b})
	require.NoError(t, err)
	require.Len(t, m.Points, 2)
	assert.True(t, m.Truncated)
	assert.InDelta(t, 77, m.Points[1].Lon, 1.e-12)
	assert.InDelta(t, 28, m.Points[1].Lat, 1.e-12)
	assert.Equal(t, time.Hour, m.Points[1].Age)

	m, err = MeanTrajectory([]*Trajectory{a})
	require.NoError(t, err)
	assert.False(t, m.Truncated)
	assert.Len(t, m.Points, 3)

	m, err = MeanTrajectory(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMeanTrajectoryTimes(t *testing.T) {
	d1 := time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, time.January, 12, 12, 0, 0, 0, time.UTC)
	path := func(t0 time.Time) *Trajectory {
		return &Trajectory{Points: []TrajectoryPoint{
			{Lon: 77, Lat: 28, Time: t0},
			{Lon: 77, Lat: 29, Time: t0.Add(-time.Hour), Age: time.Hour},
		}}
	}
	m, err := MeanTrajectory([]*Trajectory{path(d1), path(d2)})
	require.NoError(t, err)
	mid := time.Date(2024, time.January, 11, 12, 0, 0, 0, time.UTC)
	assert.True(t, m.Points[0].Time.Equal(mid), "%v", m.Points[0].Time)
	assert.True(t, m.Points[1].Time.Equal(mid.Add(-time.Hour)), "%v", m.Points[1].Time)
}

func TestMeanTrajectoryStepMismatch(t *testing.T) {
	hourly := &Trajectory{Points: []TrajectoryPoint{
		{Lon: 77, Lat: 28}, {Lon: 77, Lat: 29, Age: time.Hour},
	}}
	halfHourly := &Trajectory{Points: []TrajectoryPoint{
		{Lon: 77, Lat: 28}, {Lon: 77, Lat: 28.5, Age: 30 * time.Minute},
	}}
	seedOnly := &Trajectory{Points: []TrajectoryPoint{{Lon: 77, Lat: 28}}, Truncated: true}

	_, err := MeanTrajectory([]*Trajectory{hourly, halfHourly})
	assert.True(t, errors.Is(err, ErrConfiguration), "%v", err)

	m, err := MeanTrajectory([]*Trajectory{hourly, seedOnly})
	require.NoError(t, err, "a trajectory with only its seed has no step")
	assert.Len(t, m.Points, 1)
	assert.True(t, m.Truncated)
}
