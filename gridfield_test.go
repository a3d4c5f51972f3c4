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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC)

func axis(x0, dx float64, n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = x0 + float64(i)*dx
	}
	return o
}

func timeAxis(start time.Time, step time.Duration, n int) []time.Time {
	o := make([]time.Time, n)
	for i := range o {
		o[i] = start.Add(time.Duration(i) * step)
	}
	return o
}

// newTestField creates a field with the given axes and adds a channel
// for each function in channels.
func newTestField(t *testing.T, lon, lat []float64, times []time.Time,
	channels map[string]func(lon, lat float64, t time.Time) float64) *GridField {
	g, err := NewGridField(lon, lat, times)
	if err != nil {
		t.Fatal(err)
	}
	for name, f := range channels {
		data := sparse.ZerosDense(len(times), len(lat), len(lon))
		for it, tt := range times {
			for j, y := range lat {
				for i, x := range lon {
					data.Set(f(x, y, tt), it, j, i)
				}
			}
		}
		if err := g.AddChannel(name, data); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func constant(v float64) func(lon, lat float64, t time.Time) float64 {
	return func(float64, float64, time.Time) float64 { return v }
}

// linearField varies linearly in space and time, so interpolation of it
// is exact.
func linearField(lon, lat float64, t time.Time) float64 {
	return lon + 2*lat + t.Sub(testStart).Hours()
}

func TestNewGridFieldErrors(t *testing.T) {
	times := timeAxis(testStart, time.Hour, 3)
	tests := []struct {
		name     string
		lon, lat []float64
		times    []time.Time
	}{
		{name: "empty lon", lon: nil, lat: axis(0, 1, 3), times: times},
		{name: "descending lat", lon: axis(0, 1, 3), lat: []float64{2, 1, 0}, times: times},
		{name: "non-uniform lon", lon: []float64{0, 1, 3}, lat: axis(0, 1, 3), times: times},
		{name: "empty time", lon: axis(0, 1, 3), lat: axis(0, 1, 3)},
		{name: "repeated time", lon: axis(0, 1, 3), lat: axis(0, 1, 3),
			times: []time.Time{testStart, testStart}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewGridField(test.lon, test.lat, test.times)
			assert.True(t, errors.Is(err, ErrConfiguration), "error: %v", err)
		})
	}
}

func TestAddChannelShape(t *testing.T) {
	g, err := NewGridField(axis(0, 1, 3), axis(0, 1, 2), timeAxis(testStart, time.Hour, 2))
	require.NoError(t, err)
	err = g.AddChannel("x", sparse.ZerosDense(2, 3, 2))
	assert.True(t, errors.Is(err, ErrConfiguration))
	require.NoError(t, g.AddChannel("x", sparse.ZerosDense(2, 2, 3)))
	assert.Equal(t, []string{"x"}, g.Channels())
}

func TestValueAt(t *testing.T) {
	g := newTestField(t, axis(76, 0.5, 5), axis(28, 0.5, 4), timeAxis(testStart, time.Hour, 4),
		map[string]func(float64, float64, time.Time) float64{Concentration: linearField})

	tests := []struct {
		lon, lat float64
		t        time.Time
	}{
		{lon: 76.3, lat: 28.7, t: testStart.Add(90 * time.Minute)},
		{lon: 76, lat: 28, t: testStart},                   // lower corner
		{lon: 78, lat: 29.5, t: testStart.Add(3 * time.Hour)}, // upper corner
		{lon: 77.25, lat: 29.5, t: testStart.Add(20 * time.Minute)},
	}
	for _, test := range tests {
		v, err := g.ValueAt(Concentration, test.lon, test.lat, test.t)
		if err != nil {
			t.Fatal(err)
		}
		want := linearField(test.lon, test.lat, test.t)
		if different(v, want, 1.e-10) {
			t.Errorf("(%g, %g, %v): have %g, want %g", test.lon, test.lat, test.t, v, want)
		}
	}
}

func TestValueAtOutOfDomain(t *testing.T) {
	g := newTestField(t, axis(76, 0.5, 5), axis(28, 0.5, 4), timeAxis(testStart, time.Hour, 4),
		map[string]func(float64, float64, time.Time) float64{Concentration: linearField})

	_, err := g.ValueAt(Concentration, 75.9, 28.5, testStart)
	assert.True(t, errors.Is(err, ErrOutOfDomain), "west of the grid: %v", err)
	_, err = g.ValueAt(Concentration, 77, 29.6, testStart)
	assert.True(t, errors.Is(err, ErrOutOfDomain), "north of the grid: %v", err)
	_, err = g.ValueAt(Concentration, 77, 28.5, testStart.Add(-time.Second))
	assert.True(t, errors.Is(err, ErrOutOfDomain), "before the time axis: %v", err)
	_, err = g.ValueAt(Concentration, 77, 28.5, testStart.Add(3*time.Hour+time.Second))
	assert.True(t, errors.Is(err, ErrOutOfDomain), "after the time axis: %v", err)
	_, err = g.ValueAt("missing", 77, 28.5, testStart)
	assert.True(t, errors.Is(err, ErrConfiguration), "unknown channel: %v", err)
}

func TestValueAtMissingData(t *testing.T) {
	g := newTestField(t, axis(76, 0.5, 5), axis(28, 0.5, 4), timeAxis(testStart, time.Hour, 4),
		map[string]func(float64, float64, time.Time) float64{Concentration: linearField})
	g.Invalidate(1, 1, 1) // (76.5, 28.5) at hour 1

	_, err := g.ValueAt(Concentration, 76.6, 28.6, testStart.Add(90*time.Minute))
	assert.True(t, errors.Is(err, ErrMissingData), "enclosing cell is invalid: %v", err)

	// The invalid value has zero weight at a later time.
	v, err := g.ValueAt(Concentration, 76.6, 28.6, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, linearField(76.6, 28.6, testStart.Add(2*time.Hour)), v, 1.e-10)

	// Or at a grid node next to it.
	v, err = g.ValueAt(Concentration, 77, 28.5, testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, linearField(77, 28.5, testStart.Add(time.Hour)), v, 1.e-10)

	// NaN values are also missing.
	g.channels[Concentration].Set(math.NaN(), 3, 3, 4)
	_, err = g.ValueAt(Concentration, 78, 29.5, testStart.Add(3*time.Hour))
	assert.True(t, errors.Is(err, ErrMissingData), "NaN value: %v", err)
}

func TestAggregate(t *testing.T) {
	times := timeAxis(testStart, 12*time.Hour, 4)
	g := newTestField(t, axis(76, 1, 3), axis(28, 1, 3), times,
		map[string]func(float64, float64, time.Time) float64{
			Concentration: func(lon, lat float64, t time.Time) float64 { return lon - 76 + t.Sub(testStart).Hours()/12 },
		})

	all, err := g.Aggregate(Concentration, nil, TimeWindow{}, Mean())
	require.NoError(t, err)
	assert.InDelta(t, 2.5, all, 1.e-12)

	region := &geom.Bounds{Min: geom.Point{X: 77.5, Y: 27}, Max: geom.Point{X: 80, Y: 31}}
	firstDay := TimeWindow{Start: testStart, End: testStart.Add(24 * time.Hour)}
	v, err := g.Aggregate(Concentration, region, firstDay, Mean())
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1.e-12) // lon 78 only, times 0 and 1

	v, err = g.Aggregate(Concentration, nil, firstDay, ExceedanceFraction(1))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1.e-12) // 3 of 6 values are > 1

	v, err = g.Aggregate(Concentration, nil, TimeWindow{}, Max())
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			g.Invalidate(3, j, i)
		}
	}
	lastStep := TimeWindow{Start: times[3]}
	_, err = g.Aggregate(Concentration, nil, lastStep, Mean())
	assert.True(t, errors.Is(err, ErrNoValidData), "%v", err)
}

func TestCheckCompatible(t *testing.T) {
	times := timeAxis(testStart, time.Hour, 3)
	wind := newTestField(t, axis(75, 0.5, 11), axis(27, 0.5, 9), times, nil)

	pol := newTestField(t, axis(76, 0.25, 5), axis(28, 0.25, 5), times, nil)
	assert.NoError(t, CheckCompatible(wind, pol))

	outside := newTestField(t, axis(76, 0.5, 10), axis(28, 0.5, 3), times, nil)
	assert.True(t, errors.Is(CheckCompatible(wind, outside), ErrConfiguration))

	shifted := newTestField(t, axis(76, 0.5, 3), axis(28, 0.5, 3), timeAxis(testStart.Add(time.Hour), time.Hour, 3), nil)
	assert.True(t, errors.Is(CheckCompatible(wind, shifted), ErrConfiguration))

	shorter := newTestField(t, axis(76, 0.5, 3), axis(28, 0.5, 3), times[:2], nil)
	assert.True(t, errors.Is(CheckCompatible(wind, shorter), ErrConfiguration))
}

func TestGridFieldReadWrite(t *testing.T) {
	g := newTestField(t, axis(76, 0.5, 4), axis(28, 0.25, 3), timeAxis(testStart, 6*time.Hour, 5),
		map[string]func(float64, float64, time.Time) float64{
			UWind: linearField,
			VWind: constant(-2.5),
		})
	g.Invalidate(2, 1, 3)

	f, err := os.Create(filepath.Join(t.TempDir(), "wind.ncf"))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, g.Write(f))

	g2, err := ReadGridField(f)
	require.NoError(t, err)

	assert.Equal(t, g.Channels(), g2.Channels())
	assert.Equal(t, g.lon, g2.lon)
	assert.Equal(t, g.lat, g2.lat)
	require.Equal(t, g.Nt(), g2.Nt())
	for i, tt := range g.times {
		assert.True(t, tt.Equal(g2.times[i]), "time %d: %v != %v", i, tt, g2.times[i])
	}
	assert.Equal(t, g.invalid, g2.invalid)
	for _, c := range g.Channels() {
		for i, v := range g.channels[c].Elements {
			if v2 := g2.channels[c].Elements[i]; different(v, v2, 1.e-6) && math.Abs(v-v2) > 1.e-4 {
				t.Errorf("%s[%d]: %g != %g", c, i, v, v2)
			}
		}
	}
}

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}
