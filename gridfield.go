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
	"sort"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Standard channel names.
const (
	Concentration = "concentration"
	UWind         = "u"
	VWind         = "v"
)

// spacingTolerance is the relative tolerance used when checking that
// the lattice axes are uniformly spaced.
const spacingTolerance = 1.e-6

// GridField holds one or more named channels of data on a regular
// longitude-latitude lattice, at a series of timestamps. Each channel is
// stored as an array with shape [time, latitude, longitude].
//
// A GridField is built with NewGridField, AddChannel and Invalidate and
// must not be modified once analysis starts; all query methods are safe
// for concurrent use.
type GridField struct {
	lon, lat []float64 // cell-centre coordinates, ascending
	times    []time.Time

	dlon, dlat float64

	channels map[string]*sparse.DenseArray

	// invalid marks missing, cloud-screened or no-data entries, indexed
	// the same way as the channel elements.
	invalid []bool
}

// NewGridField creates a GridField with the given cell-centre axes and
// time axis. The spatial axes must be ascending and uniformly spaced and
// the time axis must be strictly increasing.
func NewGridField(lon, lat []float64, times []time.Time) (*GridField, error) {
	dlon, err := axisSpacing("longitude", lon)
	if err != nil {
		return nil, err
	}
	dlat, err := axisSpacing("latitude", lat)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("airshed: empty time axis: %w", ErrConfiguration)
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("airshed: time axis is not strictly increasing at index %d: %w", i, ErrConfiguration)
		}
	}
	g := &GridField{
		lon:      append([]float64(nil), lon...),
		lat:      append([]float64(nil), lat...),
		times:    append([]time.Time(nil), times...),
		dlon:     dlon,
		dlat:     dlat,
		channels: make(map[string]*sparse.DenseArray),
		invalid:  make([]bool, len(times)*len(lat)*len(lon)),
	}
	return g, nil
}

func axisSpacing(name string, x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("airshed: empty %s axis: %w", name, ErrConfiguration)
	}
	if len(x) == 1 {
		return 0, nil
	}
	d := x[1] - x[0]
	if !(d > 0) {
		return 0, fmt.Errorf("airshed: %s axis is not ascending: %w", name, ErrConfiguration)
	}
	for i := 2; i < len(x); i++ {
		if math.Abs((x[i]-x[i-1])-d) > spacingTolerance*d {
			return 0, fmt.Errorf("airshed: %s axis is not uniformly spaced at index %d: %w", name, i, ErrConfiguration)
		}
	}
	return d, nil
}

// AddChannel adds a data channel to g. data must have the shape
// [time, latitude, longitude].
func (g *GridField) AddChannel(name string, data *sparse.DenseArray) error {
	want := []int{len(g.times), len(g.lat), len(g.lon)}
	if len(data.Shape) != 3 || data.Shape[0] != want[0] || data.Shape[1] != want[1] || data.Shape[2] != want[2] {
		return fmt.Errorf("airshed: channel %s has shape %v but the lattice is %v: %w", name, data.Shape, want, ErrConfiguration)
	}
	g.channels[name] = data
	return nil
}

// Invalidate marks the value at time index it, latitude index j and
// longitude index i as missing in all channels.
func (g *GridField) Invalidate(it, j, i int) {
	g.invalid[g.index(it, j, i)] = true
}

func (g *GridField) index(it, j, i int) int {
	return (it*len(g.lat)+j)*len(g.lon) + i
}

// Nx, Ny and Nt return the number of longitude, latitude and time steps.
func (g *GridField) Nx() int { return len(g.lon) }
func (g *GridField) Ny() int { return len(g.lat) }
func (g *GridField) Nt() int { return len(g.times) }

// Times returns the time axis.
func (g *GridField) Times() []time.Time { return g.times }

// Channels returns the sorted channel names.
func (g *GridField) Channels() []string {
	names := make([]string, 0, len(g.channels))
	for n := range g.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasChannel returns whether g holds the named channel.
func (g *GridField) HasChannel(name string) bool {
	_, ok := g.channels[name]
	return ok
}

// CellCenter returns the centre of the cell at latitude index j and
// longitude index i.
func (g *GridField) CellCenter(j, i int) geom.Point {
	return geom.Point{X: g.lon[i], Y: g.lat[j]}
}

// Resolution returns the longitude and latitude spacing of the lattice.
func (g *GridField) Resolution() (dlon, dlat float64) { return g.dlon, g.dlat }

// Bounds returns the convex hull of the cell centres.
func (g *GridField) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.lon[0], Y: g.lat[0]},
		Max: geom.Point{X: g.lon[len(g.lon)-1], Y: g.lat[len(g.lat)-1]},
	}
}

// Contains returns whether p is within the convex hull of the lattice.
func (g *GridField) Contains(p geom.Point) bool {
	b := g.Bounds()
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Value returns the raw value of a channel at the given indices and
// whether it is valid.
func (g *GridField) Value(channel string, it, j, i int) (float64, bool) {
	data, ok := g.channels[channel]
	if !ok {
		return math.NaN(), false
	}
	idx := g.index(it, j, i)
	v := data.Elements[idx]
	return v, !g.invalid[idx] && !math.IsNaN(v)
}

func (g *GridField) channel(name string) (*sparse.DenseArray, error) {
	data, ok := g.channels[name]
	if !ok {
		return nil, fmt.Errorf("airshed: grid field has no channel %q: %w", name, ErrConfiguration)
	}
	return data, nil
}

// bracket returns the lower index and the interpolation weight of the
// upper index for x along an axis starting at x0 with spacing dx and
// n points.
func bracket(x, x0, dx float64, n int) (int, float64) {
	if n == 1 {
		return 0, 0
	}
	f := (x - x0) / dx
	i := int(math.Floor(f))
	if i >= n-1 {
		i = n - 2
	}
	if i < 0 {
		i = 0
	}
	w := f - float64(i)
	if w < 0 {
		w = 0
	} else if w > 1 {
		w = 1
	}
	return i, w
}

// timeBracket returns the lower time index and the weight of the upper
// time index for t, or an error if t is outside of the time axis.
func (g *GridField) timeBracket(t time.Time) (int, float64, error) {
	n := len(g.times)
	if t.Before(g.times[0]) || t.After(g.times[n-1]) {
		return 0, 0, fmt.Errorf("airshed: time %v is outside of [%v, %v]: %w",
			t, g.times[0], g.times[n-1], ErrOutOfDomain)
	}
	if n == 1 {
		return 0, 0, nil
	}
	// k is the first index with times[k] > t.
	k := sort.Search(n, func(i int) bool { return g.times[i].After(t) })
	if k == n {
		return n - 2, 1, nil
	}
	lo := k - 1
	span := g.times[k].Sub(g.times[lo]).Seconds()
	return lo, t.Sub(g.times[lo]).Seconds() / span, nil
}

// ValueAt returns the value of channel at the given location and time,
// using bilinear interpolation in space and linear interpolation in time.
// It returns ErrOutOfDomain if the query is outside of the lattice or time
// axis and ErrMissingData if any interpolation input with a non-zero
// weight is invalid.
func (g *GridField) ValueAt(channel string, lon, lat float64, t time.Time) (float64, error) {
	data, err := g.channel(channel)
	if err != nil {
		return math.NaN(), err
	}
	if !g.Contains(geom.Point{X: lon, Y: lat}) {
		return math.NaN(), fmt.Errorf("airshed: location (%g, %g) is outside of the grid: %w", lon, lat, ErrOutOfDomain)
	}
	k, wt, err := g.timeBracket(t)
	if err != nil {
		return math.NaN(), err
	}
	i, wx := bracket(lon, g.lon[0], g.dlon, len(g.lon))
	j, wy := bracket(lat, g.lat[0], g.dlat, len(g.lat))

	var v float64
	for dk, fk := range [2]float64{1 - wt, wt} {
		if fk == 0 {
			continue
		}
		for dj, fj := range [2]float64{1 - wy, wy} {
			if fj == 0 {
				continue
			}
			for di, fi := range [2]float64{1 - wx, wx} {
				if fi == 0 {
					continue
				}
				idx := g.index(k+dk, j+dj, i+di)
				val := data.Elements[idx]
				if g.invalid[idx] || math.IsNaN(val) {
					return math.NaN(), fmt.Errorf("airshed: %s at (%g, %g, %v): %w",
						channel, g.lon[i+di], g.lat[j+dj], g.times[k+dk], ErrMissingData)
				}
				v += fk * fj * fi * val
			}
		}
	}
	return v, nil
}

// TimeWindow is a half-open time interval [Start, End). A zero Start or
// End leaves that side of the window unbounded.
type TimeWindow struct {
	Start, End time.Time
}

// Contains returns whether t is within w.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// A Statistic reduces a non-empty set of valid values to a single number.
type Statistic func(vals []float64) float64

// Mean returns a Statistic that calculates the arithmetic mean.
func Mean() Statistic {
	return func(vals []float64) float64 { return stat.Mean(vals, nil) }
}

// Max returns a Statistic that finds the maximum value.
func Max() Statistic {
	return func(vals []float64) float64 { return floats.Max(vals) }
}

// ExceedanceFraction returns a Statistic that calculates the fraction of
// values that are greater than threshold.
func ExceedanceFraction(threshold float64) Statistic {
	return func(vals []float64) float64 {
		var n int
		for _, v := range vals {
			if v > threshold {
				n++
			}
		}
		return float64(n) / float64(len(vals))
	}
}

// Aggregate calculates statistic over the valid values of channel
// in cells whose centres are within region and at timestamps within
// window. A nil region selects the whole lattice. It returns
// ErrNoValidData if the selection contains no valid values.
func (g *GridField) Aggregate(channel string, region *geom.Bounds, window TimeWindow, statistic Statistic) (float64, error) {
	data, err := g.channel(channel)
	if err != nil {
		return math.NaN(), err
	}
	var vals []float64
	for it, t := range g.times {
		if !window.Contains(t) {
			continue
		}
		for j, y := range g.lat {
			if region != nil && (y < region.Min.Y || y > region.Max.Y) {
				continue
			}
			for i, x := range g.lon {
				if region != nil && (x < region.Min.X || x > region.Max.X) {
					continue
				}
				idx := g.index(it, j, i)
				if v := data.Elements[idx]; !g.invalid[idx] && !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
		}
	}
	if len(vals) == 0 {
		return math.NaN(), fmt.Errorf("airshed: aggregating %s: %w", channel, ErrNoValidData)
	}
	return statistic(vals), nil
}

// CheckCompatible checks whether a pollutant field can be analyzed
// together with a wind field: both must share the same time axis and the
// pollutant lattice must be within the wind lattice.
func CheckCompatible(wind, pollutant *GridField) error {
	if len(wind.times) != len(pollutant.times) {
		return fmt.Errorf("airshed: wind field has %d timestamps but pollutant field has %d: %w",
			len(wind.times), len(pollutant.times), ErrConfiguration)
	}
	for i, t := range wind.times {
		if !t.Equal(pollutant.times[i]) {
			return fmt.Errorf("airshed: wind and pollutant time axes differ at index %d (%v != %v): %w",
				i, t, pollutant.times[i], ErrConfiguration)
		}
	}
	wb, pb := wind.Bounds(), pollutant.Bounds()
	tol := spacingTolerance * math.Max(1, math.Max(wind.dlon, wind.dlat))
	if pb.Min.X < wb.Min.X-tol || pb.Min.Y < wb.Min.Y-tol || pb.Max.X > wb.Max.X+tol || pb.Max.Y > wb.Max.Y+tol {
		return fmt.Errorf("airshed: pollutant domain %v is not within wind domain %v: %w", pb, wb, ErrConfiguration)
	}
	return nil
}
