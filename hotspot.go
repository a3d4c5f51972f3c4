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

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultExceedanceRule is the default expression for the per-cell
// exceedance threshold.
const DefaultExceedanceRule = "mean + k * std"

// KnownSource is an entry in a registry of known emission sources.
type KnownSource struct {
	Name     string  `toml:"name"`
	Lon      float64 `toml:"lon"`
	Lat      float64 `toml:"lat"`
	Category string  `toml:"category"`
}

// Point returns the location of s.
func (s KnownSource) Point() geom.Point { return geom.Point{X: s.Lon, Y: s.Lat} }

// HotspotConfig holds the settings for hotspot detection.
type HotspotConfig struct {
	// ExceedanceRule is an expression for the threshold a cell's values
	// are compared against. It can use the variables "mean" and "std"
	// (the cell's time mean and standard deviation), "k" (StdMultiple),
	// and "domain_mean" and "domain_std" (the statistics of all valid
	// values in the field). If empty, DefaultExceedanceRule is used.
	ExceedanceRule string

	StdMultiple float64

	// MinPersistence is the persistence score a cell must exceed to be
	// part of a hotspot.
	MinPersistence float64

	// NeighborRadius is the distance, in grid cells in any direction,
	// within which candidate cells are joined into the same hotspot.
	NeighborRadius int

	// SourceMatchRadiusKm is the maximum distance between a hotspot
	// centroid and a known source for the source to be attached.
	SourceMatchRadiusKm float64

	KnownSources []KnownSource

	// Channel is the channel to analyze. It defaults to Concentration.
	Channel string

	// Workers is the number of goroutines used to calculate cell
	// statistics. If zero, runtime.GOMAXPROCS(0) is used.
	Workers int
}

// CellScore holds the statistics of one grid cell over the full time
// span of a field.
type CellScore struct {
	J, I     int // latitude and longitude indices
	Lon, Lat float64

	// Valid is the number of valid time steps.
	Valid int

	Mean, Std, Max float64
	Threshold      float64

	// Persistence is the fraction of valid time steps where the value
	// is greater than Threshold.
	Persistence float64
}

// Hotspot is a cluster of neighboring cells with persistently elevated
// concentrations.
type Hotspot struct {
	// Pollutant is the name of the analyzed field, if known.
	Pollutant string

	// Centroid is the persistence-weighted mean of the member cell
	// centres.
	Centroid geom.Point

	// Cells are the member cells, ordered by latitude and then longitude
	// index.
	Cells []CellScore

	// Persistence is the mean persistence score of the member cells.
	Persistence float64

	MeanConcentration, MaxConcentration float64

	// Source is the nearest known source if it is within the match
	// radius, otherwise nil.
	Source *KnownSource

	// NearestSource is the nearest known source regardless of distance,
	// and SourceDistanceKm is its distance from the centroid. They are
	// nil and NaN if there are no known sources.
	NearestSource    *KnownSource
	SourceDistanceKm float64
}

// HotspotDetector finds spatially persistent exceedance clusters.
type HotspotDetector struct {
	cfg  HotspotConfig
	rule *govaluate.EvaluableExpression

	Log logrus.FieldLogger
}

// NewHotspotDetector creates a new HotspotDetector, returning an error if
// the configuration is invalid.
func NewHotspotDetector(cfg HotspotConfig) (*HotspotDetector, error) {
	if cfg.ExceedanceRule == "" {
		cfg.ExceedanceRule = DefaultExceedanceRule
	}
	if cfg.Channel == "" {
		cfg.Channel = Concentration
	}
	rule, err := ParseExceedanceRule(cfg.ExceedanceRule)
	if err != nil {
		return nil, err
	}
	if cfg.NeighborRadius < 0 {
		return nil, fmt.Errorf("airshed: hotspot neighbor radius must be >= 0 but is %d: %w", cfg.NeighborRadius, ErrConfiguration)
	}
	if cfg.MinPersistence < 0 || cfg.MinPersistence >= 1 {
		return nil, fmt.Errorf("airshed: hotspot minimum persistence must be in [0, 1) but is %g: %w", cfg.MinPersistence, ErrConfiguration)
	}
	if cfg.SourceMatchRadiusKm < 0 {
		return nil, fmt.Errorf("airshed: source match radius must be >= 0 but is %g: %w", cfg.SourceMatchRadiusKm, ErrConfiguration)
	}
	return &HotspotDetector{
		cfg:  cfg,
		rule: rule,
		Log:  logrus.StandardLogger(),
	}, nil
}

var exceedanceVars = map[string]bool{
	"mean": true, "std": true, "k": true, "domain_mean": true, "domain_std": true,
}

// ParseExceedanceRule parses an exceedance threshold expression and
// checks that it only uses the variables available to it and evaluates to
// a number.
func ParseExceedanceRule(expr string) (*govaluate.EvaluableExpression, error) {
	functions := map[string]govaluate.ExpressionFunction{
		"max": func(args ...interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("airshed: got %d arguments for function 'max', but needs 2", len(args))
			}
			a, aok := args[0].(float64)
			b, bok := args[1].(float64)
			if !aok || !bok {
				return nil, fmt.Errorf("airshed: arguments to function 'max' must be numbers")
			}
			return math.Max(a, b), nil
		},
	}
	rule, err := govaluate.NewEvaluableExpressionWithFunctions(expr, functions)
	if err != nil {
		return nil, fmt.Errorf("airshed: parsing exceedance rule %q: %v: %w", expr, err, ErrConfiguration)
	}
	params := make(map[string]interface{}, len(exceedanceVars))
	for v := range exceedanceVars {
		params[v] = 1.0
	}
	for _, v := range rule.Vars() {
		if !exceedanceVars[v] {
			return nil, fmt.Errorf("airshed: exceedance rule %q uses unknown variable %q: %w", expr, v, ErrConfiguration)
		}
	}
	// Check the result type now so that a bad rule fails before any
	// data is processed.
	r, err := rule.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("airshed: evaluating exceedance rule %q: %v: %w", expr, err, ErrConfiguration)
	}
	if _, ok := r.(float64); !ok {
		return nil, fmt.Errorf("airshed: exceedance rule %q returns %T, not a number: %w", expr, r, ErrConfiguration)
	}
	return rule, nil
}

// Scores calculates the statistics and persistence score of every cell
// in g that has at least one valid value. Cells are ordered by latitude
// and then longitude index.
func (hd *HotspotDetector) Scores(g *GridField) ([]CellScore, error) {
	if !g.HasChannel(hd.cfg.Channel) {
		return nil, fmt.Errorf("airshed: grid field has no channel %q: %w", hd.cfg.Channel, ErrConfiguration)
	}
	nx, ny, nt := g.Nx(), g.Ny(), g.Nt()
	cells := make([]CellScore, nx*ny)
	vals := make([][]float64, nx*ny)

	hd.parallel(len(cells), func(ii int) {
		j, i := ii/nx, ii%nx
		c := CellScore{J: j, I: i, Lon: g.lon[i], Lat: g.lat[j]}
		v := make([]float64, 0, nt)
		for it := 0; it < nt; it++ {
			if x, ok := g.Value(hd.cfg.Channel, it, j, i); ok {
				v = append(v, x)
			}
		}
		c.Valid = len(v)
		if c.Valid > 0 {
			c.Mean, c.Std = stat.MeanStdDev(v, nil)
			if c.Valid < 2 {
				c.Std = 0
			}
			c.Max = floats.Max(v)
		}
		cells[ii], vals[ii] = c, v
	})

	var all []float64
	for _, v := range vals {
		all = append(all, v...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("airshed: hotspot detection: %w", ErrNoValidData)
	}
	domainMean, domainStd := stat.MeanStdDev(all, nil)
	if len(all) < 2 {
		domainStd = 0
	}

	// Expression evaluation is not safe for concurrent use.
	params := map[string]interface{}{
		"k":           hd.cfg.StdMultiple,
		"domain_mean": domainMean,
		"domain_std":  domainStd,
	}
	for ii := range cells {
		c := &cells[ii]
		if c.Valid == 0 {
			continue
		}
		params["mean"] = c.Mean
		params["std"] = c.Std
		r, err := hd.rule.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("airshed: evaluating exceedance rule %q: %v: %w", hd.cfg.ExceedanceRule, err, ErrConfiguration)
		}
		th, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("airshed: exceedance rule returned %T, not a number: %w", r, ErrConfiguration)
		}
		c.Threshold = th
	}

	hd.parallel(len(cells), func(ii int) {
		c := &cells[ii]
		if c.Valid == 0 {
			return
		}
		var n int
		for _, v := range vals[ii] {
			if v > c.Threshold {
				n++
			}
		}
		c.Persistence = float64(n) / float64(c.Valid)
	})

	o := make([]CellScore, 0, len(cells))
	for _, c := range cells {
		if c.Valid > 0 {
			o = append(o, c)
		} else {
			hd.Log.WithFields(logrus.Fields{"lon": c.Lon, "lat": c.Lat}).Debug("cell has no valid data")
		}
	}
	return o, nil
}

// parallel calls f for each index in [0, n) using the configured number
// of goroutines.
func (hd *HotspotDetector) parallel(n int, f func(ii int)) {
	nprocs := hd.cfg.Workers
	if nprocs <= 0 {
		nprocs = runtime.GOMAXPROCS(0)
	}
	var wg sync.WaitGroup
	wg.Add(nprocs)
	for pp := 0; pp < nprocs; pp++ {
		go func(pp int) {
			for ii := pp; ii < n; ii += nprocs {
				f(ii)
			}
			wg.Done()
		}(pp)
	}
	wg.Wait()
}

// Detect finds the hotspots in g, ordered by their first member cell.
func (hd *HotspotDetector) Detect(g *GridField) ([]Hotspot, error) {
	scores, err := hd.Scores(g)
	if err != nil {
		return nil, err
	}
	var candidates []CellScore
	for _, c := range scores {
		if c.Persistence > hd.cfg.MinPersistence {
			candidates = append(candidates, c)
		}
	}
	clusters := Cluster(candidates, hd.cfg.NeighborRadius)
	hotspots := make([]Hotspot, len(clusters))
	for i, members := range clusters {
		hotspots[i] = newHotspot(members)
		hd.matchSource(&hotspots[i])
	}
	hd.Log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"hotspots":   len(hotspots),
	}).Info("hotspot detection complete")
	return hotspots, nil
}

// clusterCell is a candidate cell located in grid index space.
type clusterCell struct {
	geom.Point
	k int
}

// Cluster groups cells into clusters in which every cell is within
// radius cells, in both the latitude and longitude directions, of at
// least one other member. Members are ordered by latitude and then
// longitude index, and clusters by their first member, so the result
// does not depend on the order of cells.
func Cluster(cells []CellScore, radius int) [][]CellScore {
	index := rtree.NewTree(25, 50)
	for k, c := range cells {
		index.Insert(&clusterCell{Point: geom.Point{X: float64(c.I), Y: float64(c.J)}, k: k})
	}

	parent := make([]int, len(cells))
	for k := range parent {
		parent[k] = k
	}
	var find func(k int) int
	find = func(k int) int {
		if parent[k] != k {
			parent[k] = find(parent[k])
		}
		return parent[k]
	}

	r := float64(radius) + 0.5
	for k, c := range cells {
		b := &geom.Bounds{
			Min: geom.Point{X: float64(c.I) - r, Y: float64(c.J) - r},
			Max: geom.Point{X: float64(c.I) + r, Y: float64(c.J) + r},
		}
		for _, nI := range index.SearchIntersect(b) {
			ra, rb := find(k), find(nI.(*clusterCell).k)
			if ra != rb {
				parent[ra] = rb
			}
		}
	}

	groups := make(map[int][]CellScore)
	for k, c := range cells {
		root := find(k)
		groups[root] = append(groups[root], c)
	}
	o := make([][]CellScore, 0, len(groups))
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return cellLess(members[i], members[j]) })
		o = append(o, members)
	}
	sort.Slice(o, func(i, j int) bool { return cellLess(o[i][0], o[j][0]) })
	return o
}

func cellLess(a, b CellScore) bool {
	if a.J != b.J {
		return a.J < b.J
	}
	return a.I < b.I
}

func newHotspot(members []CellScore) Hotspot {
	h := Hotspot{
		Cells:            members,
		SourceDistanceKm: math.NaN(),
	}
	var psum, msum float64
	h.MaxConcentration = math.Inf(-1)
	for _, c := range members {
		h.Centroid.X += c.Lon * c.Persistence
		h.Centroid.Y += c.Lat * c.Persistence
		psum += c.Persistence
		msum += c.Mean
		h.MaxConcentration = math.Max(h.MaxConcentration, c.Max)
	}
	// Members always have persistence > 0.
	h.Centroid.X /= psum
	h.Centroid.Y /= psum
	n := float64(len(members))
	h.Persistence = psum / n
	h.MeanConcentration = msum / n
	return h
}

// matchSource finds the known source nearest to h.
func (hd *HotspotDetector) matchSource(h *Hotspot) {
	sources := hd.cfg.KnownSources
	best := -1
	bestD := math.Inf(1)
	for i, s := range sources {
		d := greatCircleKm(h.Centroid, s.Point())
		if d < bestD || (d == bestD && s.Name < sources[best].Name) {
			best, bestD = i, d
		}
	}
	if best < 0 {
		return
	}
	s := sources[best]
	h.NearestSource = &s
	h.SourceDistanceKm = bestD
	if bestD <= hd.cfg.SourceMatchRadiusKm {
		h.Source = &s
	}
}
