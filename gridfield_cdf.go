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
	"os"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// GridDataVersion is the version of the gridded data file format that
// ReadGridField can read and GridField.Write produces.
const GridDataVersion = "1.0.0"

// Names of the coordinate and mask variables in gridded data files.
const (
	lonVar   = "lon"
	latVar   = "lat"
	timeVar  = "time"
	validVar = "valid"
)

// ReadGridField reads a GridField from a netCDF file. The file must hold
// one-dimensional "lon", "lat" and "time" variables (time in seconds since
// the Unix epoch), an optional "valid" mask variable where zero marks
// missing data, and one [time, lat, lon] variable per channel.
func ReadGridField(rw cdf.ReaderWriterAt) (*GridField, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("airshed.ReadGridField: %v", err)
	}
	if v, ok := f.Header.GetAttribute("", "data_version").(string); !ok || v != GridDataVersion {
		return nil, fmt.Errorf("airshed.ReadGridField: data version %v is incompatible "+
			"with the required version %s: %w", f.Header.GetAttribute("", "data_version"), GridDataVersion, ErrConfiguration)
	}

	lon, err := readFloat64(f, lonVar)
	if err != nil {
		return nil, err
	}
	lat, err := readFloat64(f, latVar)
	if err != nil {
		return nil, err
	}
	secs, err := readFloat64(f, timeVar)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(secs))
	for i, s := range secs {
		times[i] = time.Unix(int64(s), 0).UTC()
	}

	g, err := NewGridField(lon, lat, times)
	if err != nil {
		return nil, fmt.Errorf("airshed.ReadGridField: %w", err)
	}

	for _, v := range f.Header.Variables() {
		switch v {
		case lonVar, latVar, timeVar:
			continue
		}
		dims := f.Header.Lengths(v)
		n := 1
		for _, d := range dims {
			n *= d
		}
		if len(dims) != 3 || n != len(g.invalid) {
			return nil, fmt.Errorf("airshed.ReadGridField: variable %s has dims %v "+
				"but the grid is [%d %d %d]: %w", v, dims, g.Nt(), g.Ny(), g.Nx(), ErrConfiguration)
		}
		tmp := make([]float32, n)
		if _, err = f.Reader(v, nil, nil).Read(tmp); err != nil {
			return nil, fmt.Errorf("airshed.ReadGridField: reading %s: %v", v, err)
		}
		if v == validVar {
			for i, val := range tmp {
				g.invalid[i] = val == 0
			}
			continue
		}
		data := sparse.ZerosDense(dims...)
		for i, val := range tmp {
			data.Elements[i] = float64(val)
		}
		if err := g.AddChannel(v, data); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func readFloat64(f *cdf.File, name string) ([]float64, error) {
	dims := f.Header.Lengths(name)
	if len(dims) != 1 {
		return nil, fmt.Errorf("airshed.ReadGridField: variable %s should be one-dimensional "+
			"but has dims %v: %w", name, dims, ErrConfiguration)
	}
	o := make([]float64, dims[0])
	if _, err := f.Reader(name, nil, nil).Read(o); err != nil {
		return nil, fmt.Errorf("airshed.ReadGridField: reading %s: %v", name, err)
	}
	return o, nil
}

// Write writes g to netcdf file w in the format read by ReadGridField.
func (g *GridField) Write(w *os.File) error {
	h := cdf.NewHeader([]string{timeVar, latVar, lonVar}, []int{g.Nt(), g.Ny(), g.Nx()})
	h.AddAttribute("", "comment", "AirShed gridded field")
	h.AddAttribute("", "data_version", GridDataVersion)

	h.AddVariable(lonVar, []string{lonVar}, []float64{0})
	h.AddAttribute(lonVar, "units", "degrees_east")
	h.AddVariable(latVar, []string{latVar}, []float64{0})
	h.AddAttribute(latVar, "units", "degrees_north")
	h.AddVariable(timeVar, []string{timeVar}, []float64{0})
	h.AddAttribute(timeVar, "units", "seconds since 1970-01-01 00:00:00 UTC")

	dims := []string{timeVar, latVar, lonVar}
	names := append(g.Channels(), validVar)
	for _, name := range names {
		h.AddVariable(name, dims, []float32{0})
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return err
	}

	secs := make([]float64, len(g.times))
	for i, t := range g.times {
		secs[i] = float64(t.Unix())
	}
	for name, data := range map[string][]float64{lonVar: g.lon, latVar: g.lat, timeVar: secs} {
		if _, err := f.Writer(name, nil, nil).Write(data); err != nil {
			return fmt.Errorf("airshed: writing variable %s to netcdf file: %v", name, err)
		}
	}

	valid := sparse.ZerosDense(g.Nt(), g.Ny(), g.Nx())
	for i, bad := range g.invalid {
		if !bad {
			valid.Elements[i] = 1
		}
	}
	for _, name := range names {
		data := valid
		if name != validVar {
			data = g.channels[name]
		}
		if err = writeNCF(f, name, data); err != nil {
			return fmt.Errorf("airshed: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeNCF(f *cdf.File, Var string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(Var)
	start := make([]int, len(end))
	_, err := f.Writer(Var, start, end).Write(data32)
	return err
}
