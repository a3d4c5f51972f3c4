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

import "errors"

// Errors returned by the analysis components. They are wrapped with
// context at the call site, so use errors.Is to check for them.
var (
	// ErrOutOfDomain is returned when a spatial or temporal query falls
	// outside of the bounds of a GridField.
	ErrOutOfDomain = errors.New("out of domain")

	// ErrMissingData is returned when a value needed for an interpolation
	// is marked invalid.
	ErrMissingData = errors.New("missing data")

	// ErrNoValidData is returned when an aggregate is requested over a
	// selection that contains no valid values.
	ErrNoValidData = errors.New("no valid data")

	// ErrConfiguration is returned for inconsistent inputs or configuration.
	// It is the only error that aborts an analysis run.
	ErrConfiguration = errors.New("configuration error")
)
