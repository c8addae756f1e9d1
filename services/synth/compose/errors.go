// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates an invalid combination of decomposition
// parameters. Raised at composition time, before any node is scheduled.
var ErrConfiguration = errors.New("invalid decomposition configuration")

// ConfigError carries the offending parameter.
type ConfigError struct {
	Param  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid decomposition configuration: %s: %s", e.Param, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}
