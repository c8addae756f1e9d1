// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"errors"
	"fmt"
)

// ErrSolverFailure indicates a numerically degenerate gain solve: singular
// normal equations or a solve that failed to converge. It propagates as a
// fatal failure of the graph branch, never retried or masked, because
// silently dropping a calibration window would corrupt the next global
// E-step for every other window.
var ErrSolverFailure = errors.New("solver failure")

// SolverError carries the location of a degenerate solve.
type SolverError struct {
	Window  int
	Antenna int
	Detail  string
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("solver failure at window %d antenna %d: %s", e.Window, e.Antenna, e.Detail)
}

func (e *SolverError) Unwrap() error {
	return ErrSolverFailure
}
