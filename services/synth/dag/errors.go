// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"errors"
	"fmt"
)

var (
	// ErrNilContext indicates a nil context was passed to Compute.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilTask indicates a node was added without a task function.
	ErrNilTask = errors.New("task must not be nil")

	// ErrUnknownHandle indicates a dependency handle that does not refer to
	// a node already in the graph.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrArity indicates a multi-output task whose result was not a []any
	// of the declared length.
	ErrArity = errors.New("task output arity mismatch")

	// ErrNoProgress indicates the scheduler found no runnable node while
	// work remains. Impossible for graphs built through Graph.Add; kept as
	// a defect detector.
	ErrNoProgress = errors.New("no nodes ready to execute")
)

// NodeError wraps an error with the node it came from. The first failing
// node fails the whole computation; there is no partial-result recovery.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
