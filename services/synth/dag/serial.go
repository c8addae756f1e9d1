// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"context"
	"log/slog"
)

// Serial is the single-threaded reference evaluator. Nodes run one at a
// time in append order, which is a valid topological order by
// construction, so results are bit-for-bit deterministic.
type Serial struct {
	Logger *slog.Logger
}

// Compute evaluates the graph and returns one materialized value per
// requested handle.
func (s Serial) Compute(ctx context.Context, g *Graph, outs []Handle) ([]any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := g.Err(); err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	marks, err := g.needed(outs)
	if err != nil {
		return nil, err
	}

	results := make([]any, len(g.nodes))
	for i, n := range g.nodes {
		if !marks[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n.leaf {
			results[i] = n.value
			continue
		}
		inputs, err := g.gather(n, results)
		if err != nil {
			return nil, err
		}
		out, err := n.task(ctx, inputs)
		if err != nil {
			logger.Error("node failed",
				slog.String("graph", g.name),
				slog.String("node", n.name),
				slog.String("error", err.Error()),
			)
			return nil, &NodeError{Node: n.name, Err: err}
		}
		if n.nout > 1 {
			if _, badErr := g.extract(Handle{id: i + 1, out: 0}, out); badErr != nil {
				return nil, badErr
			}
		}
		results[i] = out
	}

	values := make([]any, len(outs))
	for i, h := range outs {
		v, err := g.extract(h, results[h.id-1])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
