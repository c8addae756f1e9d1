// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dag is the deferred-task execution substrate: an explicit graph
// of pure operations with data-dependency edges and an output-arity
// annotation, plus swappable evaluators.
//
// Graph construction is single-threaded and side-effect-free. Nodes are
// appended with dependencies that must already exist, so the graph is
// acyclic by construction. All concurrency lives in the evaluators: Serial
// runs nodes one at a time in a deterministic order (the reference
// evaluator for tests), Pool runs independent nodes in parallel on a
// bounded worker pool with tracing and metrics.
package dag

import (
	"context"
	"fmt"
)

// Task is the unit of deferred work: a pure function of the outputs of its
// dependency nodes. Inputs arrive in dependency declaration order. A task
// declared with nout > 1 must return a []any of exactly that length.
type Task func(ctx context.Context, inputs []any) (any, error)

// Handle is a deferred reference to one output of one node. The zero
// Handle refers to nothing and is rejected as a dependency.
type Handle struct {
	id  int // 1-based node id; 0 is invalid
	out int // output index for multi-valued nodes
}

type node struct {
	name  string
	task  Task
	deps  []Handle
	nout  int
	value any
	leaf  bool
}

// Graph is an append-only DAG of deferred tasks.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent construction. Build it in a single
//	goroutine, then hand it to any number of evaluations.
type Graph struct {
	name   string
	nodes  []*node
	errors []error
}

// NewGraph creates an empty graph. The name is used in logging, tracing
// and metrics.
func NewGraph(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }

// Err returns the first construction error, if any. Evaluators refuse to
// compute a graph whose construction recorded an error.
func (g *Graph) Err() error {
	if len(g.errors) > 0 {
		return g.errors[0]
	}
	return nil
}

func (g *Graph) valid(h Handle) bool {
	if h.id < 1 || h.id > len(g.nodes) {
		return false
	}
	return h.out >= 0 && h.out < g.nodes[h.id-1].nout
}

func (g *Graph) append(name string, task Task, nout int, deps []Handle, value any, leaf bool) Handle {
	for _, d := range deps {
		if !g.valid(d) {
			g.errors = append(g.errors,
				&NodeError{Node: name, Err: fmt.Errorf("%w: dependency %d/%d", ErrUnknownHandle, d.id, d.out)})
			return Handle{}
		}
	}
	g.nodes = append(g.nodes, &node{
		name:  name,
		task:  task,
		deps:  append([]Handle(nil), deps...),
		nout:  nout,
		value: value,
		leaf:  leaf,
	})
	return Handle{id: len(g.nodes), out: 0}
}

// Add appends a single-output task node and returns its handle.
//
// Inputs:
//
//	name - Node name for logs and spans; need not be unique.
//	task - The deferred function. Must not be nil.
//	deps - Handles of nodes whose outputs feed this task, in the order the
//	  task expects its inputs.
func (g *Graph) Add(name string, task Task, deps ...Handle) Handle {
	if task == nil {
		g.errors = append(g.errors, &NodeError{Node: name, Err: ErrNilTask})
		return Handle{}
	}
	return g.append(name, task, 1, deps, nil, false)
}

// AddN appends a task node with nout outputs and returns one handle per
// output. The task must return a []any of length nout.
func (g *Graph) AddN(name string, nout int, task Task, deps ...Handle) []Handle {
	if task == nil {
		g.errors = append(g.errors, &NodeError{Node: name, Err: ErrNilTask})
		return make([]Handle, max(nout, 1))
	}
	if nout < 1 {
		g.errors = append(g.errors, &NodeError{Node: name, Err: fmt.Errorf("%w: nout=%d", ErrArity, nout)})
		return []Handle{{}}
	}
	h := g.append(name, task, nout, deps, nil, false)
	if h.id == 0 {
		return make([]Handle, nout)
	}
	out := make([]Handle, nout)
	for i := range out {
		out[i] = Handle{id: h.id, out: i}
	}
	return out
}

// Value appends a leaf node holding an already-materialized value.
func (g *Graph) Value(name string, v any) Handle {
	return g.append(name, nil, 1, nil, v, true)
}

// needed marks every node reachable from the requested handles. Node ids
// are append-ordered, so walking marked nodes in id order respects every
// dependency edge.
func (g *Graph) needed(outs []Handle) ([]bool, error) {
	marks := make([]bool, len(g.nodes))
	var visit func(h Handle) error
	visit = func(h Handle) error {
		if !g.valid(h) {
			return fmt.Errorf("%w: output %d/%d", ErrUnknownHandle, h.id, h.out)
		}
		if marks[h.id-1] {
			return nil
		}
		marks[h.id-1] = true
		for _, d := range g.nodes[h.id-1].deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, h := range outs {
		if err := visit(h); err != nil {
			return nil, err
		}
	}
	return marks, nil
}

// gather resolves a node's inputs from already-computed raw results.
func (g *Graph) gather(n *node, results []any) ([]any, error) {
	inputs := make([]any, len(n.deps))
	for i, d := range n.deps {
		v, err := g.extract(d, results[d.id-1])
		if err != nil {
			return nil, err
		}
		inputs[i] = v
	}
	return inputs, nil
}

// extract selects one output of a node's raw result, enforcing the
// declared arity for multi-output nodes.
func (g *Graph) extract(h Handle, raw any) (any, error) {
	n := g.nodes[h.id-1]
	if n.nout == 1 {
		return raw, nil
	}
	vals, ok := raw.([]any)
	if !ok || len(vals) != n.nout {
		return nil, &NodeError{Node: n.name,
			Err: fmt.Errorf("%w: want []any of len %d, got %T", ErrArity, n.nout, raw)}
	}
	return vals[h.out], nil
}

// Evaluator computes the materialized values of the requested handles.
//
// Implementations must honor the only ordering the graph requires
// (producer before consumer) and must fail the whole computation on the
// first node error.
type Evaluator interface {
	Compute(ctx context.Context, g *Graph, outs []Handle) ([]any, error)
}
