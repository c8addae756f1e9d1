// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	tracer = otel.Tracer("aleutian.synthesis.dag")
	meter  = otel.Meter("aleutian.synthesis.dag")
)

// Pool evaluates a graph on a bounded worker pool with observability.
//
// Description:
//
//	Pool repeatedly collects the nodes whose dependencies are satisfied
//	and runs them concurrently, bounded by Workers goroutines. Sibling
//	nodes have no ordering guarantee; the only ordering honored is
//	producer-before-consumer. The first node error cancels the batch and
//	fails the whole computation.
//
// Thread Safety:
//
//	Pool is safe for concurrent use. Multiple computations can run
//	concurrently on the same Pool.
type Pool struct {
	// Workers bounds node concurrency. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	nodeLatency  metric.Float64Histogram
	nodeOK       metric.Int64Counter
	nodeFailed   metric.Int64Counter
	activeNodes  metric.Int64UpDownCounter
	graphLatency metric.Float64Histogram
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (p *Pool) initMetrics(logger *slog.Logger) {
	p.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		p.nodeLatency, err = meter.Float64Histogram("dag_node_duration_seconds",
			metric.WithDescription("Time spent executing each graph node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		p.nodeOK, err = meter.Int64Counter("dag_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_ok: "+err.Error())
		}

		p.nodeFailed, err = meter.Int64Counter("dag_node_failure_total",
			metric.WithDescription("Number of failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failed: "+err.Error())
		}

		p.activeNodes, err = meter.Int64UpDownCounter("dag_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		p.graphLatency, err = meter.Float64Histogram("dag_graph_duration_seconds",
			metric.WithDescription("Total graph computation time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "graph_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some DAG metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// poolState tracks per-computation progress. Guarded by mu so sibling
// nodes can publish results concurrently.
type poolState struct {
	mu      sync.Mutex
	results []any
	done    []bool
	running []bool
}

func (st *poolState) setDone(id int, out any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.results[id] = out
	st.done[id] = true
	st.running[id] = false
}

// Compute evaluates the graph and returns one materialized value per
// requested handle.
func (p *Pool) Compute(ctx context.Context, g *Graph, outs []Handle) ([]any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := g.Err(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p.initMetrics(logger)

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	marks, err := g.needed(outs)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, m := range marks {
		if m {
			total++
		}
	}

	runID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "dag.Compute",
		trace.WithAttributes(
			attribute.String("dag.name", g.name),
			attribute.String("dag.run_id", runID),
			attribute.Int("dag.node_count", total),
			attribute.Int("dag.workers", workers),
		),
	)
	defer span.End()

	start := time.Now()
	logger.Info("graph computation started",
		slog.String("graph", g.name),
		slog.String("run_id", runID),
		slog.Int("nodes", total),
		slog.Int("workers", workers),
	)

	st := &poolState{
		results: make([]any, len(g.nodes)),
		done:    make([]bool, len(g.nodes)),
		running: make([]bool, len(g.nodes)),
	}

	remaining := total
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return nil, err
		}

		ready := p.findReady(g, marks, st)
		if len(ready) == 0 {
			span.RecordError(ErrNoProgress)
			span.SetStatus(codes.Error, ErrNoProgress.Error())
			return nil, ErrNoProgress
		}

		if err := p.computeBatch(ctx, g, st, ready, workers, runID, logger); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("graph computation failed",
				slog.String("graph", g.name),
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		remaining -= len(ready)
	}

	duration := time.Since(start)
	if p.graphLatency != nil {
		p.graphLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("graph", g.name)),
		)
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("graph computation completed",
		slog.String("graph", g.name),
		slog.String("run_id", runID),
		slog.Duration("duration", duration),
		slog.Int("nodes_executed", total),
	)

	values := make([]any, len(outs))
	for i, h := range outs {
		v, err := g.extract(h, st.results[h.id-1])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// findReady returns the ids of needed nodes whose dependencies are all
// complete and which are neither complete nor running themselves.
func (p *Pool) findReady(g *Graph, marks []bool, st *poolState) []int {
	st.mu.Lock()
	defer st.mu.Unlock()

	var ready []int
	for i, n := range g.nodes {
		if !marks[i] || st.done[i] || st.running[i] {
			continue
		}
		ok := true
		for _, d := range n.deps {
			if !st.done[d.id-1] {
				ok = false
				break
			}
		}
		if ok {
			st.running[i] = true
			ready = append(ready, i)
		}
	}
	return ready
}

// computeBatch runs one set of independent nodes concurrently.
func (p *Pool) computeBatch(
	ctx context.Context,
	g *Graph,
	st *poolState,
	ready []int,
	workers int,
	runID string,
	logger *slog.Logger,
) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, id := range ready {
		id := id
		eg.Go(func() error {
			return p.computeNode(egCtx, g, st, id, runID, logger)
		})
	}
	return eg.Wait()
}

// computeNode runs a single node with observability.
func (p *Pool) computeNode(
	ctx context.Context,
	g *Graph,
	st *poolState,
	id int,
	runID string,
	logger *slog.Logger,
) error {
	n := g.nodes[id]

	if n.leaf {
		st.setDone(id, n.value)
		return nil
	}

	ctx, span := tracer.Start(ctx, n.name,
		trace.WithAttributes(
			attribute.String("dag.node", n.name),
			attribute.String("dag.run_id", runID),
			attribute.Int("dag.nout", n.nout),
		),
	)
	defer span.End()

	if p.activeNodes != nil {
		p.activeNodes.Add(ctx, 1)
		defer p.activeNodes.Add(ctx, -1)
	}

	logger.Debug("node starting",
		slog.String("node", n.name),
		slog.String("run_id", runID),
	)

	st.mu.Lock()
	inputs, err := g.gather(n, st.results)
	st.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	start := time.Now()
	out, err := n.task(ctx, inputs)
	duration := time.Since(start)

	if p.nodeLatency != nil {
		p.nodeLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("node", n.name)),
		)
	}

	if err == nil && n.nout > 1 {
		_, err = g.extract(Handle{id: id + 1, out: 0}, out)
	}

	if err != nil {
		if p.nodeFailed != nil {
			p.nodeFailed.Add(ctx, 1,
				metric.WithAttributes(attribute.String("node", n.name)),
			)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("node failed",
			slog.String("node", n.name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		var ne *NodeError
		if errors.As(err, &ne) {
			return err
		}
		return &NodeError{Node: n.name, Err: err}
	}

	if p.nodeOK != nil {
		p.nodeOK.Add(ctx, 1,
			metric.WithAttributes(attribute.String("node", n.name)),
		)
	}
	span.SetStatus(codes.Ok, "")

	st.setDone(id, out)

	logger.Debug("node completed",
		slog.String("node", n.name),
		slog.Duration("duration", duration),
	)

	return nil
}
