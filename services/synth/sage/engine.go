// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sage orchestrates Space-Alternating Generalized
// Expectation-Maximization calibration: the non-isoplanatic problem is
// decomposed into per-direction windows, each a (sky model, gain table)
// pair, and solved by alternating a globally synchronized E-step with
// independent per-window E- and M-steps.
//
// The engine builds graphs; it never computes. Within one iteration the
// only synchronization point is the all-windows model sum: every
// per-window node is independent of its siblings and free to run in
// parallel. Windows are replaced wholesale each M-step so iterations stay
// referentially independent inside the graph.
package sage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianSynth/services/synth/calibration"
	"github.com/AleutianAI/AleutianSynth/services/synth/compose"
	"github.com/AleutianAI/AleutianSynth/services/synth/dag"
	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/imaging"
)

// Primitives are the external calibration collaborators the engine
// schedules. Each must be side-effect-free on its inputs.
type Primitives struct {
	PredictSkyModel func(vis *data.Visibility, sm *data.SkyModel) (*data.Visibility, error)
	CreateGainTable func(vis *data.Visibility) (*data.GainTable, error)
	ApplyGainTable  func(vis *data.Visibility, gt *data.GainTable, inverse bool) (*data.Visibility, error)
	FitSkyModel     func(evis *data.Visibility, sm *data.SkyModel, gain float64) (*data.SkyModel, error)
	FitGainTable    func(evis, mvis *data.Visibility, gt *data.GainTable, gain float64, phaseOnly bool) (*data.GainTable, error)
}

// Options configure one calibration solve.
type Options struct {
	// NIter is the number of E/M cycles. The loop always runs exactly
	// NIter iterations.
	NIter int

	// Tol is the convergence tolerance. It is recorded for diagnostics but
	// does not trigger an early exit.
	Tol float64

	// Gain damps the M-step updates, in (0, 1].
	Gain float64

	// PhaseOnly restricts gain solves to unit-amplitude gains.
	PhaseOnly bool

	// Timeslice is the gain solution window width in seconds; non-positive
	// means one window for the whole observation.
	Timeslice float64
}

// DefaultOptions match the conventional solve: ten iterations, quarter
// damping.
func DefaultOptions() Options {
	return Options{NIter: 10, Tol: 1e-8, Gain: 0.25}
}

func (o Options) validate() error {
	if o.NIter < 1 {
		return &compose.ConfigError{Param: "niter", Detail: fmt.Sprintf("must be >= 1, got %d", o.NIter)}
	}
	if o.Gain <= 0 || o.Gain > 1 {
		return &compose.ConfigError{Param: "gain", Detail: fmt.Sprintf("must be in (0, 1], got %g", o.Gain)}
	}
	return nil
}

// Engine builds SAGE calibration graphs.
type Engine struct {
	prims  Primitives
	logger *slog.Logger
}

// New creates an Engine. Nil primitives fall back to the reference
// implementations; a nil logger falls back to slog.Default().
func New(prims Primitives, logger *slog.Logger) *Engine {
	if prims.PredictSkyModel == nil {
		prims.PredictSkyModel = func(vis *data.Visibility, sm *data.SkyModel) (*data.Visibility, error) {
			return imaging.PredictSkyModel(vis, sm, nil)
		}
	}
	if prims.ApplyGainTable == nil {
		prims.ApplyGainTable = calibration.ApplyGainTable
	}
	if prims.FitSkyModel == nil {
		prims.FitSkyModel = calibration.FitSkyModel
	}
	if prims.FitGainTable == nil {
		prims.FitGainTable = calibration.FitGainTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{prims: prims, logger: logger}
}

// BuildSolveGraph appends the full SAGE solve to the graph.
//
// Description:
//
//	Initialise one window per input direction, then iterate NIter times:
//	the all-windows model sum (the single global synchronization barrier
//	per iteration), the per-window E-step
//	evis_k = model_k + observed − model_all, and the per-window M-step
//	that refits the window's sky model and gain table against evis_k.
//	After the loop one more all-windows sum yields the total reconstructed
//	visibility, and the residual node computes observed − total.
//
// Outputs:
//
//	[]dag.Handle - One handle per window's final CalSkyModel.
//	dag.Handle - Handle of the residual visibility.
//	error - Configuration or shape problems, detected before scheduling.
func (e *Engine) BuildSolveGraph(g *dag.Graph, vis *data.Visibility, skymodels []*data.SkyModel, opts Options) ([]dag.Handle, dag.Handle, error) {
	if err := opts.validate(); err != nil {
		return nil, dag.Handle{}, err
	}
	if len(skymodels) == 0 {
		return nil, dag.Handle{}, &compose.ConfigError{Param: "skymodels", Detail: "at least one calibration direction required"}
	}
	for _, sm := range skymodels {
		for _, sc := range sm.Components {
			if err := data.AssertSameChanPol("sage window", vis, sc); err != nil {
				return nil, dag.Handle{}, err
			}
		}
	}

	createGT := e.prims.CreateGainTable
	if createGT == nil {
		timeslice := opts.Timeslice
		createGT = func(v *data.Visibility) (*data.GainTable, error) {
			return calibration.CreateGainTableFromVisibility(v, timeslice)
		}
	}

	visH := g.Value("observed", vis)

	// Initialise: one (sky model copy, unity gain table) pair per
	// direction, no cross-window state.
	windows := make([]dag.Handle, len(skymodels))
	for k, sm := range skymodels {
		windows[k] = g.Add(fmt.Sprintf("initialise_window[%d]", k), func(_ context.Context, inputs []any) (any, error) {
			observed := inputs[0].(*data.Visibility)
			gt, err := createGT(observed)
			if err != nil {
				return nil, err
			}
			return &data.CalSkyModel{SkyModel: sm.Copy(), GainTable: gt}, nil
		}, visH)
	}

	for iter := 0; iter < opts.NIter; iter++ {
		allH := e.eStepAll(g, visH, windows, fmt.Sprintf("%d", iter))
		next := make([]dag.Handle, len(windows))
		for k := range windows {
			evisH := e.eStep(g, visH, windows[k], allH, iter, k)
			next[k] = e.mStep(g, evisH, windows[k], opts, iter, k)
		}
		windows = next
	}

	finalH := e.eStepAll(g, visH, windows, "final")
	residualH := g.Add("residual_visibility", func(_ context.Context, inputs []any) (any, error) {
		observed := inputs[0].(*data.Visibility)
		total := inputs[1].(*data.Visibility)
		out := observed.Copy()
		for i, v := range total.Vis {
			out.Vis[i] -= v
		}
		return out, nil
	}, visH, finalH)

	e.logger.Debug("composed sage solve graph",
		slog.Int("windows", len(skymodels)),
		slog.Int("niter", opts.NIter),
		slog.Float64("gain", opts.Gain),
		slog.Float64("tol", opts.Tol),
		slog.Int("nodes", g.Len()),
	)
	return windows, residualH, nil
}

// eStepAll sums every window's gain-corrected model visibility. This is
// the global synchronization barrier: per-window E-steps of the same
// iteration all depend on its output.
func (e *Engine) eStepAll(g *dag.Graph, visH dag.Handle, windows []dag.Handle, label string) dag.Handle {
	predicted := make([]dag.Handle, len(windows))
	for k := range windows {
		predicted[k] = g.Add(fmt.Sprintf("predict_window[%s,%d]", label, k), func(_ context.Context, inputs []any) (any, error) {
			return e.predictAndApply(inputs[0].(*data.Visibility), inputs[1].(*data.CalSkyModel))
		}, visH, windows[k])
	}
	return g.Add(fmt.Sprintf("sum_window_models[%s]", label), func(_ context.Context, inputs []any) (any, error) {
		parts := make([]*data.Visibility, len(inputs))
		for i := range inputs {
			parts[i] = inputs[i].(*data.Visibility)
		}
		return compose.SumPredictResults(parts)
	}, predicted...)
}

// eStep isolates window k: its own model plus the discrepancy between the
// observed data and the summed models; equivalently, the observed data
// with every other window's contribution removed.
func (e *Engine) eStep(g *dag.Graph, visH, windowH, allH dag.Handle, iter, k int) dag.Handle {
	return g.Add(fmt.Sprintf("e_step[%d,%d]", iter, k), func(_ context.Context, inputs []any) (any, error) {
		observed := inputs[0].(*data.Visibility)
		csm := inputs[1].(*data.CalSkyModel)
		all := inputs[2].(*data.Visibility)

		tvis, err := e.predictAndApply(observed, csm)
		if err != nil {
			return nil, err
		}
		evis := observed.Copy()
		for i := range evis.Vis {
			evis.Vis[i] = tvis.Vis[i] + observed.Vis[i] - all.Vis[i]
		}
		return evis, nil
	}, visH, windowH, allH)
}

// mStep refits window k against its E-step visibility and replaces the
// window wholesale.
func (e *Engine) mStep(g *dag.Graph, evisH, windowH dag.Handle, opts Options, iter, k int) dag.Handle {
	return g.Add(fmt.Sprintf("m_step[%d,%d]", iter, k), func(_ context.Context, inputs []any) (any, error) {
		evis := inputs[0].(*data.Visibility)
		csm := inputs[1].(*data.CalSkyModel)

		sm, err := e.prims.FitSkyModel(evis, csm.SkyModel, opts.Gain)
		if err != nil {
			return nil, err
		}
		mvis, err := e.prims.PredictSkyModel(evis, sm)
		if err != nil {
			return nil, err
		}
		gt, err := e.prims.FitGainTable(evis, mvis, csm.GainTable, opts.Gain, opts.PhaseOnly)
		if err != nil {
			return nil, err
		}
		return &data.CalSkyModel{SkyModel: sm, GainTable: gt}, nil
	}, evisH, windowH)
}

// predictAndApply predicts a window's model visibility and applies its
// gains.
func (e *Engine) predictAndApply(observed *data.Visibility, csm *data.CalSkyModel) (*data.Visibility, error) {
	tvis, err := e.prims.PredictSkyModel(observed, csm.SkyModel)
	if err != nil {
		return nil, err
	}
	return e.prims.ApplyGainTable(tvis, csm.GainTable, false)
}

// Solve builds the solve graph and computes it on the evaluator.
//
// Outputs:
//
//	[]*data.CalSkyModel - The converged windows, one per input direction.
//	*data.Visibility - The residual: observed minus total reconstruction.
//	error - The first node failure; a degenerate M-step fails the whole
//	  solve rather than desynchronizing later iterations.
func (e *Engine) Solve(ctx context.Context, eval dag.Evaluator, vis *data.Visibility, skymodels []*data.SkyModel, opts Options) ([]*data.CalSkyModel, *data.Visibility, error) {
	g := dag.NewGraph("sage_solve")
	windows, residualH, err := e.BuildSolveGraph(g, vis, skymodels, opts)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("sage solve starting",
		slog.Int("windows", len(skymodels)),
		slog.Int("niter", opts.NIter),
		slog.Float64("gain", opts.Gain),
	)

	outs := append(append([]dag.Handle(nil), windows...), residualH)
	values, err := eval.Compute(ctx, g, outs)
	if err != nil {
		return nil, nil, err
	}

	models := make([]*data.CalSkyModel, len(windows))
	for i := range windows {
		models[i] = values[i].(*data.CalSkyModel)
	}
	residual := values[len(values)-1].(*data.Visibility)

	e.logger.Info("sage solve completed",
		slog.Int("windows", len(models)),
	)
	return models, residual, nil
}
