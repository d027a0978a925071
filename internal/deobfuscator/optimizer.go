// Package deobfuscator drives the rewrite passes over a parsed file and reports the outcome.
package deobfuscator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/VKCOM/php-parser/pkg/ast"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/config"
	"github.com/whit3rabbit/phpunmixer/internal/transformer"
)

// ErrIterationCap is reported when the optimizer stops at the round cap instead of a fixed point.
var ErrIterationCap = errors.New("iteration cap reached before a fixed point")

// PassTotal accumulates what one pass did over a whole run.
type PassTotal struct {
	Name         string
	Weight       int
	Runs         int
	Replacements int
	Score        int
	Failures     int
}

// RoundStats is the summary of one optimizer round.
type RoundStats struct {
	Round        int
	Replacements int
	Decoded      int
	Score        int
}

// OptimizeResult is the outcome of Optimizer.Run.
type OptimizeResult struct {
	Root       ast.Vertex
	Score      int
	Rounds     int
	Calls      int64
	Decoded    int
	CapReached bool
	Passes     []*PassTotal
	History    []RoundStats
}

func (r *OptimizeResult) total(d transformer.Descriptor, weight int) *PassTotal {
	for _, p := range r.Passes {
		if p.Name == d.Name {
			return p
		}
	}
	p := &PassTotal{Name: d.Name, Weight: weight}
	r.Passes = append(r.Passes, p)
	return p
}

// Optimizer runs every enabled pass, round after round, until a round changes nothing.
type Optimizer struct {
	passes    []transformer.Descriptor
	weights   map[string]int
	sweep     *transformer.Sweep
	maxRounds int
	logger    *slog.Logger
	metrics   *Metrics
}

// NewOptimizer selects the active passes of reg that cfg does not disable. A nil
// registry means transformer.DefaultRegistry().
func NewOptimizer(cfg *config.Config, reg *transformer.Registry, logger *slog.Logger, metrics *Metrics) *Optimizer {
	if reg == nil {
		reg = transformer.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Optimizer{
		weights: make(map[string]int),
		sweep: transformer.NewSweep(transformer.SweepOptions{
			Base64:                  cfg.Decoding.Base64,
			URLSafe:                 cfg.Decoding.URLSafe,
			ApplyExtractedFunctions: cfg.Decoding.ApplyExtractedFunctions,
		}),
		maxRounds: cfg.Engine.MaxRounds,
		logger:    logger,
		metrics:   metrics,
	}
	for _, d := range reg.Passes() {
		if !d.Active || !cfg.PassEnabled(d.Name) {
			logger.Debug("Pass disabled", "pass", d.Name)
			continue
		}
		o.passes = append(o.passes, d)
		o.weights[d.Name] = cfg.Weight(d.Name, d.Weight)
	}
	return o
}

// PassNames lists the passes the optimizer runs, in order.
func (o *Optimizer) PassNames() []string {
	names := make([]string, 0, len(o.passes))
	for _, d := range o.passes {
		names = append(names, d.Name)
	}
	return names
}

// Run rewrites root to a fixed point. The literal sweep runs after every pass so that
// later passes of the same round see the decoded literals. Reaching the round cap is
// not an error: the tree so far is returned with CapReached set. Cancellation is
// checked between rounds and returns the partial result with ctx.Err().
func (o *Optimizer) Run(ctx context.Context, rt *transformer.Runtime, root ast.Vertex) (*OptimizeResult, error) {
	res := &OptimizeResult{Root: root}
	for _, d := range o.passes {
		res.total(d, o.weights[d.Name])
	}
	defer func() {
		astutil.FixPositions(res.Root)
		res.Calls = rt.Counters.Calls
	}()

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("optimizer stopped after %d rounds: %w", res.Rounds, err)
		}
		if round > o.maxRounds {
			res.CapReached = true
			o.logger.Warn("Stopping optimizer", "rounds", res.Rounds, "score", res.Score, "error", ErrIterationCap)
			return res, nil
		}

		before := astutil.Fingerprint(res.Root)
		stats := RoundStats{Round: round}
		dirty := false

		for _, d := range o.passes {
			total := res.total(d, o.weights[d.Name])
			total.Runs++

			out, ps, err := transformer.Run(d, rt.NewEnv(res.Root))
			if err != nil {
				total.Failures++
				o.metrics.passFailed(d.Name)
				o.logger.Warn("Pass failed, skipping it for this round", "pass", d.Name, "round", round, "error", err)
			} else {
				res.Root = out
				if ps.Replacements > 0 {
					gained := total.Weight * ps.Replacements
					total.Replacements += ps.Replacements
					total.Score += gained
					res.Score += gained
					stats.Replacements += ps.Replacements
					dirty = true
					o.metrics.replaced(d.Name, ps.Replacements)
					o.logger.Debug("Pass applied", "pass", d.Name, "round", round, "replacements", ps.Replacements, "visited", ps.Visited)
				}
			}

			if n := o.runSweep(rt, res.Root); n > 0 {
				stats.Decoded += n
				res.Decoded += n
				dirty = true
				o.metrics.decoded(n)
			}
		}

		res.Rounds = round
		stats.Score = res.Score
		res.History = append(res.History, stats)

		if !dirty && astutil.Fingerprint(res.Root) != before {
			o.logger.Debug("Tree changed without reported replacements", "round", round)
			dirty = true
		}
		if !dirty {
			return res, nil
		}
	}
}

func (o *Optimizer) runSweep(rt *transformer.Runtime, root ast.Vertex) (changed int) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("Literal sweep failed", "error", fmt.Errorf("panic: %v", r))
			changed = 0
		}
	}()
	return o.sweep.Run(rt.NewEnv(root))
}
