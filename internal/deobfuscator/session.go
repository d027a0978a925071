package deobfuscator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/google/uuid"

	"github.com/whit3rabbit/phpunmixer/internal/astutil"
	"github.com/whit3rabbit/phpunmixer/internal/config"
	"github.com/whit3rabbit/phpunmixer/internal/transformer"
)

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session and everything it runs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records every run into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithRegistry replaces the built-in pass registry.
func WithRegistry(r *transformer.Registry) Option {
	return func(s *Session) { s.registry = r }
}

// Session runs deobfuscation with one configuration. Runs are independent, so a
// Session may be shared by goroutines.
type Session struct {
	cfg       *config.Config
	fe        *astutil.Frontend
	logger    *slog.Logger
	metrics   *Metrics
	registry  *transformer.Registry
	optimizer *Optimizer
}

// NewSession validates cfg and prepares the pass set. A positive
// Engine.MaxStackBytes raises the process-wide goroutine stack ceiling.
func NewSession(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &Session{cfg: cfg, fe: astutil.NewFrontend(cfg.ParserMode)}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.Engine.MaxStackBytes > 0 {
		debug.SetMaxStack(cfg.Engine.MaxStackBytes)
	}
	s.optimizer = NewOptimizer(cfg, s.registry, s.logger, s.metrics)
	s.logger.Debug("Session ready", "php", s.fe.Version(), "passes", s.optimizer.PassNames())
	return s, nil
}

// Frontend returns the parser and printer the session uses.
func (s *Session) Frontend() *astutil.Frontend { return s.fe }

// Run deobfuscates one PHP source. It always returns a report; a parse or render
// failure is reported through Status and Err with the artifacts computed so far.
func (s *Session) Run(ctx context.Context, src []byte) *Report {
	start := time.Now()
	rep := &Report{ID: uuid.NewString()}
	log := s.logger.With("run", rep.ID)
	defer func() { s.metrics.observeRun(rep, time.Since(start)) }()

	root, err := s.fe.Parse(src)
	if err != nil {
		rep.Status = StatusParseFailed
		rep.Err = err
		log.Warn("Source does not parse", "error", err)
		return rep
	}

	rep.Intercepted = Intercept(s.fe, root, log)
	for _, ic := range rep.Intercepted {
		s.metrics.interceptedPayload(ic.Construct)
	}

	rep.TreeBefore = s.dump(root, log)
	if rep.TextBefore, err = astutil.Print(root); err != nil {
		rep.TextBefore = string(src)
	}

	rt := transformer.NewRuntime(s.fe, log)
	rt.DepthLimit = s.cfg.Engine.DepthLimit
	rt.MaxOutput = s.cfg.Engine.EvalMaxOutput

	res, err := s.optimizer.Run(ctx, rt, root)
	if err != nil {
		rep.Err = err
		log.Warn("Optimizer interrupted", "error", err)
	} else if res.CapReached {
		rep.Err = ErrIterationCap
	}
	rep.Score = res.Score
	rep.Rounds = res.Rounds
	rep.Calls = res.Calls
	rep.Decoded = res.Decoded
	rep.CapReached = res.CapReached
	rep.History = res.History
	for _, p := range res.Passes {
		rep.Passes = append(rep.Passes, *p)
	}
	rep.TreeAfter = s.dump(res.Root, log)

	text, err := s.fe.Render(res.Root)
	if err != nil {
		rep.Status = StatusResultUnparseFailed
		rep.Err = err
		log.Error("Rewritten tree does not render", "error", err)
		return rep
	}
	rep.TextAfter = text
	rep.Status = Classify(rep.Score, s.cfg.Engine.ScoreThreshold, rep.TextBefore, rep.TextAfter)
	log.Info("Run finished", "status", rep.Status.Label(), "score", rep.Score, "rounds", rep.Rounds,
		"duration", time.Since(start))
	return rep
}

// dump returns the structural dump of root, or a placeholder when the dump would be
// larger than astutil.DefaultDumpLimit.
func (s *Session) dump(root ast.Vertex, log *slog.Logger) string {
	out, ok := astutil.DumpBounded(root, astutil.DefaultDumpLimit)
	if !ok {
		log.Debug("Tree dump omitted", "limit_bytes", astutil.DefaultDumpLimit)
		return DumpOmitted
	}
	return out
}

// RunFile reads and deobfuscates one file.
func (s *Session) RunFile(ctx context.Context, path string) (*Report, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	rep := s.Run(ctx, src)
	rep.Source = path
	return rep, nil
}
