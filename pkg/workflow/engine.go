// Package workflow runs one user turn as an event-driven state machine:
// classify, fan out to source handlers, join, synthesize, grade with bounded
// retry, and stop. Steps declare the event kinds they may emit and the engine
// routes every emitted event through a static table.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/tracer"
	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/evaluate"
	"bioinsight-be/pkg/events"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/synth"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUndeclaredEmit = errors.New("step emitted an undeclared event kind")
	ErrNoRoute        = errors.New("no step accepts event")
	ErrStalled        = errors.New("workflow ended without a stop event")
)

// FailureMessage is what the user sees when a turn fails outright.
const FailureMessage = source.Apology

const (
	DefaultMaxRetries     = 2
	DefaultHandlerTimeout = 120 * time.Second
)

type Classifier interface {
	Classify(ctx context.Context, query string, mem *memory.ConversationMemory) (intent.Intent, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (source.NormalizedResponse, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, query, answer string) (evaluate.Result, error)
}

type Renderer interface {
	Render(ctx context.Context, tables []string, query string) (*chart.Artifact, error)
}

// Observer sees every event of every turn as it is routed.
type Observer interface {
	Observe(ctx context.Context, sessionID string, ev events.Event)
}

type ObserverFunc func(ctx context.Context, sessionID string, ev events.Event)

func (f ObserverFunc) Observe(ctx context.Context, sessionID string, ev events.Event) {
	f(ctx, sessionID, ev)
}

type Config struct {
	// MaxRetries bounds grading retries per turn. It is clamped to 2.
	MaxRetries int
	// HandlerTimeout bounds one source handler call.
	HandlerTimeout time.Duration
}

// Deps are the collaborators of an Engine. Evaluator, Renderer, Harmonizer
// and Observer are optional.
type Deps struct {
	Classifier  Classifier
	Sources     source.Registry
	Harmonizer  source.Handler
	Synthesizer Synthesizer
	Evaluator   Evaluator
	Renderer    Renderer
	Observer    Observer
	Logger      logger.ILogger
}

// Outcome is a finished turn.
type Outcome struct {
	Result  events.TurnResult
	Path    []events.Kind
	Retries int
}

type step struct {
	name  string
	emits []events.Kind
	run   func(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error)
}

func (s *step) declares(k events.Kind) bool {
	for _, e := range s.emits {
		if e == k {
			return true
		}
	}
	return false
}

type routeKey struct {
	kind   events.Kind
	family intent.Family
}

type Engine struct {
	cfg  Config
	deps Deps
	log  logger.ILogger

	routes map[routeKey]*step
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.MaxRetries < 0 || cfg.MaxRetries > DefaultMaxRetries {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if deps.Observer == nil {
		deps.Observer = ObserverFunc(func(context.Context, string, events.Event) {})
	}
	e := &Engine{cfg: cfg, deps: deps, log: deps.Logger}
	e.routes = e.routingTable()
	return e
}

// routingTable maps each event to the step that consumes it. Dispatches are
// keyed by family as well, one step per registered handler.
func (e *Engine) routingTable() map[routeKey]*step {
	t := map[routeKey]*step{
		{kind: events.KindStart}: {
			name:  "setup",
			emits: []events.Kind{events.KindJudge},
			run:   e.setup,
		},
		{kind: events.KindJudge}: {
			name: "classify",
			emits: []events.Kind{
				events.KindStop, events.KindHarmonize, events.KindGraphRequest, events.KindSourceDispatch,
			},
			run: e.classify,
		},
		{kind: events.KindSourceResponse}: {
			name:  "synthesize",
			emits: []events.Kind{events.KindStop},
			run:   e.synthesize,
		},
		{kind: events.KindEvaluate}: {
			name:  "evaluate",
			emits: []events.Kind{events.KindSourceDispatch, events.KindStop},
			run:   e.evaluate,
		},
		{kind: events.KindGraphRequest}: {
			name:  "graph",
			emits: []events.Kind{events.KindStop},
			run:   e.graph,
		},
	}
	if e.deps.Harmonizer != nil {
		t[routeKey{kind: events.KindHarmonize}] = &step{
			name:  "harmonize",
			emits: []events.Kind{events.KindStop},
			run:   e.harmonize,
		}
	}
	for family := range e.deps.Sources {
		t[routeKey{kind: events.KindSourceDispatch, family: family}] = &step{
			name:  "source." + string(family),
			emits: []events.Kind{events.KindEvaluate, events.KindSourceResponse, events.KindStop},
			run:   e.handleSource,
		}
	}
	return t
}

func (e *Engine) route(ev events.Event) (*step, error) {
	key := routeKey{kind: ev.Kind()}
	if d, ok := ev.(events.SourceDispatch); ok {
		key.family = d.Family
	}
	s, ok := e.routes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoRoute, key.kind, key.family)
	}
	return s, nil
}

// turn is the state of one Run.
type turn struct {
	sess   *Session
	rc     *RunContext
	g      *errgroup.Group
	cancel context.CancelFunc
	stops  chan events.Stop
}

// Run executes one turn for sess. The first Stop event ends the turn and
// cancels whatever is still running. Errors are returned only for failures
// no step could absorb; callers show FailureMessage for them.
func (e *Engine) Run(ctx context.Context, sess *Session, query string) (out Outcome, err error) {
	ctx, end := tracer.Step(ctx, "workflow.run", attribute.String("session", sess.ID))
	defer func() { end(err) }()

	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	t := &turn{
		sess:   sess,
		rc:     newRunContext(sess.ID, query),
		g:      g,
		cancel: cancel,
		stops:  make(chan events.Stop, 1),
	}

	e.log.Info("WORKFLOW", "Turn started", map[string]interface{}{
		"session": sess.ID,
		"query":   logger.Truncate(query, 200),
	})

	if err := e.dispatch(gctx, t, events.Start{SessionID: sess.ID, Query: query}); err != nil {
		return Outcome{}, err
	}
	waitErr := g.Wait()

	out = Outcome{Path: t.rc.Path(), Retries: t.rc.Retries()}
	select {
	case stop := <-t.stops:
		out.Result = stop.Result
		e.log.Info("WORKFLOW", "Turn completed", map[string]interface{}{
			"session":    sess.ID,
			"retries":    out.Retries,
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
		return out, nil
	default:
	}

	if waitErr == nil {
		waitErr = ErrStalled
	}
	e.log.Error("WORKFLOW", "Turn failed", map[string]interface{}{
		"session": sess.ID,
		"error":   waitErr.Error(),
	})
	return out, waitErr
}

func (e *Engine) dispatch(ctx context.Context, t *turn, ev events.Event) error {
	t.rc.record(ev.Kind())
	e.deps.Observer.Observe(ctx, t.sess.ID, ev)

	if stop, ok := ev.(events.Stop); ok {
		select {
		case t.stops <- stop:
		default:
		}
		t.cancel()
		return nil
	}

	s, err := e.route(ev)
	if err != nil {
		return err
	}
	t.g.Go(func() error { return e.runStep(ctx, t, s, ev) })
	return nil
}

func (e *Engine) runStep(ctx context.Context, t *turn, s *step, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sctx, end := tracer.Step(ctx, "workflow."+s.name,
		attribute.String("event", string(ev.Kind())),
		attribute.String("session", t.sess.ID),
	)
	out, err := s.run(sctx, t, ev)
	end(err)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	for _, next := range out {
		if !s.declares(next.Kind()) {
			return fmt.Errorf("%w: %s emitted %s", ErrUndeclaredEmit, s.name, next.Kind())
		}
		if err := e.dispatch(ctx, t, next); err != nil {
			return err
		}
	}
	return nil
}
