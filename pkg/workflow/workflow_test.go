package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/evaluate"
	"bioinsight-be/pkg/events"
	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/llmtest"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/synth"
	"bioinsight-be/pkg/viz"
	"bioinsight-be/pkg/viz/heatmap"
	"bioinsight-be/pkg/viz/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type classifierFunc func(ctx context.Context, query string, mem *memory.ConversationMemory) (intent.Intent, error)

func (f classifierFunc) Classify(ctx context.Context, query string, mem *memory.ConversationMemory) (intent.Intent, error) {
	return f(ctx, query, mem)
}

type synthFunc func(ctx context.Context, in synth.Input) (source.NormalizedResponse, error)

func (f synthFunc) Synthesize(ctx context.Context, in synth.Input) (source.NormalizedResponse, error) {
	return f(ctx, in)
}

type evalFunc func(ctx context.Context, query, answer string) (evaluate.Result, error)

func (f evalFunc) Evaluate(ctx context.Context, query, answer string) (evaluate.Result, error) {
	return f(ctx, query, answer)
}

type urlStore struct{}

func (urlStore) Put(_ context.Context, _ []byte, key, _ string) (storage.PutResult, error) {
	return storage.PutResult{URL: "mem://" + key}, nil
}

func fixed(in intent.Intent) classifierFunc {
	return func(_ context.Context, query string, mem *memory.ConversationMemory) (intent.Intent, error) {
		mem.PutUser(query)
		return in, nil
	}
}

func selecting(ids ...intent.SourceID) intent.Intent {
	in := intent.Intent{Sources: ids, SourceContexts: map[intent.SourceID]string{}}
	for _, id := range ids {
		in.SourceContexts[id] = "context for " + string(id)
	}
	return in
}

func reply(text string) source.HandlerFunc {
	return func(context.Context, source.Request) (source.NormalizedResponse, error) {
		return source.NormalizedResponse{Text: text}, nil
	}
}

func newSession() *Session {
	return NewSession("s1", MemoryBudgets{Intent: 10000, Source: 10000}, memory.ApproxTokenizer(), nil)
}

func newEngine(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	return New(Config{MaxRetries: 2, HandlerTimeout: time.Second}, deps)
}

func count(path []events.Kind, k events.Kind) int {
	n := 0
	for _, p := range path {
		if p == k {
			n++
		}
	}
	return n
}

func TestRun_OffTopicStopsWithoutDispatch(t *testing.T) {
	var calls int32
	never := source.HandlerFunc(func(context.Context, source.Request) (source.NormalizedResponse, error) {
		atomic.AddInt32(&calls, 1)
		return source.NormalizedResponse{Text: "should not run"}, nil
	})
	e := newEngine(Deps{
		Classifier: fixed(intent.Intent{OffTopic: true, OffTopicReply: "I only answer biomedical questions."}),
		Sources:    source.Registry{intent.FamilyCRDC: never, intent.FamilyPX: never, intent.FamilyMWB: never},
	})
	sess := newSession()

	out, err := e.Run(context.Background(), sess, "what's the weather?")
	require.NoError(t, err)
	assert.Equal(t, "I only answer biomedical questions.", out.Result.Response)
	assert.Equal(t, []events.Kind{events.KindStart, events.KindJudge, events.KindStop}, out.Path)
	assert.Zero(t, atomic.LoadInt32(&calls))

	msgs := sess.Intent.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "I only answer biomedical questions.", msgs[1].Content)
}

func TestRun_NoSourcesStopsWithReply(t *testing.T) {
	e := newEngine(Deps{
		Classifier: fixed(intent.Intent{Reply: "Hello! Ask me about cancer data."}),
		Sources:    source.Registry{},
	})

	out, err := e.Run(context.Background(), newSession(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello! Ask me about cancer data.", out.Result.Response)
	assert.Zero(t, count(out.Path, events.KindSourceDispatch))
}

// Scenario A: several families answer and are synthesized once, in dispatch
// order, without grading.
func TestRun_MultiSourceSynthesizesOnce(t *testing.T) {
	slow := source.HandlerFunc(func(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
			return source.NormalizedResponse{}, ctx.Err()
		}
		assert.Equal(t, []intent.SourceID{intent.SourcePDC, intent.SourceGDC}, req.Members)
		return source.NormalizedResponse{Text: "PDC000127 is a breast cancer study."}, nil
	})

	var synthCalls, evalCalls int32
	var parts []synth.Part
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePDC, intent.SourceGDC, intent.SourcePX)),
		Sources: source.Registry{
			intent.FamilyCRDC: slow,
			intent.FamilyPX:   reply("PXD000001 has breast tissue."),
		},
		Synthesizer: synthFunc(func(_ context.Context, in synth.Input) (source.NormalizedResponse, error) {
			atomic.AddInt32(&synthCalls, 1)
			parts = in.Parts
			return source.NormalizedResponse{Text: "Both sources have breast cancer data."}, nil
		}),
		Evaluator: evalFunc(func(context.Context, string, string) (evaluate.Result, error) {
			atomic.AddInt32(&evalCalls, 1)
			return evaluate.Result{Passing: true}, nil
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "What data do you have for breast cancer?")
	require.NoError(t, err)
	assert.Equal(t, "Both sources have breast cancer data.", out.Result.Response)

	assert.EqualValues(t, 1, atomic.LoadInt32(&synthCalls))
	assert.Zero(t, atomic.LoadInt32(&evalCalls))
	assert.Equal(t, 2, count(out.Path, events.KindSourceDispatch))
	assert.Equal(t, 2, count(out.Path, events.KindSourceResponse))
	assert.Zero(t, count(out.Path, events.KindEvaluate))

	require.Len(t, parts, 2)
	assert.Equal(t, intent.FamilyCRDC.Name(), parts[0].Name)
	assert.Equal(t, intent.FamilyPX.Name(), parts[1].Name)
	assert.Contains(t, synth.Context(parts), "1) Information from Cancer Research Data Commons:\nPDC000127")
}

func TestRun_MultiSourceHandlerFailureDegrades(t *testing.T) {
	failing := source.HandlerFunc(func(context.Context, source.Request) (source.NormalizedResponse, error) {
		return source.NormalizedResponse{}, errors.New("upstream 502")
	})
	var parts []synth.Part
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX, intent.SourceMWB)),
		Sources:    source.Registry{intent.FamilyPX: reply("PXD000001"), intent.FamilyMWB: failing},
		Synthesizer: synthFunc(func(_ context.Context, in synth.Input) (source.NormalizedResponse, error) {
			parts = in.Parts
			return source.NormalizedResponse{Text: "merged"}, nil
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "metabolites and proteomes of liver")
	require.NoError(t, err)
	assert.Equal(t, "merged", out.Result.Response)
	require.Len(t, parts, 2)
	assert.Equal(t, "Metabolomics Workbench could not answer this question right now.", parts[1].Response.Text)
}

func TestRun_HandlerDeadlineDegrades(t *testing.T) {
	hung := source.HandlerFunc(func(ctx context.Context, _ source.Request) (source.NormalizedResponse, error) {
		<-ctx.Done()
		return source.NormalizedResponse{}, ctx.Err()
	})
	var parts []synth.Part
	e := New(Config{MaxRetries: 2, HandlerTimeout: 20 * time.Millisecond}, Deps{
		Classifier: fixed(selecting(intent.SourcePX, intent.SourceMWB)),
		Sources:    source.Registry{intent.FamilyPX: reply("PXD000001"), intent.FamilyMWB: hung},
		Synthesizer: synthFunc(func(_ context.Context, in synth.Input) (source.NormalizedResponse, error) {
			parts = in.Parts
			return source.NormalizedResponse{Text: "merged"}, nil
		}),
		Logger: logger.NewNopLogger(),
	})

	_, err := e.Run(context.Background(), newSession(), "liver")
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].Response.Text, "could not answer")
}

func TestRun_SynthesisFailureReturnsAttributedText(t *testing.T) {
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX, intent.SourceMWB)),
		Sources:    source.Registry{intent.FamilyPX: reply("px says"), intent.FamilyMWB: reply("mwb says")},
		Synthesizer: synthFunc(func(context.Context, synth.Input) (source.NormalizedResponse, error) {
			return source.NormalizedResponse{}, errors.New("model down")
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "q")
	require.NoError(t, err)
	assert.Contains(t, out.Result.Response, "1) Information from Proteome Exchange:\npx says")
	assert.Contains(t, out.Result.Response, "2) Information from Metabolomics Workbench:\nmwb says")
}

// Scenario C: the first answer is rejected, the retry is accepted.
func TestRun_RetryThenAccept(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	handler := source.HandlerFunc(func(_ context.Context, req source.Request) (source.NormalizedResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		queries = append(queries, req.Query)
		if len(queries) == 1 {
			return source.NormalizedResponse{Text: "first answer"}, nil
		}
		return source.NormalizedResponse{Text: "second answer"}, nil
	})
	grades := []evaluate.Result{
		{Passing: false, Score: 0.5, Feedback: "mention the study id"},
		{Passing: true, Score: 1},
	}
	var graded int32
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX)),
		Sources:    source.Registry{intent.FamilyPX: handler},
		Evaluator: evalFunc(func(context.Context, string, string) (evaluate.Result, error) {
			i := atomic.AddInt32(&graded, 1) - 1
			return grades[i], nil
		}),
	})
	sess := newSession()

	out, err := e.Run(context.Background(), sess, "liver proteomes")
	require.NoError(t, err)
	assert.Equal(t, "second answer", out.Result.Response)
	assert.Equal(t, 1, out.Retries)
	assert.Equal(t, 2, count(out.Path, events.KindEvaluate))

	require.Len(t, queries, 2)
	assert.True(t, strings.HasPrefix(queries[1], "The original query is as follows:"))
	assert.Contains(t, queries[1], "first answer")
	assert.Contains(t, queries[1], "mention the study id")

	msgs := sess.Intent.Messages()
	assert.Equal(t, "second answer", msgs[len(msgs)-1].Content)
	assert.Len(t, sess.SourceMemory(intent.FamilyPX).Messages(), 4)
}

func TestRun_AlwaysFailingEvaluatorStopsAfterTwoRetries(t *testing.T) {
	var attempts int32
	handler := source.HandlerFunc(func(context.Context, source.Request) (source.NormalizedResponse, error) {
		n := atomic.AddInt32(&attempts, 1)
		return source.NormalizedResponse{Text: "answer " + string(rune('0'+n))}, nil
	})
	var graded int32
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourceMWB)),
		Sources:    source.Registry{intent.FamilyMWB: handler},
		Evaluator: evalFunc(func(context.Context, string, string) (evaluate.Result, error) {
			atomic.AddInt32(&graded, 1)
			return evaluate.Result{Passing: false, Feedback: "never good enough"}, nil
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "citrate")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Retries)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.EqualValues(t, 2, atomic.LoadInt32(&graded))
	assert.Equal(t, "answer 3", out.Result.Response)
	assert.Equal(t, events.KindStop, out.Path[len(out.Path)-1])
}

func TestRun_EvaluatorErrorAcceptsAnswer(t *testing.T) {
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX)),
		Sources:    source.Registry{intent.FamilyPX: reply("PXD000001")},
		Evaluator: evalFunc(func(context.Context, string, string) (evaluate.Result, error) {
			return evaluate.Result{}, errors.New("grader down")
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "q")
	require.NoError(t, err)
	assert.Contains(t, out.Result.Response, "PXD000001")
	assert.Zero(t, out.Retries)
}

func TestRun_EmptyResponseApologizes(t *testing.T) {
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX)),
		Sources:    source.Registry{intent.FamilyPX: reply("   ")},
	})

	out, err := e.Run(context.Background(), newSession(), "q")
	require.NoError(t, err)
	assert.Equal(t, source.Apology, out.Result.Response)
	assert.Zero(t, count(out.Path, events.KindEvaluate))
}

// Scenario B: a heatmap request goes through the heatmap pipeline and links
// the exported spec and data.
func TestRun_HeatmapChart(t *testing.T) {
	wide := `[{"sample_id": "S1", "TP53": 1.1, "EGFR": 0.3}, {"sample_id": "S2", "TP53": -0.4, "EGFR": 2.2}]`
	handler := source.HandlerFunc(func(_ context.Context, req source.Request) (source.NormalizedResponse, error) {
		assert.Contains(t, req.Query, "Always run the appropriate tool")
		return source.NormalizedResponse{Text: "Expression for TP53 and EGFR.", Tables: []string{wide}}, nil
	})
	fake := llmtest.NewFake()
	renderer := viz.NewRenderer(fake, nil, sandbox.NewRunner(5*time.Second), heatmap.NewBuilder(urlStore{}), logger.NewNopLogger())

	in := selecting(intent.SourcePDC)
	in.Plot = true
	e := newEngine(Deps{
		Classifier: fixed(in),
		Sources:    source.Registry{intent.FamilyCRDC: handler},
		Renderer:   renderer,
	})

	out, err := e.Run(context.Background(), newSession(), "Show me a heatmap of expression for these genes in study PDC000127")
	require.NoError(t, err)
	require.NotNil(t, out.Result.Graph)
	assert.NotNil(t, out.Result.Graph.Figure)
	assert.NotEmpty(t, out.Result.Graph.SpecURL)
	assert.NotEmpty(t, out.Result.Graph.DataURL)
	assert.Contains(t, out.Result.Response, "[View UDI Spec]("+out.Result.Graph.SpecURL+")")
	assert.Contains(t, out.Result.Response, "[Download Data CSV]("+out.Result.Graph.DataURL+")")
	assert.Empty(t, fake.Calls())
	assert.Zero(t, count(out.Path, events.KindEvaluate))
}

func TestRun_BrokenChartFallsBackToText(t *testing.T) {
	genes := `[{"gene": "TP53", "count": 12}, {"gene": "EGFR", "count": 7}]`
	fake := llmtest.NewFake().Default(func([]llm.Message) (string, error) {
		return "package main\n\nvar Fig = (", nil
	})
	renderer := viz.NewRenderer(fake, nil, sandbox.NewRunner(5*time.Second), heatmap.NewBuilder(urlStore{}), logger.NewNopLogger())

	in := selecting(intent.SourceGDC)
	in.Plot = true
	e := newEngine(Deps{
		Classifier: fixed(in),
		Sources: source.Registry{intent.FamilyCRDC: source.HandlerFunc(func(context.Context, source.Request) (source.NormalizedResponse, error) {
			return source.NormalizedResponse{Text: "Mutation counts per gene.", Tables: []string{genes}}, nil
		})},
		Renderer: renderer,
	})

	out, err := e.Run(context.Background(), newSession(), "bar chart of mutation counts")
	require.NoError(t, err)
	assert.Nil(t, out.Result.Graph)
	assert.Equal(t, "Mutation counts per gene.", out.Result.Response)
}

func TestRun_HarmonizationUsesBroker(t *testing.T) {
	var gotAsker bool
	harmonizer := source.HandlerFunc(func(_ context.Context, req source.Request) (source.NormalizedResponse, error) {
		gotAsker = req.Asker != nil
		return source.NormalizedResponse{Text: "[Download harmonized data](mem://h.csv)"}, nil
	})
	e := newEngine(Deps{
		Classifier: fixed(intent.Intent{Harmonization: true}),
		Sources:    source.Registry{},
		Harmonizer: harmonizer,
	})
	sess := NewSession("s2", MemoryBudgets{}, nil, hitl.NewBroker(hitl.TransportFunc(func(context.Context, hitl.InteractionRequest) error { return nil })))

	out, err := e.Run(context.Background(), sess, "harmonize my clinical file")
	require.NoError(t, err)
	assert.True(t, gotAsker)
	assert.Contains(t, out.Result.Response, "Download harmonized data")
	assert.Len(t, sess.Harmonization.Messages(), 2)
}

func TestRun_HarmonizationWithoutHandlerHasNoRoute(t *testing.T) {
	e := newEngine(Deps{Classifier: fixed(intent.Intent{Harmonization: true}), Sources: source.Registry{}})

	_, err := e.Run(context.Background(), newSession(), "harmonize")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRun_UndeclaredEmitFails(t *testing.T) {
	e := newEngine(Deps{Classifier: fixed(intent.Intent{Reply: "hi"}), Sources: source.Registry{}})
	e.routes[routeKey{kind: events.KindStart}].emits = nil

	_, err := e.Run(context.Background(), newSession(), "hello")
	assert.ErrorIs(t, err, ErrUndeclaredEmit)
}

func TestRun_ClassifierErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	e := newEngine(Deps{
		Classifier: classifierFunc(func(context.Context, string, *memory.ConversationMemory) (intent.Intent, error) {
			return intent.Intent{}, boom
		}),
		Sources: source.Registry{},
	})

	_, err := e.Run(context.Background(), newSession(), "q")
	assert.ErrorIs(t, err, boom)
}

func TestRun_TurnTimeoutCancelsHandlers(t *testing.T) {
	hung := source.HandlerFunc(func(ctx context.Context, _ source.Request) (source.NormalizedResponse, error) {
		<-ctx.Done()
		return source.NormalizedResponse{}, ctx.Err()
	})
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX, intent.SourceMWB)),
		Sources:    source.Registry{intent.FamilyPX: hung, intent.FamilyMWB: hung},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Run(ctx, newSession(), "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_ObserverSeesEveryEvent(t *testing.T) {
	var mu sync.Mutex
	var seen []events.Kind
	e := newEngine(Deps{
		Classifier: fixed(selecting(intent.SourcePX)),
		Sources:    source.Registry{intent.FamilyPX: reply("PXD000001")},
		Observer: ObserverFunc(func(_ context.Context, sessionID string, ev events.Event) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "s1", sessionID)
			seen = append(seen, ev.Kind())
		}),
	})

	out, err := e.Run(context.Background(), newSession(), "q")
	require.NoError(t, err)
	assert.Equal(t, out.Path, seen)
	assert.Equal(t, []events.Kind{
		events.KindStart, events.KindJudge, events.KindSourceDispatch, events.KindEvaluate, events.KindStop,
	}, seen)
}

func TestCollect_FiresOnceInDispatchOrder(t *testing.T) {
	rc := newRunContext("s", "q")
	rc.expect(3)

	_, ready := rc.Collect(events.SourceResponse{Index: 2, Family: intent.FamilyMWB})
	assert.False(t, ready)
	_, ready = rc.Collect(events.SourceResponse{Index: 0, Family: intent.FamilyCRDC})
	assert.False(t, ready)
	_, ready = rc.Collect(events.SourceResponse{Index: 0, Family: intent.FamilyCRDC})
	assert.False(t, ready, "duplicate slot must not count")
	_, ready = rc.Collect(events.SourceResponse{Index: 7})
	assert.False(t, ready, "unknown slot must not count")

	got, ready := rc.Collect(events.SourceResponse{Index: 1, Family: intent.FamilyPX})
	require.True(t, ready)
	require.Len(t, got, 3)
	assert.Equal(t, []intent.Family{intent.FamilyCRDC, intent.FamilyPX, intent.FamilyMWB},
		[]intent.Family{got[0].Family, got[1].Family, got[2].Family})

	_, ready = rc.Collect(events.SourceResponse{Index: 1, Family: intent.FamilyPX})
	assert.False(t, ready)
}

func TestCollect_Concurrent(t *testing.T) {
	rc := newRunContext("s", "q")
	rc.expect(16)

	var fired int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := rc.Collect(events.SourceResponse{Index: i}); ok {
				atomic.AddInt32(&fired, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, fired)
}

func TestNew_ClampsRetries(t *testing.T) {
	e := New(Config{MaxRetries: 9}, Deps{Logger: logger.NewNopLogger()})
	assert.Equal(t, DefaultMaxRetries, e.cfg.MaxRetries)
	assert.Equal(t, DefaultHandlerTimeout, e.cfg.HandlerTimeout)
}
