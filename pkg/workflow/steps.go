package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bioinsight-be/pkg/evaluate"
	"bioinsight-be/pkg/events"
	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/synth"
)

const unavailableNote = "%s could not answer this question right now."

const graphPreamble = "Do not rely on memory or previous data retrieved. " +
	"Always run the appropriate tool to get the data. " +
	"Do not output any code, just return the data requested. " +
	"Do NOT try to get external data unless user explicitly asks for it. " +
	"Just run the appropriate tool to return the data to answer the question: "

func stop(text string, elements []source.Element) []events.Event {
	return []events.Event{events.Stop{Result: events.TurnResult{Response: text, Elements: elements}}}
}

func (e *Engine) setup(_ context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	start := ev.(events.Start)
	e.log.Debug("WORKFLOW", "Setup", map[string]interface{}{"session": t.sess.ID})
	return []events.Event{events.Judge{Query: start.Query}}, nil
}

func (e *Engine) classify(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	judge := ev.(events.Judge)

	in, err := e.deps.Classifier.Classify(ctx, judge.Query, t.sess.Intent)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	if in.OffTopic {
		e.log.Warn("WORKFLOW", "Query off topic", nil)
		t.sess.Intent.PutAssistant(in.OffTopicReply)
		return stop(in.OffTopicReply, nil), nil
	}
	if in.ContextEnrichedQuery != "" {
		t.rc.setEnrichedQuery(in.ContextEnrichedQuery)
	}
	if in.Harmonization {
		e.log.Info("WORKFLOW", "User requesting data harmonization", nil)
		return []events.Event{events.Harmonize{Query: judge.Query}}, nil
	}
	if len(in.Sources) == 0 {
		reply := in.Reply
		if strings.TrimSpace(reply) == "" {
			reply = intent.Fallback().Reply
		}
		e.log.Warn("WORKFLOW", "No data sources found", nil)
		t.sess.Intent.PutAssistant(reply)
		return stop(reply, nil), nil
	}

	dispatches := in.Dispatches(judge.Query)
	if in.Plot {
		d := dispatches[0]
		return []events.Event{events.GraphRequest{
			Query:  judge.Query,
			Source: events.SourceDispatch{Family: d.Family, Members: d.Members, Query: d.Query},
		}}, nil
	}

	t.rc.expect(len(dispatches))
	e.log.Info("WORKFLOW", "Dispatching", map[string]interface{}{"num_sources": len(dispatches)})

	out := make([]events.Event, len(dispatches))
	for i, d := range dispatches {
		out[i] = events.SourceDispatch{Family: d.Family, Members: d.Members, Query: d.Query, Index: i}
	}
	return out, nil
}

func (e *Engine) handleSource(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	d := ev.(events.SourceDispatch)
	n := t.rc.Expected()

	resp, err := e.callSource(ctx, t, d)
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		if n == 1 {
			return stop(source.Apology, nil), nil
		}
		resp = source.NormalizedResponse{Text: fmt.Sprintf(unavailableNote, d.Family.Name())}
	}
	if resp.Empty() {
		e.log.Warn("WORKFLOW", "Empty source response", map[string]interface{}{
			"family": d.Family,
			"error":  source.ErrUpstreamEmpty.Error(),
		})
		return stop(source.Apology, nil), nil
	}

	if n == 1 {
		return []events.Event{events.Evaluate{Query: d.Query, Response: resp, Origin: d}}, nil
	}
	return []events.Event{events.SourceResponse{Query: d.Query, Family: d.Family, Index: d.Index, Response: resp}}, nil
}

// callSource runs the family's handler under the per-handler deadline and
// records the exchange in the family's memory.
func (e *Engine) callSource(ctx context.Context, t *turn, d events.SourceDispatch) (source.NormalizedResponse, error) {
	h, err := e.deps.Sources.Get(d.Family)
	if err != nil {
		return source.NormalizedResponse{}, err
	}
	mem := t.sess.SourceMemory(d.Family)

	hctx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()

	resp, err := h.Handle(hctx, source.Request{
		SessionID: t.sess.ID,
		Query:     d.Query,
		Members:   d.Members,
		History:   mem.Messages(),
	})
	if err != nil {
		e.log.Error("SOURCE."+string(d.Family), "Handler failed", map[string]interface{}{"error": err.Error()})
		return source.NormalizedResponse{}, err
	}

	mem.PutUser(d.Query)
	mem.PutAssistant(resp.Text)
	return resp, nil
}

// fatal reports whether err must end the turn: the turn itself was cancelled,
// or a handler broke the interaction contract.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, hitl.ErrInvalidInteraction) || errors.Is(err, source.ErrNoHandler)
}

func (e *Engine) synthesize(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	r := ev.(events.SourceResponse)
	e.log.Info("SYNTH", "Received response", map[string]interface{}{"family": r.Family, "index": r.Index})

	responses, ready := t.rc.Collect(r)
	if !ready {
		return nil, nil
	}

	parts := make([]synth.Part, len(responses))
	for i, resp := range responses {
		parts[i] = synth.Part{Name: resp.Family.Name(), Response: resp.Response}
	}
	enriched := t.rc.EnrichedQuery()
	if enriched == "" {
		enriched = t.rc.Query()
	}

	out, err := e.deps.Synthesizer.Synthesize(ctx, synth.Input{
		Query:   intent.DispatchQuery(t.rc.Query(), enriched),
		Parts:   parts,
		History: t.sess.Intent.UserHistory(t.rc.Query()),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("SYNTH", "Synthesis failed, returning attributed answers", map[string]interface{}{"error": err.Error()})
		merged := make([]source.NormalizedResponse, len(parts))
		for i, p := range parts {
			merged[i] = p.Response
		}
		out = source.Merge("\n\n", merged...)
		out.Text = synth.Context(parts)
	}

	out.Text = source.LinkIDs(out.Text)
	t.sess.Intent.PutAssistant(out.Text)
	return stop(out.Text, out.Elements), nil
}

func (e *Engine) evaluate(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	eval := ev.(events.Evaluate)

	if e.deps.Evaluator != nil && t.rc.Expected() == 1 && t.rc.Retries() < e.cfg.MaxRetries {
		res, err := e.deps.Evaluator.Evaluate(ctx, eval.Query, eval.Response.Text)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			e.log.Warn("EVAL", "Grading failed, accepting answer", map[string]interface{}{"error": err.Error()})
		case !res.Passing && t.rc.takeRetry(e.cfg.MaxRetries):
			e.log.Warn("EVAL", "Evaluation failed, retrying", map[string]interface{}{
				"family":   eval.Origin.Family,
				"retry":    t.rc.Retries(),
				"feedback": res.Feedback,
			})
			refined := evaluate.Refine(eval.Query, eval.Response.Text, res.Feedback)
			return []events.Event{eval.Origin.Replay(refined)}, nil
		}
	}

	t.sess.Intent.PutAssistant(eval.Response.Text)
	return stop(eval.Response.Text, eval.Response.Elements), nil
}

func (e *Engine) graph(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	req := ev.(events.GraphRequest)

	d := req.Source.Replay(graphPreamble + req.Source.Query)
	resp, err := e.callSource(ctx, t, d)
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		return stop(source.Apology, nil), nil
	}
	if resp.Empty() {
		return stop(source.Apology, nil), nil
	}

	text := source.LinkIDs(resp.Text)
	result := events.TurnResult{Response: text, Elements: resp.Elements}
	if e.deps.Renderer != nil {
		art, err := e.deps.Renderer.Render(ctx, resp.Tables, req.Query)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			e.log.Info("VIZ", "No chart, returning text answer", map[string]interface{}{"error": err.Error()})
		default:
			result.Graph = art
			if art.SpecURL != "" && art.DataURL != "" {
				result.Response += fmt.Sprintf("\n\n[View UDI Spec](%s)\n[Download Data CSV](%s)", art.SpecURL, art.DataURL)
			}
		}
	}

	t.sess.Intent.PutAssistant(result.Response)
	return []events.Event{events.Stop{Result: result}}, nil
}

func (e *Engine) harmonize(ctx context.Context, t *turn, ev events.Event) ([]events.Event, error) {
	h := ev.(events.Harmonize)

	req := source.Request{
		SessionID: t.sess.ID,
		Query:     h.Query,
		History:   t.sess.Harmonization.Messages(),
	}
	if t.sess.Broker != nil {
		req.Asker = t.sess.Broker
	}

	resp, err := e.deps.Harmonizer.Handle(ctx, req)
	if err != nil {
		if fatal(ctx, err) {
			return nil, err
		}
		e.log.Error("SOURCE.BDI", "Harmonization failed", map[string]interface{}{"error": err.Error()})
		return stop(source.Apology, nil), nil
	}
	resp = resp.OrApology()

	t.sess.Harmonization.PutUser(h.Query)
	t.sess.Harmonization.PutAssistant(resp.Text)
	t.sess.Intent.PutAssistant(resp.Text)
	return stop(resp.Text, resp.Elements), nil
}
