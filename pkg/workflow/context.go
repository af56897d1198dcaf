package workflow

import (
	"sync"

	"bioinsight-be/pkg/events"
)

// RunContext is the per-turn store shared by the steps of one run. It is
// created when the turn starts and dropped when it stops, so nothing in it
// outlives the turn.
type RunContext struct {
	mu sync.Mutex

	sessionID string
	query     string
	enriched  string
	expected  int
	retries   int

	slots  []*events.SourceResponse
	filled int
	fired  bool

	path []events.Kind
}

func newRunContext(sessionID, query string) *RunContext {
	return &RunContext{sessionID: sessionID, query: query}
}

func (rc *RunContext) SessionID() string { return rc.sessionID }

// Query is the user's text as received.
func (rc *RunContext) Query() string { return rc.query }

func (rc *RunContext) EnrichedQuery() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.enriched
}

func (rc *RunContext) setEnrichedQuery(q string) {
	rc.mu.Lock()
	rc.enriched = q
	rc.mu.Unlock()
}

// Expected is the number of dispatches of this turn.
func (rc *RunContext) Expected() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.expected
}

// expect sizes the barrier. It is called once, before any dispatch runs.
func (rc *RunContext) expect(n int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.expected = n
	rc.slots = make([]*events.SourceResponse, n)
	rc.filled = 0
	rc.fired = false
}

func (rc *RunContext) Retries() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.retries
}

// takeRetry consumes one retry if fewer than limit were used.
func (rc *RunContext) takeRetry(limit int) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.retries >= limit {
		return false
	}
	rc.retries++
	return true
}

// Collect records ev at the barrier. It returns the responses in dispatch
// order, and true, exactly once: on the call that completes the expected
// count. Responses for an unknown or already filled slot are ignored.
func (rc *RunContext) Collect(ev events.SourceResponse) ([]events.SourceResponse, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.fired || ev.Index < 0 || ev.Index >= len(rc.slots) || rc.slots[ev.Index] != nil {
		return nil, false
	}
	rc.slots[ev.Index] = &ev
	rc.filled++
	if rc.filled < rc.expected {
		return nil, false
	}

	rc.fired = true
	out := make([]events.SourceResponse, len(rc.slots))
	for i, s := range rc.slots {
		out[i] = *s
	}
	return out, true
}

func (rc *RunContext) record(k events.Kind) {
	rc.mu.Lock()
	rc.path = append(rc.path, k)
	rc.mu.Unlock()
}

// Path lists the kinds of every event routed so far, in routing order.
func (rc *RunContext) Path() []events.Kind {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]events.Kind(nil), rc.path...)
}
