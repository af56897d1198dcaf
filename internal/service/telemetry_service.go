package service

import (
	"context"
	"strings"
	"sync"

	"bioinsight-be/internal/dto"
	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/events"
)

// SessionCounter reports live sessions.
type SessionCounter interface {
	Count() int
}

// TelemetryService aggregates turn summaries. It consumes them from the bus
// when one is configured and can also stand in as the publisher without one.
type TelemetryService struct {
	sessions SessionCounter
	logger   logger.ILogger

	mu        sync.Mutex
	turns     int64
	failed    int64
	elapsedMs int64
	paths     map[string]int64
}

func NewTelemetryService(sessions SessionCounter, log logger.ILogger) *TelemetryService {
	return &TelemetryService{sessions: sessions, logger: log, paths: map[string]int64{}}
}

// Publish records the event in process.
func (t *TelemetryService) Publish(ctx context.Context, event events.Published) error {
	return t.Handle(ctx, event)
}

// Handle folds one event into the counters. Unknown types are ignored.
func (t *TelemetryService) Handle(_ context.Context, event events.Published) error {
	if event.EventType() != events.TypeTurnCompleted {
		return nil
	}
	data := event.Payload()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns++
	if failed, _ := data["failed"].(bool); failed {
		t.failed++
	}
	t.elapsedMs += toInt64(data["elapsed_ms"])
	if key := pathKey(data["path"]); key != "" {
		t.paths[key]++
	}
	return nil
}

func (t *TelemetryService) Stats() *dto.StatsResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := &dto.StatsResponse{
		Turns:       t.turns,
		FailedTurns: t.failed,
		Paths:       make(map[string]int64, len(t.paths)),
	}
	if t.sessions != nil {
		res.ActiveSessions = t.sessions.Count()
	}
	if t.turns > 0 {
		res.AvgElapsedMs = float64(t.elapsedMs) / float64(t.turns)
	}
	for k, v := range t.paths {
		res.Paths[k] = v
	}
	return res
}

// Payloads arrive typed when recorded in process and as JSON values when
// they came over the bus.
func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func pathKey(v interface{}) string {
	switch p := v.(type) {
	case []string:
		return strings.Join(p, ">")
	case []interface{}:
		parts := make([]string, 0, len(p))
		for _, x := range p {
			if s, ok := x.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ">")
	}
	return ""
}
