package mapper

import (
	"testing"
	"time"

	"bioinsight-be/internal/entity"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestTurnMapper_RoundTrip(t *testing.T) {
	m := NewTurnMapper()
	in := &entity.Turn{
		Id:        uuid.New(),
		SessionId: "s1",
		Query:     "breast cancer data",
		Response:  "PDC000127",
		Path:      []string{"start", "judge", "stop"},
		Retries:   1,
		Graph:     []byte(`{"spec_url":"mem://a"}`),
		ElapsedMs: 1200,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	got := m.ToEntity(m.ToModel(in))
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTurnMapper_Nil(t *testing.T) {
	m := NewTurnMapper()
	if m.ToEntity(nil) != nil || m.ToModel(nil) != nil {
		t.Error("nil must map to nil")
	}
}
