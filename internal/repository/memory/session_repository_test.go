package memory

import (
	"testing"
	"time"

	"bioinsight-be/pkg/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository(t *testing.T) {
	repo := NewSessionRepository(time.Minute)
	s := workflow.NewSession("s1", workflow.MemoryBudgets{}, nil, nil)
	repo.Save(s)

	got, ok := repo.Get("s1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, repo.Count())

	s.Intent.PutUser("hello")
	repo.Delete("s1")
	_, ok = repo.Get("s1")
	assert.False(t, ok)
	assert.Zero(t, s.Intent.Len(), "deleting a session clears its memory")
}
