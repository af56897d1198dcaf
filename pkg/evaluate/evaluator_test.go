package evaluate

import (
	"context"
	"errors"
	"testing"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/llmtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		passing  bool
		score    float64
		feedback string
	}{
		{
			name:    "full marks",
			reply:   "Detailed Feedback:\nIt answers the question.\n[RESULT] 2",
			passing: true,
			score:   1,
		},
		{
			name:     "one point fails",
			reply:    "Detailed Feedback:\nOn topic but ignores the cancer type.\n[RESULT] 1",
			passing:  false,
			score:    0.5,
			feedback: "On topic but ignores the cancer type.",
		},
		{
			name:     "no feedback header",
			reply:    "Off topic entirely.\n[RESULT] 0",
			passing:  false,
			score:    0,
			feedback: "Off topic entirely.",
		},
		{
			name:     "bare result",
			reply:    "[RESULT] 0",
			passing:  false,
			feedback: "The answer does not address the query.",
		},
		{
			name:    "unparseable passes",
			reply:   "looks fine to me",
			passing: true,
			score:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.reply)
			assert.Equal(t, tt.passing, got.Passing)
			assert.InDelta(t, tt.score, got.Score, 1e-9)
			assert.Equal(t, tt.feedback, got.Feedback)
			if !got.Passing {
				assert.NotEmpty(t, got.Feedback)
			}
		})
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	fake := llmtest.NewFake().On("Query: \n which studies", "Detailed Feedback:\nGood.\n[RESULT] 2")
	e := NewEvaluator(fake, logger.NewNopLogger())

	res, err := e.Evaluate(context.Background(), "which studies", "PDC000127")
	require.NoError(t, err)
	assert.True(t, res.Passing)
}

func TestEvaluator_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	fake := llmtest.NewFake().Default(func([]llm.Message) (string, error) { return "", boom })
	e := NewEvaluator(fake, logger.NewNopLogger())

	_, err := e.Evaluate(context.Background(), "q", "a")
	assert.ErrorIs(t, err, boom)
}

func TestRefine(t *testing.T) {
	q := Refine("which studies", "none", "mention PDC")
	assert.Contains(t, q, "The original query is as follows: which studies")
	assert.Contains(t, q, "existing answer: none")
	assert.Contains(t, q, "mention PDC")
}
