package structured

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

type verdict struct {
	Label string `json:"label" validate:"required,oneof=yes no"`
	Score int    `json:"score"`
}

func (v *verdict) Validate() error {
	if v.Score < 0 {
		return errors.New("score must be non-negative")
	}
	return nil
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", "Sure! {\"a\":{\"b\":2}} hope it helps", `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ExtractJSON("no braces")
	assert.Error(t, err)
}

func TestCaller_RetriesWithFeedback(t *testing.T) {
	fake := llmtest.NewFake().On("classify",
		`{"label": "maybe"}`,
		`{"label": "yes", "score": -1}`,
		`{"label": "yes", "score": 2}`,
	)
	c := NewCaller(fake, 2, logger.NewNopLogger())

	var out verdict
	err := c.Call(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "classify this"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, verdict{Label: "yes", Score: 2}, out)

	calls := fake.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1], "Your previous reply was invalid")
}

func TestCaller_ExhaustsRetries(t *testing.T) {
	fake := llmtest.NewFake().On("classify", "garbage")
	c := NewCaller(fake, 1, logger.NewNopLogger())

	var out verdict
	err := c.Call(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "classify"}}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.Len(t, fake.Calls(), 2)
}
