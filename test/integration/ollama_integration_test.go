package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/evaluate"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/factory"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a local Ollama. Set OLLAMA_MODEL (e.g. llama3) to enable.
func newOllama(t *testing.T) llm.LLMProvider {
	t.Helper()
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		t.Skip("Skipping integration test: OLLAMA_MODEL not set")
	}
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	p, err := factory.NewLLMProvider(context.Background(), factory.ProviderConfig{
		Provider: "ollama",
		Model:    model,
		BaseURL:  baseURL,
		Timeout:  2 * time.Minute,
	})
	require.NoError(t, err)
	return p
}

func TestOllama_ClassifiesProteomicsQuestion(t *testing.T) {
	p := newOllama(t)
	log := logger.NewNopLogger()
	classifier := intent.NewClassifier(structured.NewCaller(p, 2, log), nil, log)

	query := "Find PRIDE projects that studied phosphorylation in human liver tissue"
	got, err := classifier.Classify(context.Background(), query, memory.New(10000, memory.ApproxTokenizer()))
	require.NoError(t, err)
	t.Logf("intent: %+v", got)
	assert.NotEmpty(t, got.Dispatches(query))
}

func TestOllama_GradesAnswer(t *testing.T) {
	p := newOllama(t)
	ev := evaluate.NewEvaluator(p, logger.NewNopLogger())

	res, err := ev.Evaluate(context.Background(),
		"How many cases are in the TCGA-BRCA project?",
		"The TCGA-BRCA project in GDC contains 1,098 cases.")
	require.NoError(t, err)
	t.Logf("score=%.1f passing=%v feedback=%q", res.Score, res.Passing, res.Feedback)
	assert.GreaterOrEqual(t, res.Score, 0.0)
}
