package crdc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm/llmtest"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/apiclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(text string, delay time.Duration, meta map[string]interface{}) source.Handler {
	return source.HandlerFunc(func(ctx context.Context, _ source.Request) (source.NormalizedResponse, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return source.NormalizedResponse{}, ctx.Err()
		}
		return source.NormalizedResponse{
			Text:           text,
			RetrievedItems: []source.RetrievedItem{{Content: text, Metadata: meta}},
		}, nil
	})
}

func TestHandler_MergesMembersInDispatchOrder(t *testing.T) {
	h := NewHandlerWithMembers(map[intent.SourceID]source.Handler{
		intent.SourcePDC: fixed("PDC000120 has 100 cases.", 30*time.Millisecond, map[string]interface{}{"citation": "CPTAC breast"}),
		intent.SourceGDC: fixed("TCGA-BRCA has 1098 cases.", 0, map[string]interface{}{"citation": "CPTAC breast"}),
	}, logger.NewNopLogger())

	resp, err := h.Handle(context.Background(), source.Request{
		Query:   "breast cancer",
		Members: []intent.SourceID{intent.SourcePDC, intent.SourceGDC},
	})
	require.NoError(t, err)

	pdcAt := strings.Index(resp.Text, "### Proteomic Data Commons")
	gdcAt := strings.Index(resp.Text, "### Genomic Data Commons")
	require.True(t, pdcAt >= 0 && gdcAt > pdcAt, resp.Text)
	assert.Contains(t, resp.Text, "[PDC000120](https://pdc.cancer.gov/pdc/study/PDC000120)")
	assert.True(t, strings.HasSuffix(resp.Text, "Citations:\n1. CPTAC breast"), resp.Text)
	assert.Len(t, resp.RetrievedItems, 2)
}

func TestHandler_SingleMemberHasNoHeading(t *testing.T) {
	h := NewHandlerWithMembers(map[intent.SourceID]source.Handler{
		intent.SourceIDC: fixed("3 collections.", 0, nil),
	}, logger.NewNopLogger())

	resp, err := h.Handle(context.Background(), source.Request{Members: []intent.SourceID{intent.SourceIDC}})
	require.NoError(t, err)
	assert.Equal(t, "3 collections.", resp.Text)
}

func TestHandler_MemberFailureDegrades(t *testing.T) {
	h := NewHandlerWithMembers(map[intent.SourceID]source.Handler{
		intent.SourcePDC: source.HandlerFunc(func(context.Context, source.Request) (source.NormalizedResponse, error) {
			return source.NormalizedResponse{}, errors.New("graphql down")
		}),
		intent.SourceIDC: fixed("3 collections.", 0, nil),
	}, logger.NewNopLogger())

	resp, err := h.Handle(context.Background(), source.Request{Members: []intent.SourceID{intent.SourcePDC, intent.SourceIDC}})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Proteomic Data Commons could not answer")
	assert.Contains(t, resp.Text, "3 collections.")
}

func TestHandler_CancelledContextPropagates(t *testing.T) {
	h := NewHandlerWithMembers(map[intent.SourceID]source.Handler{
		intent.SourcePDC: fixed("slow", time.Second, nil),
	}, logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Handle(ctx, source.Request{Members: []intent.SourceID{intent.SourcePDC}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpressionRows(t *testing.T) {
	matrix := [][]interface{}{
		{"Gene/Aliquot", "C1:AL-1.1", "C2:AL-2"},
		{"TP53", "1.5", "NaN"},
		{"EGFR", "-0.25", "0.75"},
	}
	clinical := []map[string]interface{}{
		{"aliquot_submitter_id": "AL-1", "tumor_stage": "Stage II"},
	}
	rows, missing := expressionRows(matrix, []string{"TP53", "BRCA1"}, clinical)

	assert.Equal(t, []string{"BRCA1"}, missing)
	require.Len(t, rows, 2)
	assert.Equal(t, 1.5, rows[0]["TP53"])
	assert.Nil(t, rows[1]["TP53"])
	assert.Equal(t, "C1", rows[0]["case_id"])
	assert.Equal(t, "Stage II", rows[0]["tumor_stage"])
	assert.NotContains(t, rows[0], "EGFR")
}

func TestPDC_ExpressionToolProducesTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch {
		case strings.Contains(body["query"], "quantDataMatrix"):
			_, _ = w.Write([]byte(`{"data":{"quantDataMatrix":[["Gene/Aliquot","C1:A1","C2:A2"],["TP53","1.0","2.0"]]}}`))
		case strings.Contains(body["query"], "clinicalMetadata"):
			_, _ = w.Write([]byte(`{"data":{"clinicalMetadata":[]}}`))
		default:
			_, _ = w.Write([]byte(`{"errors":[{"message":"unexpected"}]}`))
		}
	}))
	defer srv.Close()

	fake := llmtest.NewFake().
		OnLast("Result of get_gene_expression", `{"action":"answer","answer":"TP53 is expressed in 2 samples of PDC000120."}`).
		On("Proteomic Data Commons", `{"action":"call","tool":"get_gene_expression","args":{"study_id":"pdc000120","genes":["tp53"]}}`)
	log := logger.NewNopLogger()
	member := newPDC(structured.NewCaller(fake, 0, log), apiclient.New(srv.URL, time.Second), nil, log)

	resp, err := member.Handle(context.Background(), source.Request{Query: "expression of TP53 in PDC000120"})
	require.NoError(t, err)
	require.Len(t, resp.Tables, 1)
	assert.Contains(t, resp.Tables[0], `"TP53":1`)
	assert.Contains(t, resp.Tables[0], `"sample_id":"C2:A2"`)
}
