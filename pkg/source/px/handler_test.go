package px

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/llmtest"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/apiclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_SearchAndLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/projects", r.URL.Path)
		assert.Equal(t, "breast cancer", r.URL.Query().Get("keyword"))
		assert.Equal(t, "submissionDate", r.URL.Query().Get("sortFields"))
		_, _ = w.Write([]byte(`[{"accession":"PXD012345","title":"Breast tumour proteome","submissionDate":"2024-01-02",
			"organisms":["Homo sapiens (human)"],"diseases":[{"name":"Breast cancer"}]}]`))
	}))
	defer srv.Close()

	fake := llmtest.NewFake().
		OnLast("Result of search_projects", `{"action":"answer","answer":"The newest study is PXD012345."}`).
		On("ProteomeXchange", `{"action":"call","tool":"search_projects","args":{"keyword":"breast cancer"}}`)

	log := logger.NewNopLogger()
	h := NewHandler(structured.NewCaller(fake, 1, log), apiclient.New(srv.URL, time.Second), nil, log)

	resp, err := h.Handle(context.Background(), source.Request{Query: "breast cancer studies in PX"})
	require.NoError(t, err)
	assert.Equal(t, "The newest study is [PXD012345](https://proteomecentral.proteomexchange.org/cgi/GetDataset?ID=PXD012345).", resp.Text)
	require.Len(t, resp.Tables, 1)
	assert.Contains(t, resp.Tables[0], `"diseases":"Breast cancer"`)
	assert.Contains(t, resp.Tables[0], `"organisms":"Homo sapiens (human)"`)
}

func TestHandler_ProjectNotFoundIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fake := llmtest.NewFake().
		OnLast("The tool failed", `{"action":"answer","answer":"I could not find that project."}`).
		On("ProteomeXchange", `{"action":"call","tool":"get_project","args":{"accession":"pxd999999"}}`)

	log := logger.NewNopLogger()
	h := NewHandler(structured.NewCaller(fake, 1, log), apiclient.New(srv.URL, time.Second), nil, log)

	resp, err := h.Handle(context.Background(), source.Request{Query: "Tell me about PXD999999"})
	require.NoError(t, err)
	assert.Equal(t, "I could not find that project.", resp.Text)
	assert.Equal(t, "get_project", resp.ToolTrace[0].Name)
}
