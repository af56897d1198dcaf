package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/projects", r.URL.Path)
		assert.Equal(t, "breast cancer", r.URL.Query().Get("keyword"))
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	var out map[string]string
	err := c.GetJSON(context.Background(), "/search/projects", url.Values{"keyword": {"breast cancer"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["ok"])
}

func TestClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Get(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrStatus)
}

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["query"]})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(t, New(srv.URL, time.Second).PostJSON(context.Background(), "", map[string]string{"query": "{a}"}, &out))
	assert.Equal(t, "{a}", out["echo"])
}

func TestClient_URLEscapesSegments(t *testing.T) {
	c := New("https://example.org/rest/", time.Second)
	assert.Equal(t, "https://example.org/rest/compound/name/a%2Fb/all/json", c.URL("compound", "name", "a/b", "all", "json"))
	assert.Equal(t, "https://example.org/rest/compound/regno/11/name,formula/json", c.URL("compound", "regno", "11", "name,formula", "json"))
	assert.Equal(t, "https://example.org/rest/metstat/;POSITIVE;;Human", c.URL("metstat", ";POSITIVE;;Human"))
}
