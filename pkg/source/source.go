// Package source defines the contract every backend handler implements and
// the normalized answer they return.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm"
)

// Apology is shown when a handler produced nothing usable.
const Apology = "I'm sorry, I've encountered an internal error. Please try again."

var (
	ErrUpstreamEmpty = errors.New("upstream returned no content")
	ErrNoHandler     = errors.New("no handler registered for family")
)

type RetrievedItem struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Element is a UI attachment such as an image or a download link.
type Element struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	Mime    string `json:"mime,omitempty"`
	Content string `json:"content,omitempty"`
}

// NormalizedResponse is a handler's answer. Treat it as immutable.
type NormalizedResponse struct {
	Text           string          `json:"text"`
	RetrievedItems []RetrievedItem `json:"retrieved_items,omitempty"`
	ToolTrace      []ToolCall      `json:"tool_trace,omitempty"`
	// Tables holds tabular tool results as JSON, in retrieval order.
	Tables   []string  `json:"tables,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

func (r NormalizedResponse) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// OrApology replaces an empty answer with the apology text.
func (r NormalizedResponse) OrApology() NormalizedResponse {
	if r.Empty() {
		r.Text = Apology
	}
	return r
}

// Request is one dispatch to a handler.
type Request struct {
	SessionID string
	Query     string
	Members   []intent.SourceID
	// History is the family's prior conversation for this session.
	History []llm.Message
	// Asker is set when the handler may suspend on the user.
	Asker hitl.Asker
}

type Handler interface {
	Handle(ctx context.Context, req Request) (NormalizedResponse, error)
}

type HandlerFunc func(ctx context.Context, req Request) (NormalizedResponse, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (NormalizedResponse, error) {
	return f(ctx, req)
}

// Registry resolves a family to its handler.
type Registry map[intent.Family]Handler

func (r Registry) Get(f intent.Family) (Handler, error) {
	h, ok := r[f]
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, f)
	}
	return h, nil
}

// Merge concatenates responses, keeping their order.
func Merge(sep string, parts ...NormalizedResponse) NormalizedResponse {
	var out NormalizedResponse
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if !p.Empty() {
			texts = append(texts, p.Text)
		}
		out.RetrievedItems = append(out.RetrievedItems, p.RetrievedItems...)
		out.ToolTrace = append(out.ToolTrace, p.ToolTrace...)
		out.Tables = append(out.Tables, p.Tables...)
		out.Elements = append(out.Elements, p.Elements...)
	}
	out.Text = strings.Join(texts, sep)
	return out
}
