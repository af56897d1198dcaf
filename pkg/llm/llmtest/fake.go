// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bioinsight-be/pkg/llm"
)

// Responder decides the reply for one call.
type Responder func(history []llm.Message) (string, error)

// Fake is a scriptable llm.LLMProvider. Routes are matched in order against
// the concatenated prompt text; the first matching substring wins.
type Fake struct {
	mu       sync.Mutex
	routes   []route
	fallback Responder
	calls    []string
}

type route struct {
	contains string
	lastOnly bool
	replies  []Responder
	next     int
}

var _ llm.LLMProvider = &Fake{}

func NewFake() *Fake {
	return &Fake{}
}

// On registers replies for prompts containing substr. Replies are used in
// order; the last one repeats.
func (f *Fake) On(substr string, replies ...string) *Fake {
	rs := make([]Responder, len(replies))
	for i, r := range replies {
		r := r
		rs[i] = func([]llm.Message) (string, error) { return r, nil }
	}
	return f.OnFunc(substr, rs...)
}

func (f *Fake) OnFunc(substr string, replies ...Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, route{contains: substr, replies: replies})
	return f
}

// OnLast is like On but only matches the final message of the history.
func (f *Fake) OnLast(substr string, replies ...string) *Fake {
	f.On(substr, replies...)
	f.mu.Lock()
	f.routes[len(f.routes)-1].lastOnly = true
	f.mu.Unlock()
	return f
}

func (f *Fake) Default(r Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = r
	return f
}

func (f *Fake) Chat(ctx context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	prompt := sb.String()
	last := ""
	if len(history) > 0 {
		last = history[len(history)-1].Content
	}

	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	var responder Responder
	for i := range f.routes {
		r := &f.routes[i]
		text := prompt
		if r.lastOnly {
			text = last
		}
		if !strings.Contains(text, r.contains) || len(r.replies) == 0 {
			continue
		}
		idx := r.next
		if idx >= len(r.replies) {
			idx = len(r.replies) - 1
		}
		r.next++
		responder = r.replies[idx]
		break
	}
	if responder == nil {
		responder = f.fallback
	}
	f.mu.Unlock()

	if responder == nil {
		return "", fmt.Errorf("llmtest: no scripted reply for prompt %q", truncate(prompt, 120))
	}
	return responder(history)
}

func (f *Fake) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

// Calls returns every prompt seen so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsContaining counts prompts that contain substr.
func (f *Fake) CallsContaining(substr string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
