package intent

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidIntent = errors.New("invalid intent")

// Intent is the per-turn routing decision. It is read-only once built.
type Intent struct {
	OffTopic             bool                `json:"off_topic"`
	OffTopicReply        string              `json:"off_topic_reply,omitempty"`
	Harmonization        bool                `json:"harmonization"`
	Plot                 bool                `json:"plot"`
	ContextEnrichedQuery string              `json:"context_enriched_query,omitempty"`
	Sources              []SourceID          `json:"sources"`
	SourceContexts       map[SourceID]string `json:"source_contexts"`
	Reply                string              `json:"reply,omitempty"`
}

// New normalizes and validates an Intent.
func New(in Intent) (Intent, error) {
	out := in
	out.Normalize()
	if err := out.Validate(); err != nil {
		return Intent{}, err
	}
	return out, nil
}

// Normalize upper-cases source ids and drops duplicate selections.
// It copies the context map so the caller's value is never shared.
func (i *Intent) Normalize() {
	i.Sources = dedupe(i.Sources)
	if i.SourceContexts == nil {
		return
	}
	contexts := make(map[SourceID]string, len(i.SourceContexts))
	for k, v := range i.SourceContexts {
		contexts[canonical(k)] = v
	}
	i.SourceContexts = contexts
}

// Validate enforces the structural invariants of an Intent.
func (i *Intent) Validate() error {
	if i.Harmonization && (len(i.Sources) > 0 || len(i.SourceContexts) > 0) {
		return fmt.Errorf("%w: harmonization excludes sources and source_contexts", ErrInvalidIntent)
	}
	seen := make(map[SourceID]bool, len(i.Sources))
	for _, s := range i.Sources {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown source %q", ErrInvalidIntent, s)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate source %q", ErrInvalidIntent, s)
		}
		seen[s] = true
		if _, ok := i.SourceContexts[s]; !ok {
			return fmt.Errorf("%w: source %q has no context", ErrInvalidIntent, s)
		}
	}
	if i.OffTopic && strings.TrimSpace(i.OffTopicReply) == "" {
		return fmt.Errorf("%w: off_topic requires off_topic_reply", ErrInvalidIntent)
	}
	return nil
}

// Fallback is used when classification cannot produce a valid Intent.
func Fallback() Intent {
	return Intent{
		OffTopic:      true,
		OffTopicReply: "Sorry, I couldn't determine what you need.",
		Reply:         "Sorry, I couldn't process your request.",
	}
}

// Dispatch is one handler invocation derived from an Intent.
type Dispatch struct {
	Family  Family
	Members []SourceID
	Query   string
}

const userQueryTemplate = "Here is the original user query: %s\n\n" +
	"Here is some additional context that may help you answer the query. " +
	"If it is not relevant, disregard it: %s"

// Dispatches groups selected sources by family, in order of first selection.
// Several CRDC databases become one CRDC dispatch.
func (i *Intent) Dispatches(original string) []Dispatch {
	index := map[Family]int{}
	var out []Dispatch
	for _, s := range i.Sources {
		f := s.Family()
		pos, ok := index[f]
		if !ok {
			pos = len(out)
			index[f] = pos
			out = append(out, Dispatch{Family: f})
		}
		out[pos].Members = append(out[pos].Members, s)
	}
	for k := range out {
		out[k].Query = DispatchQuery(original, i.memberContext(out[k].Members))
	}
	return out
}

// DispatchQuery joins the user's query with context for one handler.
func DispatchQuery(original, context string) string {
	return fmt.Sprintf(userQueryTemplate, original, context)
}

func (i *Intent) memberContext(members []SourceID) string {
	if len(members) == 1 {
		return i.SourceContexts[members[0]]
	}
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, fmt.Sprintf("%s: %s", m, i.SourceContexts[m]))
	}
	return strings.Join(parts, "\n")
}

// RestrictToNamed applies the explicit-naming rule: when the query names
// backends, the Intent selects exactly those. Contexts for newly added
// backends default to the enriched query.
func (i *Intent) RestrictToNamed(query string) {
	if i.OffTopic || i.Harmonization {
		return
	}
	named := NamedSources(query)
	if len(named) == 0 {
		return
	}
	contexts := make(map[SourceID]string, len(named))
	for _, s := range named {
		ctx, ok := i.SourceContexts[s]
		if !ok || strings.TrimSpace(ctx) == "" {
			ctx = i.ContextEnrichedQuery
			if ctx == "" {
				ctx = query
			}
		}
		contexts[s] = ctx
	}
	i.Sources = named
	i.SourceContexts = contexts
}

func dedupe(in []SourceID) []SourceID {
	if in == nil {
		return nil
	}
	seen := make(map[SourceID]bool, len(in))
	out := make([]SourceID, 0, len(in))
	for _, s := range in {
		s = canonical(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func canonical(s SourceID) SourceID {
	return SourceID(strings.ToUpper(strings.TrimSpace(string(s))))
}
