package workflow

import (
	"sync"

	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/memory"
)

// MemoryBudgets sizes the conversation memories of a session, in tokens.
type MemoryBudgets struct {
	Intent int
	Source int
}

// Session holds what survives between turns of one conversation: the
// classifier's memory, one memory per source family and the interaction
// broker. A session runs one turn at a time.
type Session struct {
	ID     string
	Intent *memory.ConversationMemory
	// Harmonization is the memory of the harmonization flow.
	Harmonization *memory.ConversationMemory
	Broker        *hitl.Broker

	mu      sync.Mutex
	sources map[intent.Family]*memory.ConversationMemory
	tok     memory.Tokenizer
	budget  int
}

func NewSession(id string, budgets MemoryBudgets, tok memory.Tokenizer, broker *hitl.Broker) *Session {
	return &Session{
		ID:            id,
		Intent:        memory.New(budgets.Intent, tok),
		Harmonization: memory.New(budgets.Source, tok),
		sources: map[intent.Family]*memory.ConversationMemory{
			intent.FamilyCRDC: memory.New(budgets.Source, tok),
			intent.FamilyPX:   memory.New(budgets.Source, tok),
			intent.FamilyMWB:  memory.New(budgets.Source, tok),
		},
		Broker: broker,
		tok:    tok,
		budget: budgets.Source,
	}
}

// SourceMemory returns the family's memory, creating it on first use.
func (s *Session) SourceMemory(f intent.Family) *memory.ConversationMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.sources[f]; ok {
		return m
	}
	m := memory.New(s.budget, s.tok)
	s.sources[f] = m
	return m
}

// Reset clears every memory of the session.
func (s *Session) Reset() {
	s.Intent.Reset()
	s.Harmonization.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.sources {
		m.Reset()
	}
}
