package memory

import (
	"strconv"
	"sync"

	"bioinsight-be/pkg/llm"
)

// ConversationMemory is an append-only, token-bounded message log for one
// long-lived agent in a session. The oldest messages are dropped first once
// the budget is exceeded; the newest message is always retained.
type ConversationMemory struct {
	mu        sync.RWMutex
	messages  []entry
	total     int
	budget    int
	tokenizer Tokenizer
}

type entry struct {
	msg    llm.Message
	tokens int
}

func New(budget int, tokenizer Tokenizer) *ConversationMemory {
	if tokenizer == nil {
		tokenizer = ApproxTokenizer()
	}
	return &ConversationMemory{budget: budget, tokenizer: tokenizer}
}

func (m *ConversationMemory) Put(msg llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.tokenizer.Count(msg.Content)
	m.messages = append(m.messages, entry{msg: msg, tokens: n})
	m.total += n

	for m.budget > 0 && m.total > m.budget && len(m.messages) > 1 {
		m.total -= m.messages[0].tokens
		m.messages = m.messages[1:]
	}
}

func (m *ConversationMemory) PutUser(content string) {
	m.Put(llm.Message{Role: llm.RoleUser, Content: content})
}

func (m *ConversationMemory) PutAssistant(content string) {
	m.Put(llm.Message{Role: llm.RoleAssistant, Content: content})
}

// Messages returns a snapshot in insertion order.
func (m *ConversationMemory) Messages() []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]llm.Message, len(m.messages))
	for i, e := range m.messages {
		out[i] = e.msg
	}
	return out
}

// UserHistory returns prior user messages, skipping any equal to exclude.
func (m *ConversationMemory) UserHistory(exclude string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, e := range m.messages {
		if e.msg.Role == llm.RoleUser && e.msg.Content != exclude {
			out = append(out, e.msg.Content)
		}
	}
	return out
}

func (m *ConversationMemory) Tokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *ConversationMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.total = 0
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
