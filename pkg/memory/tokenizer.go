package memory

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for budget accounting.
type Tokenizer interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// approxCounter assumes roughly four characters per token.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

// NewTokenizer returns a tiktoken counter for model, falling back to
// cl100k_base and finally to a character estimate when encodings cannot be
// loaded (tiktoken fetches them on first use).
func NewTokenizer(model string) Tokenizer {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &tiktokenCounter{enc: enc}
		}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return &tiktokenCounter{enc: enc}
	}
	return approxCounter{}
}

// ApproxTokenizer never touches the network.
func ApproxTokenizer() Tokenizer {
	return approxCounter{}
}

// LimitGuard returns a warning instead of payload when it would take more
// than threshold of the context window.
type LimitGuard struct {
	tokenizer     Tokenizer
	contextWindow int
	threshold     float64
}

func NewLimitGuard(t Tokenizer, contextWindow int, threshold float64) *LimitGuard {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &LimitGuard{tokenizer: t, contextWindow: contextWindow, threshold: threshold}
}

// Check returns a non-empty warning when payload exceeds the budget.
func (g *LimitGuard) Check(payload string) string {
	if g == nil || g.contextWindow <= 0 {
		return ""
	}
	n := g.tokenizer.Count(payload)
	limit := int(g.threshold * float64(g.contextWindow))
	if n <= limit {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("The retrieved data contains approximately ")
	sb.WriteString(itoa(n))
	sb.WriteString(" tokens, which exceeds ")
	sb.WriteString(itoa(int(g.threshold * 100)))
	sb.WriteString("% of the model context window. Please narrow the request or ask for a summary.")
	return sb.String()
}
