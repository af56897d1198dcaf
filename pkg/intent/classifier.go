package intent

import (
	"context"
	"errors"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
)

// ErrParse aliases the structured-output failure so callers can match it here.
var ErrParse = structured.ErrParse

// candidate normalizes model output before validating it.
type candidate struct {
	Intent
}

func (c *candidate) Validate() error {
	c.Intent.Normalize()
	return c.Intent.Validate()
}

// Classifier turns a query plus conversation memory into an Intent.
type Classifier struct {
	caller   *structured.Caller
	fallback func() Intent
	logger   logger.ILogger
}

// NewClassifier builds a classifier. fallback may be nil to use Fallback.
func NewClassifier(caller *structured.Caller, fallback func() Intent, log logger.ILogger) *Classifier {
	if fallback == nil {
		fallback = Fallback
	}
	return &Classifier{caller: caller, fallback: fallback, logger: log}
}

// Classify records the query in mem and returns a validated Intent. Parse
// failures degrade to the fallback Intent; only context errors are returned.
func (c *Classifier) Classify(ctx context.Context, query string, mem *memory.ConversationMemory) (Intent, error) {
	history := mem.Messages()
	mem.PutUser(query)

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt()})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: buildUserPrompt(query)})

	var out candidate
	if err := c.caller.Call(ctx, msgs, &out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Intent{}, ctxErr
		}
		if errors.Is(err, ErrParse) {
			c.logger.Warn("INTENT", "Classification failed, using fallback", map[string]interface{}{
				"query": logger.Truncate(query, 200),
				"error": err.Error(),
			})
			return c.fallback(), nil
		}
		return Intent{}, err
	}

	result := out.Intent
	result.RestrictToNamed(query)

	c.logger.Info("INTENT", "Classified", map[string]interface{}{
		"off_topic":     result.OffTopic,
		"harmonization": result.Harmonization,
		"plot":          result.Plot,
		"sources":       result.Sources,
	})
	return result, nil
}

func systemPrompt() string {
	var sb strings.Builder
	sb.WriteString("<system>\n")
	sb.WriteString("You route biomedical research questions to data backends. You do NOT answer the question.\n")
	sb.WriteString("</system>\n\n")

	sb.WriteString("<backends>\n")
	sb.WriteString(Describe())
	sb.WriteString("</backends>\n\n")

	sb.WriteString("<rules>\n")
	sb.WriteString("- off_topic: true when the question is unrelated to biomedical data; give a short off_topic_reply.\n")
	sb.WriteString("- harmonization: true when the user wants to harmonize or standardize their own dataset. ")
	sb.WriteString("Then sources and source_contexts MUST be empty.\n")
	sb.WriteString("- plot: true when the user asks for a chart, plot, graph or heatmap.\n")
	sb.WriteString("- If the user names a backend, select exactly that backend.\n")
	sb.WriteString("- Otherwise select EVERY backend whose domain plausibly matches. Favor inclusion.\n")
	sb.WriteString("- For every selected source write a source_contexts entry: the query rewritten for that backend.\n")
	sb.WriteString("- context_enriched_query: resolve references such as \"that dataset\" or \"the first study\" ")
	sb.WriteString("using the conversation so the query stands alone.\n")
	sb.WriteString("- reply: a short message to show when no source applies.\n")
	sb.WriteString("</rules>\n\n")

	sb.WriteString("<output_format>\n")
	sb.WriteString(`{"off_topic": false, "off_topic_reply": "", "harmonization": false, "plot": false, `)
	sb.WriteString(`"context_enriched_query": "", "sources": ["PDC"], "source_contexts": {"PDC": "..."}, "reply": ""}`)
	sb.WriteString("\nReply with ONLY the JSON object.\n")
	sb.WriteString("</output_format>")
	return sb.String()
}

func buildUserPrompt(query string) string {
	return "<user_query>\n" + query + "\n</user_query>"
}
