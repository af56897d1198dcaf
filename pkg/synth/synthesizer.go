// Package synth merges the answers of several source families into one
// attributed reply.
package synth

import (
	"context"
	"fmt"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/source"
)

const systemPrompt = `You are a synthesis agent responsible for generating the final response to the user by combining outputs from multiple specialized agents. Your response must be strictly grounded in the content from those agents. Do not use outside knowledge or make assumptions beyond what is explicitly stated.

Objectives:
- Extract and combine only the informative, content-rich parts of each agent's response.
- Clearly acknowledge when a source was consulted but did not provide relevant information.
- Indicate which information came from which data source whenever possible.
- Present the final summary in a friendly, helpful and detailed tone.

Guidelines:
- Do not use vague phrases such as 'based on the provided context'. Refer directly to the source when attributing information.
- Do not infer, speculate or generalize beyond what the agent responses state.
- If agents overlap, say the insight is supported by multiple sources. If they conflict, present both perspectives neutrally.
- Preserve hyperlinks, markdown links, lists, headings and code formatting from the agent responses.
- Elements returned by a source are rendered after your text. Refer to them (e.g. 'Below you will find the structure image') but do not include their value.`

const userPrompt = `Below is information gathered from various sources that may help you respond:
---------------------
%s
---------------------
Using the information above, please answer the following question:

%s

In your response you MUST link any PDC, PX and Metabolomics Workbench IDs to the appropriate URL if they are not already:
PDC study IDs PDC<6 digits> link to https://pdc.cancer.gov/pdc/study/PDC<6 digits>
PX study IDs PXD<6 digits> link to https://proteomecentral.proteomexchange.org/cgi/GetDataset?ID=PXD<6 digits>
Metabolomics Workbench study IDs ST<6 digits> link to https://www.metabolomicsworkbench.org/data/DRCCMetadata.php?Mode=Study&StudyID=ST<6 digits>

The first mention of these sources should link to the website:
[Proteomic Data Commons](https://pdc.cancer.gov/pdc/), [ProteomeXchange](https://www.proteomexchange.org/), [Metabolomics Workbench](https://www.metabolomicsworkbench.org/)`

// Part is one family's contribution, in dispatch order.
type Part struct {
	Name     string
	Response source.NormalizedResponse
}

type Input struct {
	Query string
	Parts []Part
	// History holds earlier user messages of the session, oldest first.
	History []string
}

type Synthesizer struct {
	llm    llm.LLMProvider
	logger logger.ILogger
}

func NewSynthesizer(provider llm.LLMProvider, log logger.ILogger) *Synthesizer {
	return &Synthesizer{llm: provider, logger: log}
}

// Synthesize asks the model for one answer grounded in every part. Elements
// and tables of the parts are carried through unchanged.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (source.NormalizedResponse, error) {
	msgs := make([]llm.Message, 0, len(in.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, h := range in.History {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: h})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(userPrompt, Context(in.Parts), in.Query)})

	text, err := s.llm.Chat(ctx, msgs)
	if err != nil {
		return source.NormalizedResponse{}, fmt.Errorf("synthesize: %w", err)
	}

	out := source.NormalizedResponse{Text: strings.TrimSpace(text)}
	for _, p := range in.Parts {
		out.RetrievedItems = append(out.RetrievedItems, p.Response.RetrievedItems...)
		out.ToolTrace = append(out.ToolTrace, p.Response.ToolTrace...)
		out.Tables = append(out.Tables, p.Response.Tables...)
		out.Elements = append(out.Elements, p.Response.Elements...)
	}

	s.logger.Info("SYNTH", "Synthesized answer", map[string]interface{}{
		"parts":    len(in.Parts),
		"elements": len(out.Elements),
	})
	return out, nil
}

// Context renders the parts as numbered, attributed entries.
func Context(parts []Part) string {
	entries := make([]string, len(parts))
	for i, p := range parts {
		entries[i] = fmt.Sprintf("%d) Information from %s:\n%s", i+1, p.Name, p.Response.Text)
	}
	return strings.Join(entries, "\n")
}
