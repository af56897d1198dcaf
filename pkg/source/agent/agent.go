// Package agent runs a bounded tool-calling loop: the model picks a tool,
// sees its result, and repeats until it answers or runs out of steps.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
)

const defaultMaxSteps = 6

// Result is what a tool hands back to the loop.
type Result struct {
	Text string
	// Table is a JSON table (records, split or dict form).
	Table    string
	Metadata map[string]interface{}
	Elements []source.Element
	// Stop ends the loop and makes Text the answer.
	Stop bool
}

type Tool struct {
	Name        string
	Description string
	// Params documents the args object the tool expects.
	Params string
	Run    func(ctx context.Context, args Args) (Result, error)
}

type Config struct {
	// Module names the agent in logs, e.g. SOURCE.PX.
	Module   string
	System   string
	Tools    []Tool
	MaxSteps int
	Guard    *memory.LimitGuard
}

type Agent struct {
	caller *structured.Caller
	cfg    Config
	tools  map[string]Tool
	logger logger.ILogger
}

func New(caller *structured.Caller, cfg Config, log logger.ILogger) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	tools := make(map[string]Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Name] = t
	}
	return &Agent{caller: caller, cfg: cfg, tools: tools, logger: log}
}

type decision struct {
	Action string `json:"action" validate:"required,oneof=call answer"`
	Tool   string `json:"tool,omitempty"`
	Args   Args   `json:"args,omitempty"`
	Answer string `json:"answer,omitempty"`
}

func (d *decision) Validate() error {
	switch d.Action {
	case "call":
		if d.Tool == "" {
			return errors.New(`"call" needs a tool name`)
		}
	case "answer":
		if strings.TrimSpace(d.Answer) == "" {
			return errors.New(`"answer" needs non-empty answer text`)
		}
	}
	return nil
}

type finalAnswer struct {
	Answer string `json:"answer" validate:"required"`
}

// Run answers query with the tools, starting from history.
func (a *Agent) Run(ctx context.Context, history []llm.Message, query string) (source.NormalizedResponse, error) {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemPrompt()})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: query})

	var resp source.NormalizedResponse
	for step := 0; step < a.cfg.MaxSteps; step++ {
		var d decision
		if err := a.caller.Call(ctx, msgs, &d); err != nil {
			return resp, fmt.Errorf("%s: %w", a.cfg.Module, err)
		}
		if d.Action == "answer" {
			resp.Text = d.Answer
			return resp, nil
		}

		echo, _ := json.Marshal(d)
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: string(echo)})

		tool, ok := a.tools[d.Tool]
		if !ok {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
				"There is no tool named %q. Available tools: %s.", d.Tool, strings.Join(a.toolNames(), ", "))})
			continue
		}

		observation, stop := a.runTool(ctx, tool, d.Args, &resp)
		if stop {
			resp.Text = observation
			return resp, nil
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
			"Result of %s:\n%s\n\nDecide the next step.", tool.Name, observation)})
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: "You have no tool calls left. " +
		`Answer the original question now from what you retrieved, as {"answer": "..."}.`})
	var final finalAnswer
	if err := a.caller.Call(ctx, msgs, &final); err != nil {
		return resp, fmt.Errorf("%s: %w", a.cfg.Module, err)
	}
	resp.Text = final.Answer
	return resp, nil
}

func (a *Agent) runTool(ctx context.Context, tool Tool, args Args, resp *source.NormalizedResponse) (string, bool) {
	resp.ToolTrace = append(resp.ToolTrace, source.ToolCall{Name: tool.Name, Args: args})

	res, err := tool.Run(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return "The request was cancelled.", false
		}
		a.logger.Warn(a.cfg.Module, "Tool failed", map[string]interface{}{
			"tool":  tool.Name,
			"error": err.Error(),
		})
		return fmt.Sprintf("The tool failed: %v", err), false
	}
	if res.Stop {
		return res.Text, true
	}

	a.logger.Debug(a.cfg.Module, "Tool returned", map[string]interface{}{
		"tool":   tool.Name,
		"result": logger.Truncate(res.Text, 200),
	})

	meta := map[string]interface{}{"tool": tool.Name}
	for k, v := range res.Metadata {
		meta[k] = v
	}
	resp.RetrievedItems = append(resp.RetrievedItems, source.RetrievedItem{Content: res.Text, Metadata: meta})
	if res.Table != "" {
		resp.Tables = append(resp.Tables, res.Table)
	}
	resp.Elements = append(resp.Elements, res.Elements...)

	if warn := a.cfg.Guard.Check(res.Text); warn != "" {
		return warn, false
	}
	if strings.TrimSpace(res.Text) == "" {
		return "The tool returned no data.", false
	}
	return res.Text, false
}

func (a *Agent) toolNames() []string {
	names := make([]string, 0, len(a.tools))
	for n := range a.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *Agent) systemPrompt() string {
	var sb strings.Builder
	sb.WriteString(a.cfg.System)
	sb.WriteString("\n\nTools:\n")
	for _, t := range a.cfg.Tools {
		fmt.Fprintf(&sb, "- %s: %s\n  args: %s\n", t.Name, t.Description, t.Params)
	}
	sb.WriteString("\nReply with ONE JSON object and nothing else, either\n" +
		`{"action": "call", "tool": "<name>", "args": {...}}` + "\nor\n" +
		`{"action": "answer", "answer": "<markdown answer for the user>"}` + "\n" +
		"Use only information returned by the tools. If nothing relevant was found, say so in the answer.")
	return sb.String()
}
