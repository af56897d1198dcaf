// Package mwb answers Metabolomics Workbench questions with a mesh of
// context nodes: a router hands the query to the node that owns the
// relevant part of the REST API, and nodes may hand off along a directed
// graph until one answers or the hop budget runs out.
package mwb

import (
	"context"
	"fmt"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/agent"
	"bioinsight-be/pkg/source/apiclient"
	"bioinsight-be/pkg/table"
)

const (
	DefaultBaseURL  = "https://www.metabolomicsworkbench.org/rest"
	DefaultMaxHops  = 6
	exhaustedAnswer = "I wasn't able to find the right Metabolomics Workbench service for this question. " +
		"Could you rephrase it or name the study, compound or gene you are interested in?"
)

type Handler struct {
	caller  *structured.Caller
	client  *apiclient.Client
	guard   *memory.LimitGuard
	graph   Graph
	maxHops int
	logger  logger.ILogger
}

func NewHandler(caller *structured.Caller, client *apiclient.Client, guard *memory.LimitGuard, maxHops int, log logger.ILogger) *Handler {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Handler{
		caller:  caller,
		client:  client,
		guard:   guard,
		graph:   DefaultGraph(),
		maxHops: maxHops,
		logger:  log,
	}
}

// run is the state of one mesh traversal.
type run struct {
	node   string
	next   string
	reason string
	hops   int
}

func (h *Handler) Handle(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
	r := &run{node: Router}
	var out source.NormalizedResponse
	var trail []string

	for {
		trail = append(trail, r.node)
		node := h.nodeAgent(r)
		resp, err := node.Run(ctx, req.History, h.prompt(req.Query, r))
		out.RetrievedItems = append(out.RetrievedItems, resp.RetrievedItems...)
		out.ToolTrace = append(out.ToolTrace, resp.ToolTrace...)
		out.Tables = append(out.Tables, resp.Tables...)
		out.Elements = append(out.Elements, resp.Elements...)
		if err != nil {
			return out, err
		}

		if r.next == "" {
			out.Text = resp.Text
			break
		}
		h.logger.Debug("SOURCE.MWB", "Hand-off", map[string]interface{}{
			"from":   r.node,
			"to":     r.next,
			"hop":    r.hops,
			"reason": logger.Truncate(r.reason, 200),
		})
		r.node, r.next = r.next, ""
	}

	if strings.TrimSpace(out.Text) == "" {
		out.Text = exhaustedAnswer
	}
	out.Text = source.LinkIDs(out.Text)
	h.logger.Info("SOURCE.MWB", "Mesh finished", map[string]interface{}{
		"path": strings.Join(trail, " -> "),
		"hops": r.hops,
	})
	return out, nil
}

func (h *Handler) prompt(query string, r *run) string {
	if r.reason == "" {
		return query
	}
	return fmt.Sprintf("%s\n\nYou received this query by hand-off. Reason: %s", query, r.reason)
}

func (h *Handler) nodeAgent(r *run) *agent.Agent {
	tools := []agent.Tool{h.handoffTool(r)}
	var system string
	switch r.node {
	case Router:
		system = routerPrompt(h.graph)
	case General:
		system = generalPrompt
		tools = append(tools, h.studySearchTool())
	default:
		rc := restContexts[r.node]
		system = contextPrompt(r.node, rc)
		tools = append(tools, h.restTool(r.node, rc))
	}
	return agent.New(h.caller, agent.Config{
		Module:   "SOURCE.MWB." + strings.ToUpper(r.node),
		System:   system,
		Tools:    tools,
		MaxSteps: 4,
		Guard:    h.guard,
	}, h.logger)
}

func (h *Handler) handoffTool(r *run) agent.Tool {
	targets := h.graph.Targets(r.node)
	return agent.Tool{
		Name:        "handoff",
		Description: "Passes the query to another node: " + strings.Join(targets, ", ") + ".",
		Params:      `{"to": "node name", "reason": "why that node should take it and what to focus on"}`,
		Run: func(_ context.Context, args agent.Args) (agent.Result, error) {
			to := strings.ToLower(args.String("to"))
			if !h.graph.Allowed(r.node, to) {
				return agent.Result{}, fmt.Errorf("cannot hand off from %s to %q; choose one of %s", r.node, to, strings.Join(targets, ", "))
			}
			if r.hops >= h.maxHops {
				return agent.Result{}, fmt.Errorf("hand-off limit reached; answer with what you have or ask the user to clarify")
			}
			r.hops++
			r.next = to
			r.reason = args.String("reason")
			return agent.Result{Text: "Handing off to " + to + ".", Stop: true}, nil
		},
	}
}

func (h *Handler) restTool(area string, rc restContext) agent.Tool {
	return agent.Tool{
		Name:        "call_rest_endpoint",
		Description: "Fetches " + area + " data: " + rc.description,
		Params: fmt.Sprintf(`{"input_item": "...", "input_value": "...", "output_item": "%s", "output_format": "json | txt"}`,
			rc.outputHint),
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			endpoint, err := h.endpoint(area, rc, args)
			if err != nil {
				return agent.Result{}, err
			}
			if strings.EqualFold(args.String("output_item"), "png") {
				return agent.Result{
					Text:     "Return the following URL in markdown format: " + endpoint,
					Elements: []source.Element{{Kind: "image", Name: "structure", URL: endpoint, Mime: "image/png"}},
				}, nil
			}
			body, err := h.client.GetURL(ctx, endpoint)
			if err != nil {
				return agent.Result{}, err
			}
			text := strings.TrimSpace(string(body))
			if text == "" || text == "[]" || text == "{}" {
				return agent.Result{Text: "The endpoint returned no data."}, nil
			}
			res := agent.Result{Text: text, Metadata: map[string]interface{}{"endpoint": endpoint}}
			if _, err := table.Parse(text); err == nil {
				res.Table = text
			}
			return res, nil
		},
	}
}

// endpoint builds the REST URL for a context. Most contexts take
// context/input_item/input_value/output_item/format; metstat takes one
// filter segment and moverz reuses the fields for its own path.
func (h *Handler) endpoint(area string, rc restContext, args agent.Args) (string, error) {
	switch area {
	case Metstat:
		if err := args.Require("input_item"); err != nil {
			return "", err
		}
		return h.client.URL(Metstat, args.String("input_item")), nil
	case Moverz:
		if err := args.Require("input_item", "input_value", "output_item", "output_format"); err != nil {
			return "", err
		}
		return h.client.URL(Moverz, args.String("input_item"), args.String("input_value"), args.String("output_item"), args.String("output_format")), nil
	}

	if err := args.Require("input_item", "input_value", "output_item"); err != nil {
		return "", err
	}
	item := args.String("input_item")
	if !rc.accepts(item) {
		return "", fmt.Errorf("input_item %q is not valid for %s; use one of %s", item, area, strings.Join(rc.inputItems, ", "))
	}
	format := args.String("output_format")
	if format != "txt" {
		format = "json"
	}
	return h.client.URL(area, item, args.String("input_value"), args.String("output_item"), format), nil
}

func (h *Handler) studySearchTool() agent.Tool {
	return agent.Tool{
		Name:        "search_studies",
		Description: "Finds Metabolomics Workbench studies whose title mentions a keyword and returns their summaries.",
		Params:      `{"keyword": "diabetes"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("keyword"); err != nil {
				return agent.Result{}, err
			}
			endpoint := h.client.URL(Study, "study_title", args.String("keyword"), "summary", "json")
			body, err := h.client.GetURL(ctx, endpoint)
			if err != nil {
				return agent.Result{}, err
			}
			text := strings.TrimSpace(string(body))
			res := agent.Result{Text: text, Metadata: map[string]interface{}{"endpoint": endpoint}}
			if _, err := table.Parse(text); err == nil {
				res.Table = text
			}
			return res, nil
		},
	}
}

func routerPrompt(g Graph) string {
	var sb strings.Builder
	sb.WriteString("You are the routing node for Metabolomics Workbench questions. You never answer the query yourself. " +
		"Pick the node best suited to it and call handoff with a detailed reason explaining why, what the node should " +
		"focus on, and whether it may need to hand off again.\n\nNodes:\n")
	for _, n := range g.Targets(Router) {
		if rc, ok := restContexts[n]; ok {
			fmt.Fprintf(&sb, "- %s: %s\n", n, rc.description)
		} else if n == General {
			sb.WriteString("- general: general questions about the Metabolomics Workbench and finding studies by topic.\n")
		}
	}
	return sb.String()
}

const generalPrompt = `You answer general questions about the Metabolomics Workbench, a repository for metabolomics
data and metadata, and find studies by topic with search_studies. Use only tool results. Hand off to the study
node for details of a specific study.`

func contextPrompt(area string, rc restContext) string {
	return fmt.Sprintf(`You are an expert on the %s context of the Metabolomics Workbench REST API: %s
Do not use outside knowledge.
1. If the conversation already holds enough detail to answer a follow-up question, answer directly.
2. Otherwise translate the question into endpoint keywords and call call_rest_endpoint.
3. If the question belongs to another context, hand off.
Mention any corrections you made to the user's terms. Return SMILES in inline code and image URLs as markdown images.
Ask the user for clarification when the question is ambiguous.`, area, rc.description)
}
