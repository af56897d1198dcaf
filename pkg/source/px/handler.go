// Package px answers questions from ProteomeXchange through the PRIDE
// archive API.
package px

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/agent"
	"bioinsight-be/pkg/source/apiclient"
)

const DefaultBaseURL = "https://www.ebi.ac.uk/pride/ws/archive/v3"

const systemPrompt = `You are an expert on ProteomeXchange (PX), a consortium that provides standardized
submission and dissemination of mass spectrometry proteomics data. Answer questions about this source
using only the information from your tools, not outside knowledge. Your tool set is limited, which you
can acknowledge in your answer. Mention PXD accessions exactly as returned.`

type Handler struct {
	client *apiclient.Client
	agent  *agent.Agent
}

func NewHandler(caller *structured.Caller, client *apiclient.Client, guard *memory.LimitGuard, log logger.ILogger) *Handler {
	h := &Handler{client: client}
	h.agent = agent.New(caller, agent.Config{
		Module: "SOURCE.PX",
		System: systemPrompt,
		Tools:  []agent.Tool{h.searchTool(), h.projectTool()},
		Guard:  guard,
	}, log)
	return h
}

func (h *Handler) Handle(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
	resp, err := h.agent.Run(ctx, req.History, req.Query)
	if err != nil {
		return resp, err
	}
	resp.Text = source.LinkIDs(resp.Text)
	return resp, nil
}

func (h *Handler) searchTool() agent.Tool {
	return agent.Tool{
		Name: "search_projects",
		Description: "Lists the 10 most recently submitted PX projects matching a keyword such as a disease " +
			"(e.g. breast cancer), organism or technique.",
		Params: `{"keyword": "search text"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("keyword"); err != nil {
				return agent.Result{}, err
			}
			q := url.Values{}
			q.Set("keyword", args.String("keyword"))
			q.Set("pageSize", "10")
			q.Set("page", "0")
			q.Set("sortDirection", "DESC")
			q.Set("sortFields", "submissionDate")

			var projects []map[string]interface{}
			if err := h.client.GetJSON(ctx, "search/projects", q, &projects); err != nil {
				return agent.Result{}, err
			}
			if len(projects) == 0 {
				return agent.Result{Text: "No data found for " + args.String("keyword") + " in ProteomeXchange."}, nil
			}

			rows := make([]map[string]interface{}, 0, len(projects))
			for _, p := range projects {
				rows = append(rows, map[string]interface{}{
					"accession":      p["accession"],
					"title":          p["title"],
					"submissionDate": p["submissionDate"],
					"organisms":      names(p["organisms"]),
					"diseases":       names(p["diseases"]),
				})
			}
			body, err := json.Marshal(rows)
			if err != nil {
				return agent.Result{}, err
			}
			return agent.Result{Text: string(body), Table: string(body)}, nil
		},
	}
}

func (h *Handler) projectTool() agent.Tool {
	return agent.Tool{
		Name:        "get_project",
		Description: "Returns project information for one PX accession (PXD followed by digits).",
		Params:      `{"accession": "PXD000001"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("accession"); err != nil {
				return agent.Result{}, err
			}
			acc := strings.ToUpper(args.String("accession"))
			body, err := h.client.Get(ctx, "projects/"+url.PathEscape(acc), nil)
			if err != nil {
				return agent.Result{}, fmt.Errorf("no data found for proteome exchange ID %s: %w", acc, err)
			}
			return agent.Result{
				Text:     compact(body),
				Metadata: map[string]interface{}{"accession": acc},
			}, nil
		},
	}
}

// names flattens a list of strings or {name: ...} objects.
func names(v interface{}) string {
	list, ok := v.([]interface{})
	if !ok {
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch x := item.(type) {
		case string:
			out = append(out, x)
		case map[string]interface{}:
			if n, ok := x["name"].(string); ok {
				out = append(out, n)
			}
		}
	}
	return strings.Join(out, "; ")
}

func compact(body []byte) string {
	var buf strings.Builder
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return string(body)
	}
	return strings.TrimSpace(buf.String())
}
