package crdc

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

const GDCBaseURL = "https://api.gdc.cancer.gov"

const gdcPrompt = `You are an expert on the Genomic Data Commons (GDC). Answer using only the information returned
by your tools. GDC project ids look like TCGA-BRCA or CPTAC-3. Case submitter ids shared with PDC can be
resolved with get_cases.`

type gdc struct {
	client *apiclient.Client
}

func newGDC(caller *structured.Caller, client *apiclient.Client, guard *memory.LimitGuard, log logger.ILogger) source.Handler {
	g := &gdc{client: client}
	a := agent.New(caller, agent.Config{
		Module: "SOURCE.GDC",
		System: gdcPrompt,
		Tools:  []agent.Tool{g.projectsTool(), g.casesTool(), g.survivalTool()},
		Guard:  guard,
	}, log)
	return source.HandlerFunc(func(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
		return a.Run(ctx, req.History, req.Query)
	})
}

type gdcFilter struct {
	Op      string      `json:"op"`
	Content interface{} `json:"content"`
}

func eq(field string, value interface{}) gdcFilter {
	return gdcFilter{Op: "=", Content: map[string]interface{}{"field": field, "value": value}}
}

func (g *gdc) hits(ctx context.Context, path string, q url.Values) ([]map[string]interface{}, error) {
	var resp struct {
		Data struct {
			Hits []map[string]interface{} `json:"hits"`
		} `json:"data"`
	}
	if err := g.client.GetJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Hits, nil
}

func (g *gdc) projectsTool() agent.Tool {
	return agent.Tool{
		Name:        "list_projects",
		Description: "Lists GDC projects with their primary sites and disease types, optionally filtered by a primary site.",
		Params:      `{"primary_site": "Breast (optional)"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			q := url.Values{}
			q.Set("size", "100")
			q.Set("fields", "project_id,name,primary_site,disease_type")
			if site := args.String("primary_site"); site != "" {
				f, _ := json.Marshal(eq("primary_site", []string{site}))
				q.Set("filters", string(f))
			}
			hits, err := g.hits(ctx, "projects", q)
			if err != nil {
				return agent.Result{}, err
			}
			if len(hits) == 0 {
				return agent.Result{Text: "No GDC projects match."}, nil
			}
			rows := make([]map[string]interface{}, 0, len(hits))
			for _, h := range hits {
				rows = append(rows, map[string]interface{}{
					"project_id":   h["project_id"],
					"name":         h["name"],
					"primary_site": joinList(h["primary_site"]),
					"disease_type": joinList(h["disease_type"]),
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

func (g *gdc) casesTool() agent.Tool {
	return agent.Tool{
		Name:        "get_cases",
		Description: "Resolves case submitter ids (e.g. from PDC) to GDC case ids and their projects.",
		Params:      `{"submitter_ids": ["01OV008"]}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			ids := args.Strings("submitter_ids")
			if len(ids) == 0 {
				return agent.Result{}, fmt.Errorf("missing argument %q", "submitter_ids")
			}
			f, _ := json.Marshal(eq("submitter_id", ids))
			q := url.Values{}
			q.Set("filters", string(f))
			q.Set("fields", "case_id,submitter_id,project.project_id")
			q.Set("size", "100")
			hits, err := g.hits(ctx, "cases", q)
			if err != nil {
				return agent.Result{}, err
			}
			if len(hits) == 0 {
				return agent.Result{Text: "No GDC cases match those submitter ids."}, nil
			}
			body, err := json.Marshal(hits)
			if err != nil {
				return agent.Result{}, err
			}
			return agent.Result{Text: string(body)}, nil
		},
	}
}

func (g *gdc) survivalTool() agent.Tool {
	return agent.Tool{
		Name:        "get_survival",
		Description: "Returns Kaplan-Meier survival estimates for the cases of one GDC project.",
		Params:      `{"project_id": "TCGA-BRCA"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("project_id"); err != nil {
				return agent.Result{}, err
			}
			project := strings.ToUpper(args.String("project_id"))
			f, _ := json.Marshal([]gdcFilter{eq("cases.project.project_id", project)})
			q := url.Values{}
			q.Set("filters", string(f))

			var resp struct {
				Results []struct {
					Donors []struct {
						Time             float64 `json:"time"`
						Censored         bool    `json:"censored"`
						SurvivalEstimate float64 `json:"survivalEstimate"`
						ID               string  `json:"id"`
					} `json:"donors"`
				} `json:"results"`
				OverallStats struct {
					PValue *float64 `json:"pValue"`
				} `json:"overallStats"`
			}
			if err := g.client.GetJSON(ctx, "analysis/survival", q, &resp); err != nil {
				return agent.Result{}, err
			}
			if len(resp.Results) == 0 || len(resp.Results[0].Donors) == 0 {
				return agent.Result{Text: "No survival data for " + project + "."}, nil
			}
			donors := resp.Results[0].Donors
			rows := make([]map[string]interface{}, 0, len(donors))
			for _, d := range donors {
				rows = append(rows, map[string]interface{}{
					"time_days":         d.Time,
					"survival_estimate": d.SurvivalEstimate,
					"censored":          d.Censored,
				})
			}
			body, err := json.Marshal(rows)
			if err != nil {
				return agent.Result{}, err
			}
			last := donors[len(donors)-1]
			text := fmt.Sprintf("%s: %d donors; survival estimate %.3f at %.0f days.", project, len(donors), last.SurvivalEstimate, last.Time)
			return agent.Result{Text: text, Table: string(body), Metadata: map[string]interface{}{"project_id": project}}, nil
		},
	}
}

func joinList(v interface{}) string {
	switch x := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
