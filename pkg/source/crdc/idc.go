package crdc

import (
	"context"
	"encoding/json"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/agent"
	"bioinsight-be/pkg/source/apiclient"
)

const IDCBaseURL = "https://api.imaging.datacommons.cancer.gov/v2"

const idcPrompt = `You are an expert on the Imaging Data Commons (IDC). Answer using only the information returned
by your tools. Collections group imaging series by cancer type and body location. Use MR when the user asks
for MRI.`

type idc struct {
	client *apiclient.Client
}

func newIDC(caller *structured.Caller, client *apiclient.Client, guard *memory.LimitGuard, log logger.ILogger) source.Handler {
	d := &idc{client: client}
	a := agent.New(caller, agent.Config{
		Module: "SOURCE.IDC",
		System: idcPrompt,
		Tools:  []agent.Tool{d.collectionsTool()},
		Guard:  guard,
	}, log)
	return source.HandlerFunc(func(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
		return a.Run(ctx, req.History, req.Query)
	})
}

func (d *idc) collectionsTool() agent.Tool {
	return agent.Tool{
		Name: "search_collections",
		Description: "Lists IDC imaging collections whose id, cancer type, location or modality mentions every " +
			"given keyword. An empty keyword list returns all collections.",
		Params: `{"keywords": ["breast", "MR"]}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			var resp struct {
				Collections []map[string]interface{} `json:"collections"`
			}
			if err := d.client.GetJSON(ctx, "collections", nil, &resp); err != nil {
				return agent.Result{}, err
			}
			keywords := args.Strings("keywords")
			var rows []map[string]interface{}
			for _, c := range resp.Collections {
				row := map[string]interface{}{
					"collection_id": c["collection_id"],
					"cancer_type":   joinList(c["cancer_type"]),
					"location":      joinList(c["location"]),
					"species":       joinList(c["species"]),
					"subject_count": c["subject_count"],
					"image_types":   joinList(c["image_types"]),
				}
				if matchesAll(row, keywords) {
					rows = append(rows, row)
				}
			}
			if len(rows) == 0 {
				return agent.Result{Text: "No IDC collections match " + strings.Join(keywords, ", ") + "."}, nil
			}
			body, err := json.Marshal(rows)
			if err != nil {
				return agent.Result{}, err
			}
			return agent.Result{Text: string(body), Table: string(body)}, nil
		},
	}
}

func matchesAll(row map[string]interface{}, keywords []string) bool {
	b, _ := json.Marshal(row)
	hay := strings.ToLower(string(b))
	for _, k := range keywords {
		if !strings.Contains(hay, strings.ToLower(k)) {
			return false
		}
	}
	return true
}
