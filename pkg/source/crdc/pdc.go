package crdc

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/agent"
	"bioinsight-be/pkg/source/apiclient"
)

const PDCBaseURL = "https://proteomic.datacommons.cancer.gov/graphql"

// maxGenes bounds expression requests to keep matrices small.
const maxGenes = 20

const pdcPrompt = `You are an expert on the Proteomic Data Commons (PDC). Answer using only the information
returned by your tools. Study ids look like PDC000123. Map disease and site names to the PDC terms returned by
list_studies. For expression questions fetch the data with get_gene_expression; if no genes are named, tell
the user you can work with up to 20 genes at a time.`

type pdc struct {
	client *apiclient.Client
}

func newPDC(caller *structured.Caller, client *apiclient.Client, guard *memory.LimitGuard, log logger.ILogger) source.Handler {
	p := &pdc{client: client}
	a := agent.New(caller, agent.Config{
		Module: "SOURCE.PDC",
		System: pdcPrompt,
		Tools:  []agent.Tool{p.listStudiesTool(), p.studyTool(), p.expressionTool()},
		Guard:  guard,
	}, log)
	return source.HandlerFunc(func(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
		return a.Run(ctx, req.History, req.Query)
	})
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (p *pdc) query(ctx context.Context, q string, out interface{}) error {
	var resp graphqlResponse
	if err := p.client.PostJSON(ctx, "", map[string]string{"query": q}, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("pdc graphql: %s", resp.Errors[0].Message)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("pdc graphql: decode data: %w", err)
	}
	return nil
}

type pdcStudy struct {
	PDCStudyID         string   `json:"pdc_study_id"`
	StudyName          string   `json:"study_name"`
	DiseaseTypes       []string `json:"disease_types"`
	PrimarySites       []string `json:"primary_sites"`
	AnalyticalFraction string   `json:"analytical_fraction"`
	ExperimentType     string   `json:"experiment_type"`
}

func (p *pdc) listStudiesTool() agent.Tool {
	return agent.Tool{
		Name:        "list_studies",
		Description: "Finds PDC studies whose disease types or primary sites contain the given terms.",
		Params:      `{"disease_type": ["breast cancer"], "primary_site": ["breast"]}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			diseases, sites := args.Strings("disease_type"), args.Strings("primary_site")
			if len(diseases) == 0 && len(sites) == 0 {
				return agent.Result{}, fmt.Errorf("give at least one disease_type or primary_site")
			}
			var data struct {
				AllPrograms []struct {
					Projects []struct {
						Studies []pdcStudy `json:"studies"`
					} `json:"projects"`
				} `json:"allPrograms"`
			}
			q := `{ allPrograms { projects { studies { pdc_study_id study_name disease_types primary_sites analytical_fraction experiment_type } } } }`
			if err := p.query(ctx, q, &data); err != nil {
				return agent.Result{}, err
			}

			seen := map[string]bool{}
			var rows []map[string]interface{}
			for _, prog := range data.AllPrograms {
				for _, proj := range prog.Projects {
					for _, s := range proj.Studies {
						if seen[s.PDCStudyID] || !(anyContains(s.DiseaseTypes, diseases) || anyContains(s.PrimarySites, sites)) {
							continue
						}
						seen[s.PDCStudyID] = true
						rows = append(rows, map[string]interface{}{
							"pdc_study_id":        s.PDCStudyID,
							"study_name":          s.StudyName,
							"disease_types":       strings.Join(s.DiseaseTypes, "; "),
							"primary_sites":       strings.Join(s.PrimarySites, "; "),
							"analytical_fraction": s.AnalyticalFraction,
							"experiment_type":     s.ExperimentType,
						})
					}
				}
			}
			if len(rows) == 0 {
				return agent.Result{Text: "No PDC studies match those terms."}, nil
			}
			body, err := json.Marshal(rows)
			if err != nil {
				return agent.Result{}, err
			}
			return agent.Result{Text: string(body), Table: string(body)}, nil
		},
	}
}

func (p *pdc) studyTool() agent.Tool {
	return agent.Tool{
		Name:        "get_study_details",
		Description: "Returns the description, disease, site, fraction, experiment type and case count of one PDC study.",
		Params:      `{"study_id": "PDC000120"}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("study_id"); err != nil {
				return agent.Result{}, err
			}
			id := strings.ToUpper(args.String("study_id"))
			var data struct {
				Study []map[string]interface{} `json:"study"`
			}
			q := fmt.Sprintf(`{ study(pdc_study_id: %q acceptDUA: true) { pdc_study_id study_name disease_type primary_site analytical_fraction experiment_type cases_count study_description } }`, id)
			if err := p.query(ctx, q, &data); err != nil {
				return agent.Result{}, err
			}
			if len(data.Study) == 0 {
				return agent.Result{Text: "No PDC study found with id " + id + "."}, nil
			}
			body, err := json.Marshal(data.Study[0])
			if err != nil {
				return agent.Result{}, err
			}
			meta := map[string]interface{}{"study_id": id}
			if name, ok := data.Study[0]["study_name"].(string); ok {
				meta["citation"] = fmt.Sprintf("%s (%s), Proteomic Data Commons", name, id)
			}
			return agent.Result{Text: string(body), Metadata: meta}, nil
		},
	}
}

func (p *pdc) expressionTool() agent.Tool {
	return agent.Tool{
		Name: "get_gene_expression",
		Description: "Returns per-sample log2 ratio protein expression for up to 20 upper-case gene names in one PDC study, " +
			"with clinical metadata (tumor stage, grade, diagnosis, morphology) per sample.",
		Params: `{"study_id": "PDC000120", "genes": ["TP53", "EGFR"]}`,
		Run: func(ctx context.Context, args agent.Args) (agent.Result, error) {
			if err := args.Require("study_id"); err != nil {
				return agent.Result{}, err
			}
			id := strings.ToUpper(args.String("study_id"))
			genes := args.Strings("genes")
			if len(genes) == 0 {
				return agent.Result{Text: "No genes were given. Up to 20 genes can be requested at a time."}, nil
			}
			if len(genes) > maxGenes {
				genes = genes[:maxGenes]
			}
			for i := range genes {
				genes[i] = strings.ToUpper(genes[i])
			}

			var quant struct {
				Matrix [][]interface{} `json:"quantDataMatrix"`
			}
			q := fmt.Sprintf(`{ quantDataMatrix(pdc_study_id: %q data_type: "log2_ratio" acceptDUA: true) }`, id)
			if err := p.query(ctx, q, &quant); err != nil {
				return agent.Result{}, err
			}
			if len(quant.Matrix) < 2 {
				return agent.Result{Text: "Invalid study id or no quantitative data for " + id + "."}, nil
			}

			var clinical struct {
				Rows []map[string]interface{} `json:"clinicalMetadata"`
			}
			q = fmt.Sprintf(`{ clinicalMetadata(pdc_study_id: %q acceptDUA: true) { aliquot_submitter_id morphology primary_diagnosis tumor_grade tumor_stage } }`, id)
			if err := p.query(ctx, q, &clinical); err != nil {
				clinical.Rows = nil
			}

			rows, missing := expressionRows(quant.Matrix, genes, clinical.Rows)
			if len(rows) == 0 {
				return agent.Result{Text: fmt.Sprintf("None of the genes %s are expressed in %s.", strings.Join(genes, ", "), id)}, nil
			}
			body, err := json.Marshal(rows)
			if err != nil {
				return agent.Result{}, err
			}
			text := fmt.Sprintf("Expression for %d samples of %s. First rows: %s", len(rows), id, preview(rows, 5))
			if len(missing) > 0 {
				text += fmt.Sprintf("\nNot found or not expressed: %s.", strings.Join(missing, ", "))
			}
			return agent.Result{Text: text, Table: string(body), Metadata: map[string]interface{}{"study_id": id}}, nil
		},
	}
}

var aliquotSuffix = regexp.MustCompile(`\.\d+$`)

// expressionRows turns a gene-by-aliquot matrix into one row per sample with
// a column per requested gene, joined to clinical metadata by aliquot id.
func expressionRows(matrix [][]interface{}, genes []string, clinical []map[string]interface{}) ([]map[string]interface{}, []string) {
	header := matrix[0]
	byGene := map[string][]interface{}{}
	for _, row := range matrix[1:] {
		if len(row) == 0 {
			continue
		}
		byGene[strings.ToUpper(fmt.Sprint(row[0]))] = row
	}

	var found, missing []string
	for _, g := range genes {
		if _, ok := byGene[g]; ok {
			found = append(found, g)
		} else {
			missing = append(missing, g)
		}
	}
	if len(found) == 0 {
		return nil, missing
	}

	rows := make([]map[string]interface{}, 0, len(header)-1)
	for col := 1; col < len(header); col++ {
		sample := fmt.Sprint(header[col])
		row := map[string]interface{}{"sample_id": sample}
		for _, g := range found {
			row[g] = number(byGene[g], col)
		}
		caseID, aliquot := sample, ""
		if i := strings.Index(sample, ":"); i >= 0 {
			caseID, aliquot = sample[:i], sample[i+1:]
		}
		row["case_id"] = caseID
		row["aliquot_submitter_id"] = aliquot
		if meta := matchClinical(aliquot, clinical); meta != nil {
			for _, k := range []string{"morphology", "primary_diagnosis", "tumor_grade", "tumor_stage"} {
				row[k] = meta[k]
			}
		}
		rows = append(rows, row)
	}
	return rows, missing
}

func number(row []interface{}, col int) interface{} {
	if col >= len(row) {
		return nil
	}
	switch v := row[col].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return nil
}

func matchClinical(aliquot string, clinical []map[string]interface{}) map[string]interface{} {
	if aliquot == "" {
		return nil
	}
	key := aliquotSuffix.ReplaceAllString(aliquot, "")
	for _, m := range clinical {
		if id, ok := m["aliquot_submitter_id"].(string); ok && strings.Contains(id, key) {
			return m
		}
	}
	return nil
}

func anyContains(values, terms []string) bool {
	for _, v := range values {
		lv := strings.ToLower(v)
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" && strings.Contains(lv, t) {
				return true
			}
		}
	}
	return false
}

func preview(rows []map[string]interface{}, n int) string {
	if len(rows) > n {
		rows = rows[:n]
	}
	b, _ := json.Marshal(rows)
	return string(b)
}
