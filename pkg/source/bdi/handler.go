// Package bdi harmonizes a user's clinical table to the GDC schema over
// several interactions: upload, automatic column matching, confirmation and
// export.
package bdi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/table"

	"github.com/google/uuid"
)

const (
	noFileAnswer    = "No file was uploaded, so I stopped the harmonization. Ask again whenever you are ready."
	declinedAnswer  = "Harmonization cancelled. Your file was not changed."
	noMatchesAnswer = "I couldn't match any column of your file to the GDC schema."
)

var ErrNoAsker = errors.New("harmonization needs an interactive session")

var acceptedTypes = []string{"text/csv", "text/tab-separated-values", "text/plain", ".csv", ".tsv", ".txt"}

type ColumnMatch struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	// Values rewrites source cell values to the target vocabulary.
	Values map[string]string `json:"values,omitempty"`
}

type Mapping struct {
	Matches []ColumnMatch `json:"matches" validate:"required,min=1,dive"`
}

type Handler struct {
	caller *structured.Caller
	files  storage.Reader
	store  storage.BlobStore
	newID  func() string
	logger logger.ILogger
}

func NewHandler(caller *structured.Caller, files storage.Reader, store storage.BlobStore, log logger.ILogger) *Handler {
	return &Handler{
		caller: caller,
		files:  files,
		store:  store,
		newID:  uuid.NewString,
		logger: log,
	}
}

func (h *Handler) Handle(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
	if req.Asker == nil {
		return source.NormalizedResponse{}, ErrNoAsker
	}
	var resp source.NormalizedResponse
	trace := func(name string, args map[string]interface{}) {
		resp.ToolTrace = append(resp.ToolTrace, source.ToolCall{Name: name, Args: args})
	}

	upload, err := hitl.NewInteractionRequest(hitl.Message,
		hitl.Args{Content: "I can harmonize your clinical data to the GDC schema."},
		hitl.AskFileMessage,
		&hitl.Args{Content: "Please upload a CSV, TSV or TXT file with one row per case.", Accept: acceptedTypes, MaxMB: 20},
	)
	if err != nil {
		return resp, err
	}
	trace("request_upload", nil)
	answer, err := req.Asker.Ask(ctx, upload)
	if err != nil {
		return resp, err
	}
	if answer.File == nil {
		resp.Text = noFileAnswer
		return resp, nil
	}

	trace("parse_file", map[string]interface{}{"name": answer.File.Name})
	frame, err := h.load(ctx, *answer.File)
	if err != nil {
		resp.Text = fmt.Sprintf("I couldn't read %s: %v", answer.File.Name, err)
		return resp, nil
	}

	trace("match_schema", map[string]interface{}{"columns": frame.Columns()})
	mapping, err := h.match(ctx, frame, req.Query)
	if err != nil {
		return resp, err
	}
	if len(mapping.Matches) == 0 {
		resp.Text = noMatchesAnswer
		return resp, nil
	}

	summary := MarkdownMapping(mapping)
	confirm, err := hitl.NewInteractionRequest(hitl.AskActionMessage, hitl.Args{
		Content: "Here is the proposed mapping:\n\n" + summary + "\nApply it?",
		Actions: []hitl.Action{
			{Name: "confirm", Label: "Yes, harmonize", Value: "yes"},
			{Name: "confirm", Label: "No", Value: "no"},
		},
	}, "", nil)
	if err != nil {
		return resp, err
	}
	trace("confirm_mapping", nil)
	decision, err := req.Asker.Ask(ctx, confirm)
	if err != nil {
		return resp, err
	}
	if !affirmative(decision.Output) {
		resp.Text = declinedAnswer
		return resp, nil
	}

	harmonized, err := Apply(frame, mapping)
	if err != nil {
		return resp, err
	}
	csvBytes, err := harmonized.CSV()
	if err != nil {
		return resp, fmt.Errorf("encode harmonized table: %w", err)
	}
	key := fmt.Sprintf("harmonized/%s_%s.csv", h.newID(), baseName(answer.File.Name))
	trace("upload", map[string]interface{}{"key": key})
	put, err := h.store.Put(ctx, csvBytes, key, storage.MimeCSV)
	if err != nil {
		return resp, fmt.Errorf("upload harmonized table: %w", err)
	}

	records, _ := json.Marshal(harmonized.Records())
	resp.Tables = []string{string(records)}
	resp.Elements = []source.Element{{Kind: "file", Name: path.Base(key), URL: put.URL, Mime: storage.MimeCSV}}
	resp.RetrievedItems = []source.RetrievedItem{{
		Content:  summary,
		Metadata: map[string]interface{}{"file": answer.File.Name, "rows": harmonized.Len()},
	}}
	resp.Text = fmt.Sprintf("Your data has been harmonized to the GDC schema (%d rows, %d columns).\n\n%s\n[Download harmonized data](%s)",
		harmonized.Len(), len(harmonized.Columns()), summary, put.URL)
	return resp, nil
}

func (h *Handler) load(ctx context.Context, ref hitl.FileRef) (*table.Frame, error) {
	data, err := h.files.Get(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	return table.ReadDelimited(bytes.NewReader(data), delimiter(ref, data))
}

func delimiter(ref hitl.FileRef, data []byte) rune {
	ext := strings.ToLower(path.Ext(ref.Name))
	if ext == ".tsv" || ref.Mime == "text/tab-separated-values" {
		return '\t'
	}
	if ext == ".csv" || ref.Mime == "text/csv" {
		return ','
	}
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	if bytes.Count(first, []byte{'\t'}) > bytes.Count(first, []byte{','}) {
		return '\t'
	}
	return ','
}

func (h *Handler) match(ctx context.Context, f *table.Frame, query string) (Mapping, error) {
	var sb strings.Builder
	sb.WriteString("Target GDC fields:\n")
	for _, field := range GDCSchema {
		fmt.Fprintf(&sb, "- %s: %s", field.Name, field.Description)
		if len(field.Values) > 0 {
			fmt.Fprintf(&sb, " (allowed values: %s)", strings.Join(field.Values, " | "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nSource columns with sample values:\n")
	sample := f.Head(5)
	for _, c := range f.Columns() {
		var vals []string
		for _, r := range sample {
			vals = append(vals, table.Format(r[c]))
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c, strings.Join(vals, ", "))
	}

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "You match columns of a clinical table to GDC fields. Only match a column when you " +
			"are confident. For fields with allowed values, map every distinct source value you saw to an allowed value. " +
			`Reply with JSON: {"matches": [{"source": "<column>", "target": "<gdc field>", "values": {"<source value>": "<allowed value>"}}]}`},
		{Role: llm.RoleUser, Content: "User request: " + query + "\n\n" + sb.String()},
	}
	var m Mapping
	if err := h.caller.Call(ctx, history, &m); err != nil {
		if errors.Is(err, structured.ErrParse) {
			return Mapping{}, nil
		}
		return Mapping{}, err
	}
	return h.sanitize(f, m), nil
}

// sanitize drops matches to unknown columns or fields, duplicate targets
// and values outside a field's vocabulary.
func (h *Handler) sanitize(f *table.Frame, m Mapping) Mapping {
	var out Mapping
	used := map[string]bool{}
	for _, cm := range m.Matches {
		field, ok := fieldByName(cm.Target)
		if !ok || !f.HasColumn(cm.Source) || used[cm.Target] {
			h.logger.Warn("SOURCE.BDI", "Dropped match", map[string]interface{}{"source": cm.Source, "target": cm.Target})
			continue
		}
		used[cm.Target] = true
		if len(field.Values) > 0 && len(cm.Values) > 0 {
			kept := map[string]string{}
			for from, to := range cm.Values {
				if contains(field.Values, to) {
					kept[from] = to
				}
			}
			cm.Values = kept
		} else if len(field.Values) == 0 {
			cm.Values = nil
		}
		out.Matches = append(out.Matches, cm)
	}
	return out
}

// Apply builds the harmonized table: one column per matched GDC field, in
// schema order, with value rewrites applied.
func Apply(f *table.Frame, m Mapping) (*table.Frame, error) {
	byTarget := map[string]ColumnMatch{}
	for _, cm := range m.Matches {
		byTarget[cm.Target] = cm
	}
	var cols []string
	data := map[string][]interface{}{}
	for _, field := range GDCSchema {
		cm, ok := byTarget[field.Name]
		if !ok {
			continue
		}
		src := f.Column(cm.Source)
		vals := make([]interface{}, len(src))
		for i, v := range src {
			if to, ok := cm.Values[table.Format(v)]; ok {
				vals[i] = to
			} else {
				vals[i] = v
			}
		}
		cols = append(cols, field.Name)
		data[field.Name] = vals
	}
	return table.New(cols, data)
}

// MarkdownMapping renders the mapping as a markdown table.
func MarkdownMapping(m Mapping) string {
	var sb strings.Builder
	sb.WriteString("| Source column | GDC field | Value changes |\n|---|---|---|\n")
	for _, cm := range m.Matches {
		var changes []string
		for _, from := range sortedKeys(cm.Values) {
			changes = append(changes, fmt.Sprintf("%s → %s", from, cm.Values[from]))
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", cm.Source, cm.Target, strings.Join(changes, ", "))
	}
	return sb.String()
}

func affirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "confirm", "ok", "true":
		return true
	}
	return false
}

func baseName(name string) string {
	b := strings.TrimSuffix(path.Base(name), path.Ext(name))
	b = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return r
		}
		return '_'
	}, b)
	if b == "" || b == "." {
		return "data"
	}
	return b
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
