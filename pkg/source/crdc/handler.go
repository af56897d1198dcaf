// Package crdc answers questions across the Cancer Research Data Commons:
// the Proteomic, Genomic and Imaging data commons.
package crdc

import (
	"context"
	"fmt"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/memory"
	"bioinsight-be/pkg/source"
	"bioinsight-be/pkg/source/apiclient"

	"golang.org/x/sync/errgroup"
)

type Clients struct {
	PDC *apiclient.Client
	GDC *apiclient.Client
	IDC *apiclient.Client
}

// Handler fans one dispatch out to every member database it names.
type Handler struct {
	members map[intent.SourceID]source.Handler
	logger  logger.ILogger
}

func NewHandler(caller *structured.Caller, clients Clients, guard *memory.LimitGuard, log logger.ILogger) *Handler {
	return NewHandlerWithMembers(map[intent.SourceID]source.Handler{
		intent.SourcePDC: newPDC(caller, clients.PDC, guard, log),
		intent.SourceGDC: newGDC(caller, clients.GDC, guard, log),
		intent.SourceIDC: newIDC(caller, clients.IDC, guard, log),
	}, log)
}

func NewHandlerWithMembers(members map[intent.SourceID]source.Handler, log logger.ILogger) *Handler {
	return &Handler{members: members, logger: log}
}

func (h *Handler) Handle(ctx context.Context, req source.Request) (source.NormalizedResponse, error) {
	members := req.Members
	if len(members) == 0 {
		members = []intent.SourceID{intent.SourcePDC, intent.SourceGDC, intent.SourceIDC}
	}

	results := make([]source.NormalizedResponse, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range members {
		i, id := i, id
		member, ok := h.members[id]
		if !ok {
			results[i] = source.NormalizedResponse{Text: fmt.Sprintf("%s is not available.", id.Name())}
			continue
		}
		g.Go(func() error {
			resp, err := member.Handle(gctx, req)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				h.logger.Warn("SOURCE.CRDC", "Member failed", map[string]interface{}{
					"member": string(id),
					"error":  err.Error(),
				})
				resp = source.NormalizedResponse{Text: fmt.Sprintf("%s could not answer this question right now.", id.Name())}
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return source.NormalizedResponse{}, err
	}

	if len(members) > 1 {
		for i, id := range members {
			if !results[i].Empty() {
				results[i].Text = fmt.Sprintf("### %s\n%s", id.Name(), strings.TrimSpace(results[i].Text))
			}
		}
	}
	merged := source.Merge("\n\n", results...)
	merged.Text = source.LinkIDs(AppendCitations(merged.Text, merged.RetrievedItems))
	return merged, nil
}

// AppendCitations adds numbered Citations and Journal URLs sections built
// from retrieved item metadata, first occurrence order.
func AppendCitations(text string, items []source.RetrievedItem) string {
	sections := make([]string, 0, 2)
	for _, s := range []struct{ title, key string }{
		{"Citations", "citation"},
		{"Journal URLs", "journal_url"},
	} {
		values := uniqueMetadata(items, s.key)
		if len(values) == 0 {
			continue
		}
		lines := make([]string, len(values))
		for i, v := range values {
			lines[i] = fmt.Sprintf("%d. %s", i+1, v)
		}
		sections = append(sections, s.title+":\n"+strings.Join(lines, "\n"))
	}
	if len(sections) == 0 {
		return text
	}
	return text + "\n\n" + strings.Join(sections, "\n\n")
}

func uniqueMetadata(items []source.RetrievedItem, key string) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		v, ok := it.Metadata[key].(string)
		if !ok || v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
