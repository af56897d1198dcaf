// Package events defines the values that drive a turn through the workflow.
// Each event is an immutable record tagged with its Kind; the workflow
// routes on the tag.
package events

import (
	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/intent"
	"bioinsight-be/pkg/source"
)

// Kind tags an event.
type Kind string

const (
	KindStart          Kind = "start"
	KindJudge          Kind = "judge"
	KindSourceDispatch Kind = "source_dispatch"
	KindSourceResponse Kind = "source_response"
	KindEvaluate       Kind = "evaluate"
	KindGraphRequest   Kind = "graph_request"
	KindHarmonize      Kind = "harmonize"
	KindStop           Kind = "stop"
)

// Event is implemented by every workflow event.
type Event interface {
	Kind() Kind
}

// Start opens a turn.
type Start struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Judge asks for the query to be classified.
type Judge struct {
	Query string `json:"query"`
}

// SourceDispatch sends a query to one handler family. Index is the position
// of the dispatch within the turn's fan-out.
type SourceDispatch struct {
	Family  intent.Family     `json:"family"`
	Members []intent.SourceID `json:"members,omitempty"`
	Query   string            `json:"query"`
	Index   int               `json:"index"`
}

// Replay returns the same dispatch carrying a new query.
func (d SourceDispatch) Replay(query string) SourceDispatch {
	d.Members = append([]intent.SourceID(nil), d.Members...)
	d.Query = query
	return d
}

// SourceResponse is one family's answer during a multi-source turn.
type SourceResponse struct {
	Query    string                    `json:"query"`
	Family   intent.Family             `json:"family"`
	Index    int                       `json:"index"`
	Response source.NormalizedResponse `json:"response"`
}

// Evaluate submits an answer for grading. Origin is the dispatch that
// produced it and is replayed when the answer is rejected.
type Evaluate struct {
	Query    string                    `json:"query"`
	Response source.NormalizedResponse `json:"response"`
	Origin   SourceDispatch            `json:"origin"`
}

// GraphRequest asks a family for data and a chart of it. Query is the
// user's text; Source carries the handler query.
type GraphRequest struct {
	Query  string         `json:"query"`
	Source SourceDispatch `json:"source"`
}

// Harmonize starts the interactive harmonization flow.
type Harmonize struct {
	Query string `json:"query"`
}

// Stop ends the turn.
type Stop struct {
	Result TurnResult `json:"result"`
}

// TurnResult is what the caller of a turn receives.
type TurnResult struct {
	Response string           `json:"response"`
	Graph    *chart.Artifact  `json:"graph,omitempty"`
	Elements []source.Element `json:"elements,omitempty"`
}

func (Start) Kind() Kind          { return KindStart }
func (Judge) Kind() Kind          { return KindJudge }
func (SourceDispatch) Kind() Kind { return KindSourceDispatch }
func (SourceResponse) Kind() Kind { return KindSourceResponse }
func (Evaluate) Kind() Kind       { return KindEvaluate }
func (GraphRequest) Kind() Kind   { return KindGraphRequest }
func (Harmonize) Kind() Kind      { return KindHarmonize }
func (Stop) Kind() Kind           { return KindStop }
