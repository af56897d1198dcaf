package dto

import (
	"time"

	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/hitl"
	"bioinsight-be/pkg/source"

	"github.com/google/uuid"
)

type CreateSessionResponse struct {
	Id        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type SendTurnRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

type TurnResponse struct {
	Response  string           `json:"response"`
	Graph     *chart.Artifact  `json:"graph,omitempty"`
	Elements  []source.Element `json:"elements,omitempty"`
	Path      []string         `json:"path"`
	Retries   int              `json:"retries"`
	Failed    bool             `json:"failed"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

// InteractionRequest answers a pending HITL request. Output is free text or
// the chosen action value; FileRef comes from the upload route.
type InteractionRequest struct {
	Output  string        `json:"output" validate:"required_without=FileRef"`
	FileRef *hitl.FileRef `json:"file_ref"`
}

type UploadResponse struct {
	FileRef hitl.FileRef `json:"file_ref"`
	URL     string       `json:"url"`
}

type TranscriptTurnResponse struct {
	Id        uuid.UUID       `json:"id"`
	Query     string          `json:"query"`
	Response  string          `json:"response"`
	Path      []string        `json:"path"`
	Retries   int             `json:"retries"`
	Failed    bool            `json:"failed"`
	Graph     *chart.Artifact `json:"graph,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms"`
	CreatedAt time.Time       `json:"created_at"`
}

type StatsResponse struct {
	ActiveSessions int     `json:"active_sessions"`
	Turns          int64   `json:"turns"`
	FailedTurns    int64   `json:"failed_turns"`
	AvgElapsedMs   float64 `json:"avg_elapsed_ms"`
	// Paths counts turns per visited step sequence, e.g. "start>judge>source_dispatch>...".
	Paths map[string]int64 `json:"paths,omitempty"`
}
