package entity

import (
	"time"

	"github.com/google/uuid"
)

// Turn is one finished question and answer of a session.
type Turn struct {
	Id        uuid.UUID
	SessionId string
	Query     string
	Response  string
	Path      []string
	Retries   int
	Failed    bool
	// Graph is the chart artifact as JSON, if any.
	Graph     []byte
	ElapsedMs int64
	CreatedAt time.Time
	DeletedAt *time.Time
	IsDeleted bool
}
