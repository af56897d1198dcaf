package mapper

import (
	"time"

	"bioinsight-be/internal/entity"
	"bioinsight-be/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TurnMapper struct{}

func NewTurnMapper() *TurnMapper {
	return &TurnMapper{}
}

func (m *TurnMapper) ToEntity(t *model.Turn) *entity.Turn {
	if t == nil {
		return nil
	}

	var deletedAt *time.Time
	if t.DeletedAt.Valid {
		d := t.DeletedAt.Time
		deletedAt = &d
	}

	return &entity.Turn{
		Id:        t.Id,
		SessionId: t.SessionId,
		Query:     t.Query,
		Response:  t.Response,
		Path:      []string(t.Path),
		Retries:   t.Retries,
		Failed:    t.Failed,
		Graph:     []byte(t.Graph),
		ElapsedMs: t.ElapsedMs,
		CreatedAt: t.CreatedAt,
		DeletedAt: deletedAt,
		IsDeleted: t.DeletedAt.Valid,
	}
}

func (m *TurnMapper) ToModel(t *entity.Turn) *model.Turn {
	if t == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if t.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *t.DeletedAt, Valid: true}
	}

	var graph datatypes.JSON
	if len(t.Graph) > 0 {
		graph = datatypes.JSON(t.Graph)
	}

	return &model.Turn{
		Id:        t.Id,
		SessionId: t.SessionId,
		Query:     t.Query,
		Response:  t.Response,
		Path:      datatypes.JSONSlice[string](t.Path),
		Retries:   t.Retries,
		Failed:    t.Failed,
		Graph:     graph,
		ElapsedMs: t.ElapsedMs,
		CreatedAt: t.CreatedAt,
		DeletedAt: deletedAt,
	}
}
