package contract

import (
	"context"

	"bioinsight-be/internal/entity"
	"bioinsight-be/internal/repository/specification"
)

type TurnRepository interface {
	Create(ctx context.Context, turn *entity.Turn) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Turn, error)
	DeleteBySessionId(ctx context.Context, sessionId string) error
}
