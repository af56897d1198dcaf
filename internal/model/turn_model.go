package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Turn struct {
	Id        uuid.UUID                   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionId string                      `gorm:"type:varchar(64);not null;index"`
	Query     string                      `gorm:"type:text;not null"`
	Response  string                      `gorm:"type:text;not null"`
	Path      datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	Retries   int                         `gorm:"not null;default:0"`
	Failed    bool                        `gorm:"not null;default:false"`
	Graph     datatypes.JSON              `gorm:"type:jsonb"`
	ElapsedMs int64                       `gorm:"not null;default:0"`
	CreatedAt time.Time                   `gorm:"autoCreateTime"`
	DeletedAt gorm.DeletedAt              `gorm:"index"`
}

func (Turn) TableName() string {
	return "turns"
}
