package types

import (
	"time"

	"github.com/google/uuid"
)

// Phase is an ordered grouping of blocks forming a multi-block study.
type Phase struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null;column:name" json:"name"`
	Index     int       `gorm:"not null;default:0;column:index" json:"index"`
	Randomize bool      `gorm:"not null;default:false;column:randomize" json:"randomize"`
	Dashboard bool      `gorm:"not null;default:false;column:dashboard" json:"dashboard"`
	Blocks    []*Block  `gorm:"foreignKey:PhaseID;references:ID" json:"blocks,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Phase) TableName() string { return "phase" }
