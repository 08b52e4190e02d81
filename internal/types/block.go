package types

import (
	"time"

	"github.com/google/uuid"
)

// Block is one configured experiment instance. Read-only to the engine;
// only administrative edits mutate it.
type Block struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Slug         string      `gorm:"uniqueIndex;not null;column:slug" json:"slug"`
	RulesID      string      `gorm:"not null;column:rules_id" json:"rules_id"`
	Rounds       int         `gorm:"not null;default:10;column:rounds" json:"rounds"`
	BonusPoints  float64     `gorm:"not null;default:0;column:bonus_points" json:"bonus_points"`
	PhaseID      *uuid.UUID  `gorm:"type:uuid;index;column:phase_id" json:"phase_id,omitempty"`
	Phase        *Phase      `gorm:"constraint:OnDelete:SET NULL;foreignKey:PhaseID;references:ID" json:"phase,omitempty"`
	IndexInPhase int         `gorm:"not null;default:0;column:index_in_phase" json:"index_in_phase"`
	Playlists    []*Playlist `gorm:"many2many:block_playlist" json:"playlists,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
}

func (Block) TableName() string { return "block" }
