package types

import (
	"time"

	"github.com/google/uuid"
)

// Participant is an anonymous actor identified by an opaque stable hash.
// Created on first contact, never deleted during a study.
type Participant struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantHash string    `gorm:"uniqueIndex;not null;column:participant_hash" json:"participant_hash"`
	AccessInfo      string    `gorm:"column:access_info" json:"access_info,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (Participant) TableName() string { return "participant" }
