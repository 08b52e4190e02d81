package types

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is one participant's run through one block.
//
// Invariants: CurrentRound only increases; once FinishedAt is set the session
// accepts no further results and FinalScore is frozen.
type Session struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID uuid.UUID         `gorm:"type:uuid;not null;index;column:participant_id" json:"participant_id"`
	Participant   *Participant      `gorm:"constraint:OnDelete:CASCADE;foreignKey:ParticipantID;references:ID" json:"participant,omitempty"`
	BlockID       uuid.UUID         `gorm:"type:uuid;not null;index;column:block_id" json:"block_id"`
	Block         *Block            `gorm:"constraint:OnDelete:CASCADE;foreignKey:BlockID;references:ID" json:"block,omitempty"`
	PlaylistID    *uuid.UUID        `gorm:"type:uuid;column:playlist_id" json:"playlist_id,omitempty"`
	Playlist      *Playlist         `gorm:"foreignKey:PlaylistID;references:ID" json:"playlist,omitempty"`
	StartedAt     time.Time         `gorm:"not null;column:started_at" json:"started_at"`
	FinishedAt    *time.Time        `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CurrentRound  int               `gorm:"not null;default:1;column:current_round" json:"current_round"`
	FinalScore    *float64          `gorm:"column:final_score" json:"final_score,omitempty"`
	Data          datatypes.JSONMap `gorm:"type:jsonb;column:data" json:"data"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`
}

func (Session) TableName() string { return "session" }

func (s *Session) Finished() bool { return s.FinishedAt != nil }

// MergeData shallow-merges a partial into the session blob, overwriting
// existing keys. The caller is responsible for persisting the row.
func (s *Session) MergeData(partial map[string]interface{}) {
	if len(partial) == 0 {
		return
	}
	if s.Data == nil {
		s.Data = datatypes.JSONMap{}
	}
	for k, v := range partial {
		s.Data[k] = v
	}
}

// SelectorState returns the sub-map a named selector owns inside the session
// blob, never nil. Ownership of blob keys stays explicit: rules code goes
// through these accessors instead of poking arbitrary keys.
func (s *Session) SelectorState(name string) map[string]interface{} {
	if s.Data == nil {
		return map[string]interface{}{}
	}
	raw, ok := s.Data[name]
	if !ok {
		return map[string]interface{}{}
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Session) SetSelectorState(name string, state map[string]interface{}) {
	if s.Data == nil {
		s.Data = datatypes.JSONMap{}
	}
	s.Data[name] = state
}

// DataString reads a top-level string out of the blob.
func (s *Session) DataString(key string) string {
	if s.Data == nil {
		return ""
	}
	v, ok := s.Data[key].(string)
	if !ok {
		return ""
	}
	return v
}

// DataInt reads a top-level integer out of the blob. A value is an int until
// the first save and a json.Number after a store round-trip (JSONMap decodes
// with UseNumber), so every numeric encoding is accepted.
func (s *Session) DataInt(key string) (int, bool) {
	if s.Data == nil {
		return 0, false
	}
	switch v := s.Data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func (s *Session) DataBool(key string) bool {
	if s.Data == nil {
		return false
	}
	v, ok := s.Data[key].(bool)
	return ok && v
}
