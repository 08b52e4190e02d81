package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Result is one scored event: a submitted trial answer, a pre-registered
// trial awaiting its answer, or a participant-scoped profile answer (no
// session reference). Results are append-only; creation order is the
// canonical trial history of a session.
type Result struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID        *uuid.UUID     `gorm:"type:uuid;index;column:session_id" json:"session_id,omitempty"`
	Session          *Session       `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	ParticipantID    *uuid.UUID     `gorm:"type:uuid;index;column:participant_id" json:"participant_id,omitempty"`
	Participant      *Participant   `gorm:"constraint:OnDelete:CASCADE;foreignKey:ParticipantID;references:ID" json:"participant,omitempty"`
	SectionID        *uuid.UUID     `gorm:"type:uuid;column:section_id" json:"section_id,omitempty"`
	Section          *Section       `gorm:"foreignKey:SectionID;references:ID" json:"section,omitempty"`
	QuestionKey      string         `gorm:"index;column:question_key" json:"question_key"`
	ExpectedResponse string         `gorm:"column:expected_response" json:"expected_response"`
	GivenResponse    string         `gorm:"column:given_response" json:"given_response"`
	Score            *float64       `gorm:"column:score" json:"score,omitempty"`
	ScoringRule      string         `gorm:"column:scoring_rule" json:"scoring_rule"`
	Data             datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (Result) TableName() string { return "result" }

func (r *Result) Scored() bool { return r.Score != nil }

// DataMap decodes the submission context blob. Missing or malformed blobs
// decode to an empty map.
func (r *Result) DataMap() map[string]interface{} {
	out := map[string]interface{}{}
	if len(r.Data) == 0 {
		return out
	}
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// SetDataMap encodes a submission context blob onto the result.
func (r *Result) SetDataMap(m map[string]interface{}) {
	if m == nil {
		r.Data = nil
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	r.Data = datatypes.JSON(b)
}
