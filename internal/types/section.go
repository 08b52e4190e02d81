package types

import (
	"time"

	"github.com/google/uuid"
)

// Section is one playable item from a playlist. Tag and Group carry
// selection-algorithm dimensions: Tag is the condition label (for example
// "Original" or a degradation name) and Group identifies the underlying song
// so pairing algorithms can match transformed sections back to the original.
type Section struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlaylistID uuid.UUID `gorm:"type:uuid;not null;index;column:playlist_id" json:"playlist_id"`
	Playlist   *Playlist `gorm:"constraint:OnDelete:CASCADE;foreignKey:PlaylistID;references:ID" json:"playlist,omitempty"`
	SongArtist string    `gorm:"column:song_artist" json:"song_artist"`
	SongName   string    `gorm:"column:song_name" json:"song_name"`
	StartTime  float64   `gorm:"not null;default:0;column:start_time" json:"start_time"`
	Duration   float64   `gorm:"not null;default:0;column:duration" json:"duration"`
	Filename   string    `gorm:"not null;column:filename" json:"filename"`
	Tag        string    `gorm:"index;column:tag" json:"tag"`
	Group      string    `gorm:"index;column:section_group" json:"group"`
	PlayCount  int       `gorm:"not null;default:0;column:play_count" json:"play_count"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Section) TableName() string { return "section" }

// SongLabel is the stable identity of the underlying song used by
// least-played song balancing. Group wins when set so degraded copies of the
// same recording share an identity with their original.
func (s *Section) SongLabel() string {
	if s.Group != "" {
		return s.Group
	}
	return s.SongArtist + " - " + s.SongName
}
