package types

import (
	"time"

	"github.com/google/uuid"
)

type Playlist struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string     `gorm:"not null;column:name" json:"name"`
	Sections  []*Section `gorm:"foreignKey:PlaylistID;references:ID" json:"sections,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}

func (Playlist) TableName() string { return "playlist" }
