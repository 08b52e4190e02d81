package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

type PlaylistRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Playlist) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Playlist, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Playlist, error)
}

type playlistRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlaylistRepo(db *gorm.DB, baseLog *logger.Logger) PlaylistRepo {
	return &playlistRepo{db: db, log: baseLog.With("repo", "PlaylistRepo")}
}

func (r *playlistRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Playlist) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	for _, s := range row.Sections {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.PlaylistID = row.ID
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *playlistRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Playlist, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Playlist
	if err := transaction.WithContext(ctx).
		Preload("Sections").
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playlist %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *playlistRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Playlist, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Playlist
	if err := transaction.WithContext(ctx).
		Preload("Sections").
		Where("name = ?", name).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("playlist %q: %w", name, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}
