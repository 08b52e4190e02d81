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

type BlockRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Block) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Block, error)
	GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Block, error)
	GetByPhaseID(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID) ([]*types.Block, error)
}

type blockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBlockRepo(db *gorm.DB, baseLog *logger.Logger) BlockRepo {
	return &blockRepo{db: db, log: baseLog.With("repo", "BlockRepo")}
}

func (r *blockRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Block) error {
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
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *blockRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Block, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Block
	if err := transaction.WithContext(ctx).
		Preload("Playlists").
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("block %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *blockRepo) GetBySlug(ctx context.Context, tx *gorm.DB, slug string) (*types.Block, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Block
	if err := transaction.WithContext(ctx).
		Preload("Playlists").
		Where("slug = ?", slug).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("block %q: %w", slug, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *blockRepo) GetByPhaseID(ctx context.Context, tx *gorm.DB, phaseID uuid.UUID) ([]*types.Block, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Block
	if err := transaction.WithContext(ctx).
		Where("phase_id = ?", phaseID).
		Order("index_in_phase ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
