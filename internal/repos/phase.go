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

type PhaseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Phase) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Phase, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Phase, error)
}

type phaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhaseRepo(db *gorm.DB, baseLog *logger.Logger) PhaseRepo {
	return &phaseRepo{db: db, log: baseLog.With("repo", "PhaseRepo")}
}

func (r *phaseRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Phase) error {
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

func (r *phaseRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Phase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Phase
	if err := transaction.WithContext(ctx).
		Preload("Blocks", func(db *gorm.DB) *gorm.DB {
			return db.Order("index_in_phase ASC")
		}).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("phase %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *phaseRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Phase, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Phase
	if err := transaction.WithContext(ctx).
		Where("name = ?", name).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("phase %q: %w", name, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}
