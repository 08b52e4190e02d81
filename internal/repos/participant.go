package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

type ParticipantRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Participant, error)
	GetByHash(ctx context.Context, tx *gorm.DB, hash string) (*types.Participant, error)
	GetOrCreateByHash(ctx context.Context, tx *gorm.DB, hash string) (*types.Participant, error)
}

type participantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParticipantRepo(db *gorm.DB, baseLog *logger.Logger) ParticipantRepo {
	return &participantRepo{db: db, log: baseLog.With("repo", "ParticipantRepo")}
}

func (r *participantRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Participant
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("participant %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *participantRepo) GetByHash(ctx context.Context, tx *gorm.DB, hash string) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Participant
	if err := transaction.WithContext(ctx).
		Where("participant_hash = ?", hash).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("participant hash %s: %w", hash, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *participantRepo) GetOrCreateByHash(ctx context.Context, tx *gorm.DB, hash string) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row, err := r.GetByHash(ctx, transaction, hash)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	created := &types.Participant{ID: uuid.New(), ParticipantHash: hash}
	if err := transaction.WithContext(ctx).Create(created).Error; err != nil {
		// A doubled first contact can race the insert; the winner's row is
		// the participant.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return r.GetByHash(ctx, transaction, hash)
		}
		return nil, err
	}
	return created, nil
}
