package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

type ResultRepo interface {
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Result) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Result, error)
	// GetBySessionID returns the canonical trial history, ordered by
	// creation time.
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Result, error)
	// GetProfileByParticipantID returns participant-scoped results, the ones
	// without a session reference.
	GetProfileByParticipantID(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.Result, error)
	// UpdateSubmission persists the answer and score of one result.
	UpdateSubmission(ctx context.Context, tx *gorm.DB, row *types.Result) error
	// UpdateScore overwrites only the score column. Used by the two-step
	// continuation correction.
	UpdateScore(ctx context.Context, tx *gorm.DB, id uuid.UUID, score float64) error
	// LatestByQuestionKey finds the most recent result of a session under a
	// question key.
	LatestByQuestionKey(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, questionKey string) (*types.Result, error)
	SumScores(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (float64, error)
}

type resultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResultRepo(db *gorm.DB, baseLog *logger.Logger) ResultRepo {
	return &resultRepo{db: db, log: baseLog.With("repo", "ResultRepo")}
}

func (r *resultRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Result) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *resultRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Result, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Result
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("result %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *resultRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Result, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Result
	if err := transaction.WithContext(ctx).
		Preload("Section").
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *resultRepo) GetProfileByParticipantID(ctx context.Context, tx *gorm.DB, participantID uuid.UUID) ([]*types.Result, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var rows []*types.Result
	if err := transaction.WithContext(ctx).
		Where("participant_id = ? AND session_id IS NULL", participantID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *resultRepo) UpdateSubmission(ctx context.Context, tx *gorm.DB, row *types.Result) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Result{}).
		Where("id = ?", row.ID).
		Updates(map[string]interface{}{
			"given_response": row.GivenResponse,
			"score":          row.Score,
			"data":           row.Data,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *resultRepo) UpdateScore(ctx context.Context, tx *gorm.DB, id uuid.UUID, score float64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Result{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"score":      score,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *resultRepo) LatestByQuestionKey(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, questionKey string) (*types.Result, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Result
	if err := transaction.WithContext(ctx).
		Where("session_id = ? AND question_key = ?", sessionID, questionKey).
		Order("created_at DESC").
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("result for question %q: %w", questionKey, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *resultRepo) SumScores(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (float64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var sum *float64
	if err := transaction.WithContext(ctx).
		Model(&types.Result{}).
		Where("session_id = ? AND score IS NOT NULL", sessionID).
		Select("SUM(score)").
		Scan(&sum).Error; err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}
