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

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, row *types.Session) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error)
	// AdvanceRound persists the session blob and increments current_round
	// with an optimistic compare-and-swap on the round the caller read. A
	// losing writer gets ErrConcurrentModification and no mutation.
	AdvanceRound(ctx context.Context, tx *gorm.DB, row *types.Session) error
	// UpdateData persists the blob without advancing the round, under the
	// same compare-and-swap discipline.
	UpdateData(ctx context.Context, tx *gorm.DB, row *types.Session) error
	// Finish freezes the session. It is the only writer of final_score.
	Finish(ctx context.Context, tx *gorm.DB, row *types.Session, finalScore float64) error
	GetByBlockID(ctx context.Context, tx *gorm.DB, blockID uuid.UUID, excludeUnfinished bool) ([]*types.Session, error)
	GetFinishedBlockIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID, blockIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, row *types.Session) error {
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
	if row.CurrentRound == 0 {
		row.CurrentRound = 1
	}
	if row.StartedAt.IsZero() {
		row.StartedAt = time.Now().UTC()
	}
	return transaction.WithContext(ctx).Create(row).Error
}

func (r *sessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.Session
	if err := transaction.WithContext(ctx).
		Preload("Block").
		Preload("Participant").
		Where("id = ?", id).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &row, nil
}

func (r *sessionRepo) AdvanceRound(ctx context.Context, tx *gorm.DB, row *types.Session) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	readRound := row.CurrentRound
	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ? AND current_round = ? AND finished_at IS NULL", row.ID, readRound).
		Updates(map[string]interface{}{
			"current_round": readRound + 1,
			"data":          row.Data,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s round %d: %w", row.ID, readRound, apperr.ErrConcurrentModification)
	}
	row.CurrentRound = readRound + 1
	return nil
}

func (r *sessionRepo) UpdateData(ctx context.Context, tx *gorm.DB, row *types.Session) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ? AND current_round = ? AND finished_at IS NULL", row.ID, row.CurrentRound).
		Updates(map[string]interface{}{
			"data":       row.Data,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s round %d: %w", row.ID, row.CurrentRound, apperr.ErrConcurrentModification)
	}
	return nil
}

func (r *sessionRepo) Finish(ctx context.Context, tx *gorm.DB, row *types.Session, finalScore float64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	// Second call is a no-op: the finished_at guard leaves the frozen
	// final_score untouched.
	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ? AND finished_at IS NULL", row.ID).
		Updates(map[string]interface{}{
			"finished_at": now,
			"final_score": finalScore,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		row.FinishedAt = &now
		row.FinalScore = &finalScore
	}
	return nil
}

func (r *sessionRepo) GetByBlockID(ctx context.Context, tx *gorm.DB, blockID uuid.UUID, excludeUnfinished bool) ([]*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(ctx).Where("block_id = ?", blockID)
	if excludeUnfinished {
		q = q.Where("finished_at IS NOT NULL")
	}
	var rows []*types.Session
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *sessionRepo) GetFinishedBlockIDs(ctx context.Context, tx *gorm.DB, participantID uuid.UUID, blockIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	done := map[uuid.UUID]bool{}
	if len(blockIDs) == 0 {
		return done, nil
	}
	var rows []*types.Session
	if err := transaction.WithContext(ctx).
		Where("participant_id = ? AND block_id IN ? AND finished_at IS NOT NULL", participantID, blockIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, s := range rows {
		done[s.BlockID] = true
	}
	return done, nil
}
