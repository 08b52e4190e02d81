package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/repos"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

type BlockStats struct {
	BlockID  uuid.UUID `json:"block_id"`
	Slug     string    `json:"slug"`
	Started  int       `json:"started"`
	Finished int       `json:"finished"`
}

type PhaseDashboard struct {
	PhaseID uuid.UUID    `json:"phase_id"`
	Name    string       `json:"name"`
	Blocks  []BlockStats `json:"blocks"`
}

// PhaseService walks a participant through the blocks of a phase: each call
// to NextBlock hands out one block the participant has not finished yet,
// either in declared order or shuffled per participant.
type PhaseService interface {
	NextBlock(ctx context.Context, phaseID uuid.UUID, participantHash string) (*types.Block, error)
	Dashboard(ctx context.Context, phaseID uuid.UUID) (*PhaseDashboard, error)
}

type phaseService struct {
	db           *gorm.DB
	log          *logger.Logger
	phases       repos.PhaseRepo
	blocks       repos.BlockRepo
	sessions     repos.SessionRepo
	participants repos.ParticipantRepo
	src          selector.Source
}

func NewPhaseService(
	db *gorm.DB,
	baseLog *logger.Logger,
	phases repos.PhaseRepo,
	blocks repos.BlockRepo,
	sessions repos.SessionRepo,
	participants repos.ParticipantRepo,
	src selector.Source,
) PhaseService {
	return &phaseService{
		db:           db,
		log:          baseLog.With("service", "PhaseService"),
		phases:       phases,
		blocks:       blocks,
		sessions:     sessions,
		participants: participants,
		src:          src,
	}
}

func (s *phaseService) NextBlock(ctx context.Context, phaseID uuid.UUID, participantHash string) (*types.Block, error) {
	phase, err := s.phases.GetByID(ctx, nil, phaseID)
	if err != nil {
		return nil, err
	}
	participant, err := s.participants.GetOrCreateByHash(ctx, nil, participantHash)
	if err != nil {
		return nil, err
	}

	blockIDs := make([]uuid.UUID, 0, len(phase.Blocks))
	for _, b := range phase.Blocks {
		blockIDs = append(blockIDs, b.ID)
	}
	finished, err := s.sessions.GetFinishedBlockIDs(ctx, nil, participant.ID, blockIDs)
	if err != nil {
		return nil, err
	}

	var remaining []*types.Block
	for _, b := range phase.Blocks {
		if !finished[b.ID] {
			remaining = append(remaining, b)
		}
	}
	if len(remaining) == 0 {
		return nil, fmt.Errorf("participant finished all %d blocks of phase %s: %w", len(phase.Blocks), phase.ID, apperr.ErrPhaseComplete)
	}
	if phase.Randomize {
		return remaining[s.src.Intn(len(remaining))], nil
	}
	return remaining[0], nil
}

// Dashboard aggregates per-block session counts, one query per block fanned
// out concurrently.
func (s *phaseService) Dashboard(ctx context.Context, phaseID uuid.UUID) (*PhaseDashboard, error) {
	phase, err := s.phases.GetByID(ctx, nil, phaseID)
	if err != nil {
		return nil, err
	}

	stats := make([]BlockStats, len(phase.Blocks))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, b := range phase.Blocks {
		i, b := i, b
		g.Go(func() error {
			rows, err := s.sessions.GetByBlockID(gctx, nil, b.ID, false)
			if err != nil {
				return err
			}
			bs := BlockStats{BlockID: b.ID, Slug: b.Slug, Started: len(rows)}
			for _, row := range rows {
				if row.Finished() {
					bs.Finished++
				}
			}
			mu.Lock()
			stats[i] = bs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &PhaseDashboard{PhaseID: phase.ID, Name: phase.Name, Blocks: stats}, nil
}
