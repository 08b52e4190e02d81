package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/config"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/repos"
	"github.com/earshot-lab/earshot-backend/internal/rules"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// CatalogueService writes a declarative catalogue into the store. Apply is
// idempotent at the block level: a slug that already exists is left alone, so
// re-running a deployment never duplicates or rewires live experiments.
type CatalogueService interface {
	Apply(ctx context.Context, cat *config.Catalogue) error
}

type catalogueService struct {
	db        *gorm.DB
	log       *logger.Logger
	phases    repos.PhaseRepo
	blocks    repos.BlockRepo
	playlists repos.PlaylistRepo
	rules     *rules.Registry
}

func NewCatalogueService(
	db *gorm.DB,
	baseLog *logger.Logger,
	phases repos.PhaseRepo,
	blocks repos.BlockRepo,
	playlists repos.PlaylistRepo,
	rulesReg *rules.Registry,
) CatalogueService {
	return &catalogueService{
		db:        db,
		log:       baseLog.With("service", "CatalogueService"),
		phases:    phases,
		blocks:    blocks,
		playlists: playlists,
		rules:     rulesReg,
	}
}

func (s *catalogueService) Apply(ctx context.Context, cat *config.Catalogue) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		playlistIDs := map[string]*types.Playlist{}
		for _, spec := range cat.Playlists {
			row, err := s.ensurePlaylist(ctx, tx, spec)
			if err != nil {
				return err
			}
			playlistIDs[spec.Name] = row
		}

		phaseIDs := map[string]*types.Phase{}
		for _, spec := range cat.Phases {
			row, err := s.ensurePhase(ctx, tx, spec)
			if err != nil {
				return err
			}
			phaseIDs[spec.Name] = row
		}

		for _, spec := range cat.Blocks {
			if _, err := s.rules.Get(spec.Rules); err != nil {
				return fmt.Errorf("block %q: %w", spec.Slug, err)
			}
			existing, err := s.blocks.GetBySlug(ctx, tx, spec.Slug)
			if err == nil {
				s.log.Info("catalogue block already present, skipping", "slug", existing.Slug)
				continue
			}
			if !errors.Is(err, apperr.ErrNotFound) {
				return err
			}

			block := &types.Block{
				Slug:         spec.Slug,
				RulesID:      spec.Rules,
				Rounds:       spec.Rounds,
				BonusPoints:  spec.BonusPoints,
				IndexInPhase: spec.Index,
			}
			if block.Rounds == 0 {
				block.Rounds = 10
			}
			if spec.Phase != "" {
				phase := phaseIDs[spec.Phase]
				block.PhaseID = &phase.ID
			}
			for _, name := range spec.Playlists {
				block.Playlists = append(block.Playlists, playlistIDs[name])
			}
			if err := s.blocks.Create(ctx, tx, block); err != nil {
				return err
			}
			s.log.Info("catalogue block created", "slug", block.Slug, "rules", block.RulesID)
		}
		return nil
	})
}

func (s *catalogueService) ensurePlaylist(ctx context.Context, tx *gorm.DB, spec config.PlaylistSpec) (*types.Playlist, error) {
	existing, err := s.playlists.GetByName(ctx, tx, spec.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	row := &types.Playlist{Name: spec.Name}
	for _, sec := range spec.Sections {
		row.Sections = append(row.Sections, &types.Section{
			SongArtist: sec.Artist,
			SongName:   sec.Name,
			Filename:   sec.Filename,
			StartTime:  sec.StartTime,
			Duration:   sec.Duration,
			Tag:        sec.Tag,
			Group:      sec.Group,
		})
	}
	if err := s.playlists.Create(ctx, tx, row); err != nil {
		return nil, err
	}
	s.log.Info("catalogue playlist created", "name", row.Name, "sections", len(row.Sections))
	return row, nil
}

func (s *catalogueService) ensurePhase(ctx context.Context, tx *gorm.DB, spec config.PhaseSpec) (*types.Phase, error) {
	existing, err := s.phases.GetByName(ctx, tx, spec.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	row := &types.Phase{Name: spec.Name, Randomize: spec.Randomize, Dashboard: spec.Dashboard}
	if err := s.phases.Create(ctx, tx, row); err != nil {
		return nil, err
	}
	s.log.Info("catalogue phase created", "name", row.Name)
	return row, nil
}
