package services

import (
	"context"
	"testing"

	"github.com/earshot-lab/earshot-backend/internal/config"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/rules"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
)

func testCatalogue() *config.Catalogue {
	return &config.Catalogue{
		Playlists: []config.PlaylistSpec{
			{
				Name: "hooked originals",
				Sections: []config.SectionSpec{
					{Artist: "A", Name: "Song A", Filename: "a.mp3", Duration: 10, Tag: "Original", Group: "song-a"},
					{Artist: "B", Name: "Song B", Filename: "b.mp3", Duration: 10, Tag: "Original", Group: "song-b"},
				},
			},
		},
		Phases: []config.PhaseSpec{
			{Name: "main study", Randomize: true},
		},
		Blocks: []config.BlockSpec{
			{Slug: "hooked", Rules: "song_sync", Rounds: 12, BonusPoints: 3, Phase: "main study", Playlists: []string{"hooked originals"}},
			{Slug: "rhythm", Rules: "anisochrony", Phase: "main study", Index: 1},
		},
	}
}

func TestCatalogueApplyIsIdempotent(t *testing.T) {
	e := newTestEnv(t, 1)
	svc := NewCatalogueService(e.db, logger.NewNop(), e.phases, e.blocks, e.playlists, rules.NewRegistry(scoring.NewRegistry()))
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		if err := svc.Apply(ctx, testCatalogue()); err != nil {
			t.Fatalf("apply run %d: %v", run+1, err)
		}
	}

	block, err := e.blocks.GetBySlug(ctx, nil, "hooked")
	if err != nil {
		t.Fatalf("block missing after apply: %v", err)
	}
	if block.Rounds != 12 || block.BonusPoints != 3 || block.PhaseID == nil {
		t.Fatalf("block not configured from catalogue: %+v", block)
	}
	if len(block.Playlists) != 1 {
		t.Fatalf("block has %d playlists, want 1", len(block.Playlists))
	}
	sections, err := e.sections.GetByPlaylistID(ctx, nil, block.Playlists[0].ID)
	if err != nil {
		t.Fatalf("playlist sections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("playlist has %d sections after two applies, want 2", len(sections))
	}

	rhythm, err := e.blocks.GetBySlug(ctx, nil, "rhythm")
	if err != nil {
		t.Fatalf("rhythm block missing: %v", err)
	}
	if rhythm.Rounds != 10 {
		t.Fatalf("unset rounds should default to 10, got %d", rhythm.Rounds)
	}

	phase, err := e.phases.GetByID(ctx, nil, *block.PhaseID)
	if err != nil {
		t.Fatalf("phase missing: %v", err)
	}
	if len(phase.Blocks) != 2 {
		t.Fatalf("phase has %d blocks, want 2", len(phase.Blocks))
	}
}

func TestCatalogueApplyRejectsUnknownRules(t *testing.T) {
	e := newTestEnv(t, 1)
	svc := NewCatalogueService(e.db, logger.NewNop(), e.phases, e.blocks, e.playlists, rules.NewRegistry(scoring.NewRegistry()))

	cat := &config.Catalogue{Blocks: []config.BlockSpec{{Slug: "x", Rules: "no_such_engine"}}}
	if err := svc.Apply(context.Background(), cat); err == nil {
		t.Fatal("expected an error for an unknown rules id")
	}
}
