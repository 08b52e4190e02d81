package services

import (
	"context"
	"errors"
	"testing"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

func (e *testEnv) seedPhase(t *testing.T, name string, randomize bool, slugs ...string) (*types.Phase, []*types.Block) {
	t.Helper()
	ctx := context.Background()
	phase := &types.Phase{Name: name, Randomize: randomize}
	if err := e.phases.Create(ctx, nil, phase); err != nil {
		t.Fatalf("create phase: %v", err)
	}
	blocks := make([]*types.Block, 0, len(slugs))
	for i, slug := range slugs {
		block := &types.Block{
			Slug:         slug,
			RulesID:      "anisochrony",
			Rounds:       3,
			PhaseID:      &phase.ID,
			IndexInPhase: i,
		}
		if err := e.blocks.Create(ctx, nil, block); err != nil {
			t.Fatalf("create block %s: %v", slug, err)
		}
		blocks = append(blocks, block)
	}
	return phase, blocks
}

func (e *testEnv) finishBlockFor(t *testing.T, hash string, block *types.Block, score float64) {
	t.Helper()
	ctx := context.Background()
	participant, err := e.participants.GetOrCreateByHash(ctx, nil, hash)
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	session := &types.Session{ParticipantID: participant.ID, BlockID: block.ID}
	if err := e.sessions.Create(ctx, nil, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := e.sessions.Finish(ctx, nil, session, score); err != nil {
		t.Fatalf("finish session: %v", err)
	}
}

func TestNextBlockWalksDeclaredOrder(t *testing.T) {
	e := newTestEnv(t, 1)
	phase, blocks := e.seedPhase(t, "main study", false, "first", "second")
	ctx := context.Background()

	got, err := e.phaseSvc.NextBlock(ctx, phase.ID, "hash-1")
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if got.ID != blocks[0].ID {
		t.Fatalf("first draw = %s, want %s", got.Slug, blocks[0].Slug)
	}

	// An unfinished session does not consume the block.
	participant, _ := e.participants.GetOrCreateByHash(ctx, nil, "hash-1")
	open := &types.Session{ParticipantID: participant.ID, BlockID: blocks[0].ID}
	if err := e.sessions.Create(ctx, nil, open); err != nil {
		t.Fatalf("create session: %v", err)
	}
	got, err = e.phaseSvc.NextBlock(ctx, phase.ID, "hash-1")
	if err != nil {
		t.Fatalf("NextBlock with open session: %v", err)
	}
	if got.ID != blocks[0].ID {
		t.Fatalf("open session must not consume the block, got %s", got.Slug)
	}

	e.finishBlockFor(t, "hash-1", blocks[0], 10)
	got, err = e.phaseSvc.NextBlock(ctx, phase.ID, "hash-1")
	if err != nil {
		t.Fatalf("NextBlock after first finish: %v", err)
	}
	if got.ID != blocks[1].ID {
		t.Fatalf("second draw = %s, want %s", got.Slug, blocks[1].Slug)
	}

	e.finishBlockFor(t, "hash-1", blocks[1], 10)
	if _, err := e.phaseSvc.NextBlock(ctx, phase.ID, "hash-1"); !errors.Is(err, apperr.ErrPhaseComplete) {
		t.Fatalf("expected ErrPhaseComplete, got %v", err)
	}

	// Another participant starts from the top.
	got, err = e.phaseSvc.NextBlock(ctx, phase.ID, "hash-2")
	if err != nil {
		t.Fatalf("NextBlock for fresh participant: %v", err)
	}
	if got.ID != blocks[0].ID {
		t.Fatalf("fresh participant draw = %s, want %s", got.Slug, blocks[0].Slug)
	}
}

func TestNextBlockRandomizedNeverRepeatsFinished(t *testing.T) {
	e := newTestEnv(t, 42)
	phase, blocks := e.seedPhase(t, "shuffled study", true, "a", "b", "c")
	ctx := context.Background()

	e.finishBlockFor(t, "hash-1", blocks[1], 5)
	for i := 0; i < 25; i++ {
		got, err := e.phaseSvc.NextBlock(ctx, phase.ID, "hash-1")
		if err != nil {
			t.Fatalf("NextBlock draw %d: %v", i, err)
		}
		if got.ID == blocks[1].ID {
			t.Fatal("randomized draw handed out a finished block")
		}
	}
}

func TestDashboardCountsSessions(t *testing.T) {
	e := newTestEnv(t, 1)
	phase, blocks := e.seedPhase(t, "main study", false, "first", "second")
	ctx := context.Background()

	e.finishBlockFor(t, "hash-1", blocks[0], 5)
	participant, _ := e.participants.GetOrCreateByHash(ctx, nil, "hash-2")
	open := &types.Session{ParticipantID: participant.ID, BlockID: blocks[0].ID}
	if err := e.sessions.Create(ctx, nil, open); err != nil {
		t.Fatalf("create session: %v", err)
	}

	dash, err := e.phaseSvc.Dashboard(ctx, phase.ID)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if dash.Name != "main study" || len(dash.Blocks) != 2 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	if dash.Blocks[0].Started != 2 || dash.Blocks[0].Finished != 1 {
		t.Fatalf("block[0] stats = %+v, want started 2 finished 1", dash.Blocks[0])
	}
	if dash.Blocks[1].Started != 0 || dash.Blocks[1].Finished != 0 {
		t.Fatalf("block[1] stats = %+v, want empty", dash.Blocks[1])
	}
}
