package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/repos"
	"github.com/earshot-lab/earshot-backend/internal/rules"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&types.Participant{},
		&types.Phase{},
		&types.Block{},
		&types.Playlist{},
		&types.Section{},
		&types.Session{},
		&types.Result{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db           *gorm.DB
	participants repos.ParticipantRepo
	phases       repos.PhaseRepo
	blocks       repos.BlockRepo
	playlists    repos.PlaylistRepo
	sections     repos.SectionRepo
	sessions     repos.SessionRepo
	results      repos.ResultRepo
	svc          SessionService
	phaseSvc     PhaseService
}

func newTestEnv(t *testing.T, seed int64) *testEnv {
	t.Helper()
	db := openTestDB(t)
	log := logger.NewNop()
	e := &testEnv{
		db:           db,
		participants: repos.NewParticipantRepo(db, log),
		phases:       repos.NewPhaseRepo(db, log),
		blocks:       repos.NewBlockRepo(db, log),
		playlists:    repos.NewPlaylistRepo(db, log),
		sections:     repos.NewSectionRepo(db, log),
		sessions:     repos.NewSessionRepo(db, log),
		results:      repos.NewResultRepo(db, log),
	}
	src := selector.NewSeededSource(seed)
	rulesReg := rules.NewRegistry(scoring.NewRegistry())
	e.svc = NewSessionService(db, log, e.participants, e.blocks, e.playlists, e.sections, e.sessions, e.results, rulesReg, nil, src)
	e.phaseSvc = NewPhaseService(db, log, e.phases, e.blocks, e.sessions, e.participants, src)
	return e
}

func (e *testEnv) seedBlock(t *testing.T, slug, rulesID string, rounds int, bonus float64, sections []*types.Section) *types.Block {
	t.Helper()
	ctx := context.Background()
	block := &types.Block{Slug: slug, RulesID: rulesID, Rounds: rounds, BonusPoints: bonus}
	if len(sections) > 0 {
		pl := &types.Playlist{ID: uuid.New(), Name: slug + " playlist", Sections: sections}
		if err := e.playlists.Create(ctx, nil, pl); err != nil {
			t.Fatalf("create playlist: %v", err)
		}
		block.Playlists = []*types.Playlist{pl}
	}
	if err := e.blocks.Create(ctx, nil, block); err != nil {
		t.Fatalf("create block: %v", err)
	}
	return block
}

func tonePool(n int, tag string) []*types.Section {
	out := make([]*types.Section, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &types.Section{
			SongArtist: fmt.Sprintf("Artist %d", i),
			SongName:   fmt.Sprintf("Song %d", i),
			Filename:   fmt.Sprintf("%s-%d.mp3", strings.ToLower(tag), i),
			Duration:   10,
			Tag:        tag,
			Group:      fmt.Sprintf("song-%d", i),
		})
	}
	return out
}

func trialConfigs(acts []actions.Action) []actions.TrialConfig {
	var out []actions.TrialConfig
	for _, a := range acts {
		if a.View != actions.ViewTrial {
			continue
		}
		if cfg, ok := a.Data["config"].(actions.TrialConfig); ok {
			out = append(out, cfg)
		}
	}
	return out
}

func findView(acts []actions.Action, v actions.View) (actions.Action, bool) {
	for _, a := range acts {
		if a.View == v {
			return a, true
		}
	}
	return actions.Action{}, false
}

// submitCorrect answers the registered question the way its expected response
// demands, with the blob fields its scoring rule reads.
func (e *testEnv) submitCorrect(t *testing.T, sessionID, resultID uuid.UUID) []actions.Action {
	t.Helper()
	ctx := context.Background()
	row, err := e.results.GetByID(ctx, nil, resultID)
	if err != nil {
		t.Fatalf("load result %s: %v", resultID, err)
	}
	value := row.ExpectedResponse
	if value == "" {
		value = "5"
	}
	data := map[string]interface{}{"value": value}
	if row.ScoringRule == scoring.SongSyncRecognition {
		data["decision_time"] = 5.0
		data["timeout"] = 15.0
	}
	acts, err := e.svc.SubmitResult(ctx, sessionID, resultID, data)
	if err != nil {
		t.Fatalf("submit result %s: %v", resultID, err)
	}
	return acts
}

func (e *testEnv) countSessionResults(t *testing.T, sessionID uuid.UUID) int {
	t.Helper()
	rows, err := e.results.GetBySessionID(context.Background(), nil, sessionID)
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	return len(rows)
}
