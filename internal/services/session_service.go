package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/apperr"
	redisclient "github.com/earshot-lab/earshot-backend/internal/clients/redis"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/repos"
	"github.com/earshot-lab/earshot-backend/internal/rules"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

type StartSessionOutput struct {
	SessionID uuid.UUID        `json:"session_id"`
	Actions   []actions.Action `json:"actions"`
}

// SessionService is the engine's surface to the thin HTTP layer: start a
// session, submit an answer, recover the current round, rank a finished
// session. Every mutation runs in one transaction; a request that fails
// midway leaves no partial result.
type SessionService interface {
	FirstRound(ctx context.Context, blockSlug string) ([]actions.Action, error)
	StartSession(ctx context.Context, participantHash, blockSlug string, playlistID *uuid.UUID) (*StartSessionOutput, error)
	SubmitResult(ctx context.Context, sessionID, resultID uuid.UUID, data map[string]interface{}) ([]actions.Action, error)
	GetNextRound(ctx context.Context, sessionID uuid.UUID) ([]actions.Action, error)
	PercentileRank(ctx context.Context, sessionID uuid.UUID, excludeUnfinished bool) (float64, error)
}

type sessionService struct {
	db           *gorm.DB
	log          *logger.Logger
	participants repos.ParticipantRepo
	blocks       repos.BlockRepo
	playlists    repos.PlaylistRepo
	sections     repos.SectionRepo
	sessions     repos.SessionRepo
	results      repos.ResultRepo
	rules        *rules.Registry
	board        redisclient.Leaderboard
	src          selector.Source
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	participants repos.ParticipantRepo,
	blocks repos.BlockRepo,
	playlists repos.PlaylistRepo,
	sections repos.SectionRepo,
	sessions repos.SessionRepo,
	results repos.ResultRepo,
	rulesReg *rules.Registry,
	board redisclient.Leaderboard,
	src selector.Source,
) SessionService {
	return &sessionService{
		db:           db,
		log:          baseLog.With("service", "SessionService"),
		participants: participants,
		blocks:       blocks,
		playlists:    playlists,
		sections:     sections,
		sessions:     sessions,
		results:      results,
		rules:        rulesReg,
		board:        board,
		src:          src,
	}
}

func (s *sessionService) FirstRound(ctx context.Context, blockSlug string) ([]actions.Action, error) {
	block, err := s.blocks.GetBySlug(ctx, nil, blockSlug)
	if err != nil {
		return nil, err
	}
	engine, err := s.rules.Get(block.RulesID)
	if err != nil {
		return nil, err
	}
	return engine.FirstRound(block), nil
}

func (s *sessionService) StartSession(ctx context.Context, participantHash, blockSlug string, playlistID *uuid.UUID) (*StartSessionOutput, error) {
	var out *StartSessionOutput
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participant, err := s.participants.GetOrCreateByHash(ctx, tx, participantHash)
		if err != nil {
			return err
		}
		block, err := s.blocks.GetBySlug(ctx, tx, blockSlug)
		if err != nil {
			return err
		}
		engine, err := s.rules.Get(block.RulesID)
		if err != nil {
			return err
		}

		chosenPlaylist, err := s.resolvePlaylist(block, playlistID)
		if err != nil {
			return err
		}

		session := &types.Session{
			ParticipantID: participant.ID,
			BlockID:       block.ID,
			PlaylistID:    chosenPlaylist,
			CurrentRound:  1,
		}
		if err := s.sessions.Create(ctx, tx, session); err != nil {
			return err
		}

		rc, err := s.loadRoundContext(ctx, tx, session, block, participant)
		if err != nil {
			return err
		}
		outcome, err := engine.NextRound(rc)
		if err != nil {
			return err
		}
		acts, err := s.applyOutcome(ctx, tx, rc, outcome)
		if err != nil {
			return err
		}
		out = &StartSessionOutput{SessionID: session.ID, Actions: acts}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sessionService) SubmitResult(ctx context.Context, sessionID, resultID uuid.UUID, data map[string]interface{}) ([]actions.Action, error) {
	acts, err := s.submitOnce(ctx, sessionID, resultID, data)
	if errors.Is(err, apperr.ErrConcurrentModification) {
		// A doubled network retry can lose the round CAS; one reload and
		// retry resolves the benign case, anything else surfaces.
		s.log.Warn("round advance lost CAS, retrying once", "session_id", sessionID)
		return s.submitOnce(ctx, sessionID, resultID, data)
	}
	return acts, err
}

func (s *sessionService) submitOnce(ctx context.Context, sessionID, resultID uuid.UUID, data map[string]interface{}) ([]actions.Action, error) {
	var acts []actions.Action
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.GetByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Finished() {
			return fmt.Errorf("session %s: %w", session.ID, apperr.ErrSessionFinished)
		}
		engine, err := s.rules.Get(session.Block.RulesID)
		if err != nil {
			return err
		}

		result, err := s.results.GetByID(ctx, tx, resultID)
		if err != nil {
			return err
		}
		if !resultBelongs(session, result) {
			return fmt.Errorf("result %s does not belong to session %s: %w", resultID, sessionID, apperr.ErrInvalidSubmission)
		}

		if err := engine.HandleResult(session, result, data); err != nil {
			return err
		}
		if err := s.results.UpdateSubmission(ctx, tx, result); err != nil {
			return err
		}
		if result.ScoringRule == scoring.SongSyncContinue {
			if err := s.applyContinuationCorrection(ctx, tx, session, result); err != nil {
				return err
			}
		}

		rc, err := s.loadRoundContext(ctx, tx, session, nil, nil)
		if err != nil {
			return err
		}
		if hasPendingSessionResults(rc.Results) {
			// The round pre-registered more questions than have been
			// answered; the client already holds their actions. Blob
			// changes made by the engine still have to land.
			if err := s.sessions.UpdateData(ctx, tx, session); err != nil {
				return err
			}
			acts = []actions.Action{}
			return nil
		}

		if err := s.sessions.AdvanceRound(ctx, tx, session); err != nil {
			return err
		}
		outcome, err := engine.NextRound(rc)
		if err != nil {
			return err
		}
		acts, err = s.applyOutcome(ctx, tx, rc, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

func (s *sessionService) GetNextRound(ctx context.Context, sessionID uuid.UUID) ([]actions.Action, error) {
	var acts []actions.Action
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.GetByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if session.Finished() {
			percentile, rank, rankErr := s.rankLocked(ctx, tx, session, true)
			if rankErr != nil {
				return rankErr
			}
			final := 0.0
			if session.FinalScore != nil {
				final = *session.FinalScore
			}
			acts = []actions.Action{actions.Final(final, rank, percentile, "This session is complete.")}
			return nil
		}
		engine, err := s.rules.Get(session.Block.RulesID)
		if err != nil {
			return err
		}
		rc, err := s.loadRoundContext(ctx, tx, session, nil, nil)
		if err != nil {
			return err
		}
		outcome, err := engine.NextRound(rc)
		if err != nil {
			return err
		}
		acts, err = s.applyOutcome(ctx, tx, rc, outcome)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acts, nil
}

func (s *sessionService) PercentileRank(ctx context.Context, sessionID uuid.UUID, excludeUnfinished bool) (float64, error) {
	session, err := s.sessions.GetByID(ctx, nil, sessionID)
	if err != nil {
		return 0, err
	}
	percentile, _, err := s.rankLocked(ctx, nil, session, excludeUnfinished)
	return percentile, err
}

// rankLocked computes the mid-rank percentile of the session's final score
// among all sessions of its block. Cross-session aggregates tolerate
// concurrently finishing sessions; this is deliberately not linearizable.
func (s *sessionService) rankLocked(ctx context.Context, tx *gorm.DB, session *types.Session, excludeUnfinished bool) (float64, string, error) {
	if session.FinalScore == nil {
		return 0, "", fmt.Errorf("session %s has no final score yet: %w", session.ID, apperr.ErrInvalidSubmission)
	}
	target := *session.FinalScore

	scores, cached := []float64(nil), false
	if s.board != nil && excludeUnfinished && tx == nil {
		scores, cached = s.board.GetBlockScores(ctx, session.BlockID)
	}
	if !cached {
		rows, err := s.sessions.GetByBlockID(ctx, tx, session.BlockID, excludeUnfinished)
		if err != nil {
			return 0, "", err
		}
		for _, row := range rows {
			if row.FinalScore != nil {
				scores = append(scores, *row.FinalScore)
				continue
			}
			scores = append(scores, 0)
		}
		if s.board != nil && excludeUnfinished && tx == nil {
			s.board.SetBlockScores(ctx, session.BlockID, scores)
		}
	}

	total := len(scores)
	if total == 0 {
		return 0, "", nil
	}
	countLE, countEQ, countGT := 0, 0, 0
	for _, score := range scores {
		if score <= target {
			countLE++
		}
		if score == target {
			countEQ++
		}
		if score > target {
			countGT++
		}
	}
	percentile := 100 * (float64(countLE) - 0.5*float64(countEQ)) / float64(total)
	rank := fmt.Sprintf("%d of %d", countGT+1, total)
	return percentile, rank, nil
}

func (s *sessionService) resolvePlaylist(block *types.Block, playlistID *uuid.UUID) (*uuid.UUID, error) {
	if playlistID != nil {
		for _, p := range block.Playlists {
			if p.ID == *playlistID {
				id := p.ID
				return &id, nil
			}
		}
		return nil, fmt.Errorf("playlist %s is not attached to block %s: %w", *playlistID, block.Slug, apperr.ErrNotFound)
	}
	if len(block.Playlists) > 0 {
		id := block.Playlists[0].ID
		return &id, nil
	}
	return nil, nil
}

func (s *sessionService) loadRoundContext(ctx context.Context, tx *gorm.DB, session *types.Session, block *types.Block, participant *types.Participant) (*rules.RoundContext, error) {
	var err error
	if block == nil {
		block, err = s.blocks.GetByID(ctx, tx, session.BlockID)
		if err != nil {
			return nil, err
		}
	}
	if participant == nil {
		participant, err = s.participants.GetByID(ctx, tx, session.ParticipantID)
		if err != nil {
			return nil, err
		}
	}
	results, err := s.results.GetBySessionID(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}
	profile, err := s.results.GetProfileByParticipantID(ctx, tx, participant.ID)
	if err != nil {
		return nil, err
	}
	var sections []*types.Section
	if session.PlaylistID != nil {
		sections, err = s.sections.GetByPlaylistID(ctx, tx, *session.PlaylistID)
		if err != nil {
			return nil, err
		}
	}
	return &rules.RoundContext{
		Session:     session,
		Block:       block,
		Participant: participant,
		Results:     results,
		Profile:     profile,
		Sections:    sections,
		Source:      s.src,
	}, nil
}

// applyOutcome persists what the engine decided: pre-registered results,
// blob merges, play counters and the finish transition. Recovery calls
// reuse rows that are already registered instead of duplicating them.
func (s *sessionService) applyOutcome(ctx context.Context, tx *gorm.DB, rc *rules.RoundContext, outcome *rules.Outcome) ([]actions.Action, error) {
	latestByKey := map[string]*types.Result{}
	for _, r := range rc.Profile {
		latestByKey[r.QuestionKey] = r
	}
	for _, r := range rc.Results {
		latestByKey[r.QuestionKey] = r
	}

	inFlight := hasPendingSessionResults(rc.Results)
	idMap := map[uuid.UUID]uuid.UUID{}
	var toCreate []*types.Result
	for _, nr := range outcome.NewResults {
		existing := latestByKey[nr.QuestionKey]
		if inFlight && existing != nil {
			idMap[nr.ID] = existing.ID
			continue
		}
		if existing != nil && existing.GivenResponse == "" && !existing.Scored() {
			idMap[nr.ID] = existing.ID
			continue
		}
		toCreate = append(toCreate, nr)
	}
	if err := s.results.Create(ctx, tx, toCreate); err != nil {
		return nil, err
	}
	rewriteResultIDs(outcome.Actions, idMap)

	if len(toCreate) > 0 {
		if err := s.sections.IncrementPlayCount(ctx, tx, outcome.PlaySections); err != nil {
			return nil, err
		}
	}

	// An in-flight recovery re-presents a round whose blob merges already
	// landed when the round was first registered.
	if len(outcome.DataMerge) > 0 && !inFlight {
		rc.Session.MergeData(outcome.DataMerge)
		if err := s.sessions.UpdateData(ctx, tx, rc.Session); err != nil {
			return nil, err
		}
	}

	if outcome.Finish {
		if err := s.finishLocked(ctx, tx, rc, outcome); err != nil {
			return nil, err
		}
	}
	return outcome.Actions, nil
}

// finishLocked freezes the session and enriches the final action with the
// frozen score and the participant's standing among all finished sessions of
// the block.
func (s *sessionService) finishLocked(ctx context.Context, tx *gorm.DB, rc *rules.RoundContext, outcome *rules.Outcome) error {
	sum, err := s.results.SumScores(ctx, tx, rc.Session.ID)
	if err != nil {
		return err
	}
	final := sum + rc.Block.BonusPoints
	if err := s.sessions.Finish(ctx, tx, rc.Session, final); err != nil {
		return err
	}
	if s.board != nil {
		s.board.InvalidateBlock(ctx, rc.Session.BlockID)
	}

	percentile, rank, err := s.rankLocked(ctx, tx, rc.Session, true)
	if err != nil {
		return err
	}
	for i, a := range outcome.Actions {
		if a.View != actions.ViewFinal {
			continue
		}
		a.Data["final_score"] = final
		a.Data["percentile"] = percentile
		a.Data["rank"] = rank
		outcome.Actions[i] = a
	}
	return nil
}

// applyContinuationCorrection is the one declared exception to pure scoring:
// a mismatched continuation answer flips the sign of the score on the most
// recent recognition result of the same session. It runs inside the
// submission transaction.
func (s *sessionService) applyContinuationCorrection(ctx context.Context, tx *gorm.DB, session *types.Session, continuation *types.Result) error {
	if continuation.GivenResponse == continuation.ExpectedResponse {
		return nil
	}
	recognition, err := s.results.LatestByQuestionKey(ctx, tx, session.ID, rules.QuestionRecognition)
	if err != nil {
		return err
	}
	if !recognition.Scored() {
		return nil
	}
	return s.results.UpdateScore(ctx, tx, recognition.ID, -*recognition.Score)
}

func resultBelongs(session *types.Session, result *types.Result) bool {
	if result.SessionID != nil {
		return *result.SessionID == session.ID
	}
	if result.ParticipantID != nil {
		return *result.ParticipantID == session.ParticipantID
	}
	return false
}

func hasPendingSessionResults(results []*types.Result) bool {
	for _, r := range results {
		if r.GivenResponse == "" && !r.Scored() {
			return true
		}
	}
	return false
}

func rewriteResultIDs(acts []actions.Action, idMap map[uuid.UUID]uuid.UUID) {
	if len(idMap) == 0 {
		return
	}
	for _, a := range acts {
		cfg, ok := a.Data["config"].(actions.TrialConfig)
		if !ok {
			continue
		}
		mapped, ok := idMap[cfg.ResultID]
		if !ok {
			continue
		}
		cfg.ResultID = mapped
		a.Data["config"] = cfg
	}
}
