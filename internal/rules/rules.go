package rules

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// RoundContext bundles everything an engine may read when deciding a round:
// the session with its blob, the block configuration, the ordered result
// history, the participant's profile results and the playlist sections.
// Engines never touch the store; the session service loads the context and
// applies the outcome inside one transaction.
type RoundContext struct {
	Session     *types.Session
	Block       *types.Block
	Participant *types.Participant
	Results     []*types.Result
	Profile     []*types.Result
	Sections    []*types.Section
	Source      selector.Source
}

// Outcome is what an engine wants to happen after deciding a round. The
// session service persists NewResults, merges DataMerge into the session
// blob, bumps play counters, finishes the session when Finish is set, and
// advances the round — all in the caller's transaction.
type Outcome struct {
	Actions      []actions.Action
	NewResults   []*types.Result
	DataMerge    map[string]interface{}
	PlaySections []uuid.UUID
	Finish       bool
}

// Engine is the per-experiment-type contract. Implementations must be
// deterministic given session state except where they draw from the supplied
// source: replaying the same results against a freshly reconstructed session
// reproduces the same actions modulo that declared randomness.
type Engine interface {
	ID() string
	// FirstRound renders pre-session content (consent, playlist choice,
	// instructions). No session exists yet and nothing may be persisted.
	FirstRound(block *types.Block) []actions.Action
	// NextRound decides what the session sees next: more explainers, the
	// next trial, or the final summary.
	NextRound(rc *RoundContext) (*Outcome, error)
	// CalculateScore turns a submitted answer into a score, nil when the
	// result stays unscored.
	CalculateScore(result *types.Result, data map[string]interface{}) (*float64, error)
	// HandleResult validates and applies one submission onto a result row.
	// The caller persists the row.
	HandleResult(session *types.Session, result *types.Result, data map[string]interface{}) error
}

// Base carries the shared sub-flows experiment types compose with instead of
// inheriting from.
type Base struct {
	Scoring *scoring.Registry
}

func (b Base) CalculateScore(result *types.Result, data map[string]interface{}) (*float64, error) {
	return b.Scoring.Score(result.ScoringRule, result, data)
}

func (b Base) HandleResult(session *types.Session, result *types.Result, data map[string]interface{}) error {
	if session.Finished() {
		return fmt.Errorf("session %s: %w", session.ID, apperr.ErrSessionFinished)
	}
	value, ok := data["value"].(string)
	if !ok || value == "" {
		return fmt.Errorf("submission is missing value: %w", apperr.ErrInvalidSubmission)
	}
	if result.GivenResponse != "" || result.Scored() {
		return fmt.Errorf("result %s already submitted: %w", result.ID, apperr.ErrInvalidSubmission)
	}
	result.GivenResponse = value
	result.SetDataMap(data)
	score, err := b.Scoring.Score(result.ScoringRule, result, data)
	if err != nil {
		return err
	}
	result.Score = score
	return nil
}

// Registry resolves the concrete engine for a block's rules id.
type Registry struct {
	engines map[string]Engine
}

func NewRegistry(scoreReg *scoring.Registry) *Registry {
	r := &Registry{engines: map[string]Engine{}}
	base := Base{Scoring: scoreReg}
	r.Register(NewDemographics(base))
	r.Register(NewAnisochrony(base))
	r.Register(NewSongSync(base))
	r.Register(NewMatchingPairs(base, false))
	r.Register(NewMatchingPairs(base, true))
	return r
}

func (r *Registry) Register(e Engine) {
	r.engines[e.ID()] = e
}

func (r *Registry) Get(rulesID string) (Engine, error) {
	e, ok := r.engines[rulesID]
	if !ok {
		return nil, fmt.Errorf("rules id %q: %w", rulesID, apperr.ErrNotFound)
	}
	return e, nil
}

// pendingByKey returns the most recent registered-but-unanswered result for a
// question key. A non-nil return means the round is still in flight and a
// re-presented trial must match what that row scores against.
func pendingByKey(results []*types.Result, key string) *types.Result {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.QuestionKey == key && r.GivenResponse == "" && !r.Scored() {
			return r
		}
	}
	return nil
}

// latestSentinelPair reads the condition draw recorded with the most recent
// round.
func latestSentinelPair(results []*types.Result) (selector.Pair, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].QuestionKey == selector.ConditionQuestionKey {
			return selector.ParsePair(results[i].GivenResponse)
		}
	}
	return selector.Pair{}, false
}

func sectionByID(sections []*types.Section, id *uuid.UUID) *types.Section {
	if id == nil {
		return nil
	}
	for _, s := range sections {
		if s.ID == *id {
			return s
		}
	}
	return nil
}
