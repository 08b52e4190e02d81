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

const (
	matchingPairsPerBoard = 4

	questionMatches = "matches"
)

// MatchingPairs presents a memory board of paired song fragments. Songs are
// balanced with least-played selection; the condition (original vs degraded)
// rotates the same way. The fixed variant shuffles with a seed derived from
// the playlist so every session on that playlist sees the identical board
// order; the random variant uses real entropy.
type MatchingPairs struct {
	Base
	fixed bool
}

func NewMatchingPairs(base Base, fixed bool) *MatchingPairs {
	return &MatchingPairs{Base: base, fixed: fixed}
}

func (m *MatchingPairs) ID() string {
	if m.fixed {
		return "matching_pairs_fixed"
	}
	return "matching_pairs"
}

func (*MatchingPairs) FirstRound(block *types.Block) []actions.Action {
	out := []actions.Action{
		actions.Explainer(
			"Matching pairs",
			[]string{
				"Turn over two cards at a time.",
				"Each card plays a song fragment.",
				"Match the cards that play the same song.",
			},
			"Play",
		),
	}
	if len(block.Playlists) > 1 {
		out = append(out, actions.Playlist(block.Playlists))
	}
	return out
}

func (m *MatchingPairs) NextRound(rc *RoundContext) (*Outcome, error) {
	if rc.Session.CurrentRound > rc.Block.Rounds {
		var total float64
		for _, r := range rc.Results {
			if r.Scored() {
				total += *r.Score
			}
		}
		return &Outcome{
			Actions: []actions.Action{
				actions.Final(total+rc.Block.BonusPoints, "", 0, "No more boards left."),
			},
			Finish: true,
		}, nil
	}

	conditions := m.conditions(rc.Sections)
	if len(conditions) == 0 {
		return nil, fmt.Errorf("matching_pairs playlist has no sections: %w", apperr.ErrNoEligibleStimulus)
	}

	// The fixed variant replaces entropy with a seed derived from the
	// playlist contents, which makes the whole round reproducible across
	// sessions: condition pick, song pick and board order.
	src := rc.Source
	if m.fixed {
		var playlistID uuid.UUID
		if rc.Session.PlaylistID != nil {
			playlistID = *rc.Session.PlaylistID
		}
		src = selector.NewSeededSource(selector.PlaylistSeed(playlistID, rc.Sections))
	}

	pairs := make([]selector.Pair, 0, len(conditions))
	for _, c := range conditions {
		pairs = append(pairs, selector.Pair{Condition: c})
	}
	pair, err := selector.LeastPlayed(pairs, selector.PairPlayCounts(rc.Results), src)
	if err != nil {
		return nil, err
	}
	// A board that is registered but not yet answered keeps the condition
	// recorded with it instead of drawing again.
	if pendingByKey(rc.Results, questionMatches) != nil {
		if recorded, ok := latestSentinelPair(rc.Results); ok {
			pair = recorded
		}
	}
	board, err := selector.MatchingPairs(rc.Sections, matchingPairsPerBoard, pair.Condition, selector.SongPlayCounts(rc.Results), src)
	if err != nil {
		return nil, err
	}

	sentinel := &types.Result{
		ID:            uuid.New(),
		SessionID:     &rc.Session.ID,
		QuestionKey:   selector.ConditionQuestionKey,
		GivenResponse: pair.String(),
	}
	score := &types.Result{
		ID:          uuid.New(),
		SessionID:   &rc.Session.ID,
		QuestionKey: questionMatches,
		ScoringRule: scoring.Likert,
	}

	playIDs := make([]uuid.UUID, 0, len(board))
	for _, s := range board {
		playIDs = append(playIDs, s.ID)
	}
	return &Outcome{
		Actions: []actions.Action{
			actions.Trial(fmt.Sprintf("Board %d of %d", rc.Session.CurrentRound, rc.Block.Rounds), board, actions.TrialConfig{
				ResultID:    score.ID,
				QuestionKey: questionMatches,
				Extra: map[string]interface{}{
					"condition": pair.Condition,
					"pairs":     matchingPairsPerBoard,
				},
			}),
		},
		NewResults:   []*types.Result{sentinel, score},
		PlaySections: playIDs,
	}, nil
}

// conditions lists the distinct tags of the playlist, originals first so the
// first board is always the easy one.
func (*MatchingPairs) conditions(sections []*types.Section) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range sections {
		if s.Tag == "" || seen[s.Tag] {
			continue
		}
		seen[s.Tag] = true
		if s.Tag == selector.OriginalCondition {
			out = append([]string{s.Tag}, out...)
			continue
		}
		out = append(out, s.Tag)
	}
	return out
}
