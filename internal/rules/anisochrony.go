package rules

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

const (
	anisochronyPracticeRounds = 2

	// Session blob keys owned by this engine.
	keyPracticeDone  = "practice_done"
	keyPracticeRound = "practice_round"

	// Question keys on results.
	questionPractice = "practice"
	questionChoice   = "choice"
)

// Anisochrony is a duration-discrimination style experiment: the participant
// hears a rhythm and reports whether its timing was irregular. Practice runs
// until the last practice attempt is correct; real trials balance the
// (condition, difficulty) design with least-played selection.
type Anisochrony struct {
	Base
}

func NewAnisochrony(base Base) *Anisochrony {
	return &Anisochrony{Base: base}
}

func (*Anisochrony) ID() string { return "anisochrony" }

// design enumerates the (condition, difficulty) cells. The isochronous
// condition is the catch trial: no irregularity present.
func (*Anisochrony) design() []selector.Pair {
	var pairs []selector.Pair
	for d := 1; d <= 5; d++ {
		pairs = append(pairs,
			selector.Pair{Condition: "anisochronous", Difficulty: d},
			selector.Pair{Condition: "isochronous", Difficulty: d},
		)
	}
	return pairs
}

func (*Anisochrony) FirstRound(block *types.Block) []actions.Action {
	out := []actions.Action{
		actions.Consent("This listening test takes about five minutes. You can stop at any time."),
		actions.Explainer(
			"Do you hear the hiccup?",
			[]string{
				"You will hear a short rhythm.",
				"Sometimes one beat comes slightly too early or too late.",
				"After each rhythm, tell us whether the timing was regular.",
			},
			"Practice first",
		),
	}
	if len(block.Playlists) > 1 {
		out = append(out, actions.Playlist(block.Playlists))
	}
	return out
}

func (a *Anisochrony) NextRound(rc *RoundContext) (*Outcome, error) {
	if out := a.redoPending(rc); out != nil {
		return out, nil
	}
	if !rc.Session.DataBool(keyPracticeDone) {
		return a.practiceRound(rc)
	}
	return a.trialRound(rc)
}

// redoPending re-presents a round that is registered but not yet answered.
// The registered row fixed the ground truth when the round was first handed
// out, so the shown condition derives from it instead of a fresh draw.
func (a *Anisochrony) redoPending(rc *RoundContext) *Outcome {
	if pending := pendingByKey(rc.Results, questionPractice); pending != nil {
		condition := "isochronous"
		if pending.ExpectedResponse == "yes" {
			condition = "anisochronous"
		}
		return a.practiceTrial(pending, sectionByID(rc.Sections, pending.SectionID), condition)
	}
	if pending := pendingByKey(rc.Results, questionChoice); pending != nil {
		pair, ok := latestSentinelPair(rc.Results)
		if !ok {
			return nil
		}
		return a.choiceTrial(pending, sectionByID(rc.Sections, pending.SectionID), pair, a.trialsDone(rc.Results), rc.Block.Rounds)
	}
	return nil
}

func (a *Anisochrony) practiceRound(rc *RoundContext) (*Outcome, error) {
	attempt, _ := rc.Session.DataInt(keyPracticeRound)
	if attempt < 1 {
		attempt = 1
	}

	if attempt > anisochronyPracticeRounds {
		// Practice block complete; the last attempt decides.
		if lastPracticeCorrect(rc.Results) {
			out, err := a.trialRound(rc)
			if err != nil {
				return nil, err
			}
			out.Actions = append([]actions.Action{
				actions.Explainer("Well done", []string{"Practice complete. The real experiment starts now, and your answers will count."}, "Start"),
			}, out.Actions...)
			if out.DataMerge == nil {
				out.DataMerge = map[string]interface{}{}
			}
			out.DataMerge[keyPracticeDone] = true
			return out, nil
		}
		// Reset to the start of practice and explain again before retrying.
		out, err := a.presentPractice(rc, 1)
		if err != nil {
			return nil, err
		}
		out.Actions = append([]actions.Action{
			actions.Explainer("Let's try that again", []string{
				"That last one was not quite right.",
				"Listen for a single beat that breaks the regular pattern.",
			}, "Retry practice"),
		}, out.Actions...)
		return out, nil
	}

	return a.presentPractice(rc, attempt)
}

func (a *Anisochrony) presentPractice(rc *RoundContext, attempt int) (*Outcome, error) {
	// Practice alternates the two conditions deterministically so every
	// participant hears both.
	condition := "anisochronous"
	if attempt%2 == 0 {
		condition = "isochronous"
	}
	expected := "no"
	if condition == "anisochronous" {
		expected = "yes"
	}

	result := &types.Result{
		ID:               uuid.New(),
		SessionID:        &rc.Session.ID,
		QuestionKey:      questionPractice,
		ExpectedResponse: expected,
		ScoringRule:      scoring.Correctness,
	}
	section := a.pickSection(rc)
	if section != nil {
		result.SectionID = &section.ID
	}
	outcome := a.practiceTrial(result, section, condition)
	outcome.DataMerge = map[string]interface{}{keyPracticeRound: attempt + 1}
	if section != nil {
		outcome.PlaySections = []uuid.UUID{section.ID}
	}
	return outcome, nil
}

func (a *Anisochrony) practiceTrial(result *types.Result, section *types.Section, condition string) *Outcome {
	return &Outcome{
		Actions: []actions.Action{
			actions.Trial("Practice: was the timing regular?", sectionList(section), actions.TrialConfig{
				ResultID:     result.ID,
				QuestionKey:  questionPractice,
				QuestionText: "Was the rhythm perfectly regular?",
				Choices:      []string{"yes", "no"},
				Extra:        map[string]interface{}{"practice": true, "condition": condition, "difficulty": 1},
			}),
		},
		NewResults: []*types.Result{result},
	}
}

func (a *Anisochrony) trialRound(rc *RoundContext) (*Outcome, error) {
	done := a.trialsDone(rc.Results)
	if done >= rc.Block.Rounds {
		var totalScore float64
		for _, r := range rc.Results {
			if r.Scored() {
				totalScore += *r.Score
			}
		}
		return &Outcome{
			Actions: []actions.Action{
				actions.Final(totalScore+rc.Block.BonusPoints, "", 0, "You finished the timing experiment."),
			},
			Finish: true,
		}, nil
	}

	pair, err := selector.LeastPlayed(a.design(), selector.PairPlayCounts(rc.Results), rc.Source)
	if err != nil {
		return nil, fmt.Errorf("anisochrony trial %d: %w", done+1, err)
	}
	expected := "no"
	if pair.Condition == "anisochronous" {
		expected = "yes"
	}

	sentinel := &types.Result{
		ID:            uuid.New(),
		SessionID:     &rc.Session.ID,
		QuestionKey:   selector.ConditionQuestionKey,
		GivenResponse: pair.String(),
	}
	choice := &types.Result{
		ID:               uuid.New(),
		SessionID:        &rc.Session.ID,
		QuestionKey:      questionChoice,
		ExpectedResponse: expected,
		ScoringRule:      scoring.Correctness,
	}
	section := a.pickSection(rc)
	if section != nil {
		choice.SectionID = &section.ID
	}
	outcome := a.choiceTrial(choice, section, pair, done, rc.Block.Rounds)
	outcome.NewResults = []*types.Result{sentinel, choice}
	if section != nil {
		outcome.PlaySections = []uuid.UUID{section.ID}
	}
	return outcome, nil
}

func (a *Anisochrony) choiceTrial(choice *types.Result, section *types.Section, pair selector.Pair, done, rounds int) *Outcome {
	return &Outcome{
		Actions: []actions.Action{
			actions.Trial(fmt.Sprintf("Trial %d of %d", done+1, rounds), sectionList(section), actions.TrialConfig{
				ResultID:     choice.ID,
				QuestionKey:  questionChoice,
				QuestionText: "Was the rhythm perfectly regular?",
				Choices:      []string{"yes", "no"},
				Extra:        map[string]interface{}{"condition": pair.Condition, "difficulty": pair.Difficulty},
			}),
		},
		NewResults: []*types.Result{choice},
	}
}

func (*Anisochrony) trialsDone(results []*types.Result) int {
	done := 0
	for _, r := range results {
		if r.QuestionKey == questionChoice && r.Scored() {
			done++
		}
	}
	return done
}

// pickSection draws an unseen section when the playlist has one; rhythm
// blocks may run without stimulus files, then trials carry no section.
func (a *Anisochrony) pickSection(rc *RoundContext) *types.Section {
	if len(rc.Sections) == 0 {
		return nil
	}
	seen := map[string]bool{}
	for _, r := range rc.Results {
		if r.SectionID != nil {
			seen[r.SectionID.String()] = true
		}
	}
	candidates := selector.ExcludeSeen(rc.Sections, seen)
	if len(candidates) == 0 {
		candidates = rc.Sections
	}
	return candidates[rc.Source.Intn(len(candidates))]
}

func lastPracticeCorrect(results []*types.Result) bool {
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.QuestionKey != questionPractice || !r.Scored() {
			continue
		}
		return *r.Score > 0
	}
	return false
}

func sectionList(s *types.Section) []*types.Section {
	if s == nil {
		return nil
	}
	return []*types.Section{s}
}
