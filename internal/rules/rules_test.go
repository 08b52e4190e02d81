package rules

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

func newTestBase() Base {
	return Base{Scoring: scoring.NewRegistry()}
}

func newTestContext(rulesID string, rounds int, seed int64) *RoundContext {
	participant := &types.Participant{ID: uuid.New(), ParticipantHash: "hash"}
	block := &types.Block{ID: uuid.New(), Slug: "b", RulesID: rulesID, Rounds: rounds}
	playlistID := uuid.New()
	return &RoundContext{
		Session: &types.Session{
			ID:            uuid.New(),
			ParticipantID: participant.ID,
			BlockID:       block.ID,
			PlaylistID:    &playlistID,
			CurrentRound:  1,
			StartedAt:     time.Now(),
		},
		Block:       block,
		Participant: participant,
		Source:      selector.NewSeededSource(seed),
	}
}

func addSections(rc *RoundContext, songs int, conditions []string) {
	for i := 0; i < songs; i++ {
		group := fmt.Sprintf("song-%d", i)
		for _, cond := range conditions {
			rc.Sections = append(rc.Sections, &types.Section{
				ID:         uuid.New(),
				PlaylistID: *rc.Session.PlaylistID,
				Group:      group,
				Tag:        cond,
				Filename:   group + "-" + cond + ".mp3",
			})
		}
	}
}

func scored(v float64) *float64 { return &v }

func viewSequence(out []actions.Action) []actions.View {
	var views []actions.View
	for _, a := range out {
		views = append(views, a.View)
	}
	return views
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(scoring.NewRegistry())
	for _, id := range []string{"demographics", "anisochrony", "song_sync", "matching_pairs", "matching_pairs_fixed"} {
		e, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if e.ID() != id {
			t.Fatalf("Get(%s).ID() = %s", id, e.ID())
		}
	}
	if _, err := reg.Get("unknown_experiment"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown rules id error = %v, want ErrNotFound", err)
	}
}

func TestBaseHandleResult(t *testing.T) {
	base := newTestBase()
	now := time.Now()

	t.Run("finished_session_rejected", func(t *testing.T) {
		session := &types.Session{ID: uuid.New(), FinishedAt: &now}
		err := base.HandleResult(session, &types.Result{ScoringRule: scoring.Boolean}, map[string]interface{}{"value": "yes"})
		if !errors.Is(err, apperr.ErrSessionFinished) {
			t.Fatalf("error = %v, want ErrSessionFinished", err)
		}
	})

	t.Run("missing_value_rejected", func(t *testing.T) {
		session := &types.Session{ID: uuid.New()}
		err := base.HandleResult(session, &types.Result{ScoringRule: scoring.Boolean}, map[string]interface{}{})
		if !errors.Is(err, apperr.ErrInvalidSubmission) {
			t.Fatalf("error = %v, want ErrInvalidSubmission", err)
		}
	})

	t.Run("double_scoring_rejected", func(t *testing.T) {
		session := &types.Session{ID: uuid.New()}
		result := &types.Result{ScoringRule: scoring.Boolean, Score: scored(1)}
		err := base.HandleResult(session, result, map[string]interface{}{"value": "yes"})
		if !errors.Is(err, apperr.ErrInvalidSubmission) {
			t.Fatalf("error = %v, want ErrInvalidSubmission", err)
		}
	})

	t.Run("scores_and_records", func(t *testing.T) {
		session := &types.Session{ID: uuid.New()}
		result := &types.Result{ScoringRule: scoring.Boolean}
		if err := base.HandleResult(session, result, map[string]interface{}{"value": "yes"}); err != nil {
			t.Fatalf("HandleResult: %v", err)
		}
		if result.GivenResponse != "yes" || result.Score == nil || *result.Score != 1 {
			t.Fatalf("result not applied: given=%q score=%v", result.GivenResponse, result.Score)
		}
	})
}

func TestDemographicsWalksQuestionsThenFinishes(t *testing.T) {
	engine := NewDemographics(newTestBase())
	rc := newTestContext("demographics", 0, 1)

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if out.Finish || len(out.NewResults) != 1 {
		t.Fatalf("first question outcome: finish=%v results=%d", out.Finish, len(out.NewResults))
	}
	first := out.NewResults[0]
	if first.ParticipantID == nil || first.SessionID != nil {
		t.Fatalf("profile result must be participant-scoped, got session=%v participant=%v", first.SessionID, first.ParticipantID)
	}

	// Answer everything; the engine must then finish.
	for _, q := range profileQuestions {
		rc.Profile = append(rc.Profile, &types.Result{
			ParticipantID: &rc.Participant.ID,
			QuestionKey:   q.Key,
			Score:         scored(1),
		})
	}
	out, err = engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound after all answers: %v", err)
	}
	if !out.Finish {
		t.Fatalf("expected finish after all questions answered")
	}
	if views := viewSequence(out.Actions); len(views) != 1 || views[0] != actions.ViewFinal {
		t.Fatalf("final views = %v", views)
	}
}

func TestDemographicsSkipsAnsweredQuestions(t *testing.T) {
	engine := NewDemographics(newTestBase())
	rc := newTestContext("demographics", 0, 1)
	rc.Profile = []*types.Result{{
		ParticipantID: &rc.Participant.ID,
		QuestionKey:   profileQuestions[0].Key,
		Score:         scored(2),
	}}

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if out.NewResults[0].QuestionKey != profileQuestions[1].Key {
		t.Fatalf("asked %q, want %q", out.NewResults[0].QuestionKey, profileQuestions[1].Key)
	}
}

func TestAnisochronyPracticeFailureResets(t *testing.T) {
	engine := NewAnisochrony(newTestBase())
	rc := newTestContext("anisochrony", 10, 2)

	// Both practice attempts presented, the last one scored wrong.
	rc.Session.MergeData(map[string]interface{}{keyPracticeRound: anisochronyPracticeRounds + 1})
	rc.Results = []*types.Result{
		{QuestionKey: questionPractice, Score: scored(1)},
		{QuestionKey: questionPractice, Score: scored(0)},
	}

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if out.Finish {
		t.Fatalf("practice failure must not finish the session")
	}
	views := viewSequence(out.Actions)
	if views[0] != actions.ViewExplainer {
		t.Fatalf("practice failure must inject an explainer before retrying, got %v", views)
	}
	if got, _ := out.DataMerge[keyPracticeRound].(int); got != 2 {
		t.Fatalf("practice reset should restart the pass, merge = %v", out.DataMerge)
	}
	if out.DataMerge[keyPracticeDone] != nil {
		t.Fatalf("practice must not be marked done on failure")
	}
	if len(out.NewResults) != 1 || out.NewResults[0].QuestionKey != questionPractice {
		t.Fatalf("expected one practice result, got %v", out.NewResults)
	}
}

func TestAnisochronyPracticeSuccessEntersTrials(t *testing.T) {
	engine := NewAnisochrony(newTestBase())
	rc := newTestContext("anisochrony", 10, 2)

	rc.Session.MergeData(map[string]interface{}{keyPracticeRound: anisochronyPracticeRounds + 1})
	rc.Results = []*types.Result{
		{QuestionKey: questionPractice, Score: scored(0)},
		{QuestionKey: questionPractice, Score: scored(1)},
	}

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if out.DataMerge[keyPracticeDone] != true {
		t.Fatalf("practice success must mark practice done, merge = %v", out.DataMerge)
	}
	var sawSentinel, sawChoice bool
	for _, r := range out.NewResults {
		switch r.QuestionKey {
		case selector.ConditionQuestionKey:
			sawSentinel = true
		case questionChoice:
			sawChoice = true
		}
	}
	if !sawSentinel || !sawChoice {
		t.Fatalf("trial round must pre-register sentinel and choice results, got %v", out.NewResults)
	}
}

func TestAnisochronyTrialBalancesConditions(t *testing.T) {
	engine := NewAnisochrony(newTestBase())
	rc := newTestContext("anisochrony", 20, 3)
	rc.Session.MergeData(map[string]interface{}{keyPracticeDone: true})

	// Every design cell played once, half of them twice: selection must
	// stay inside the once-played half.
	design := engine.design()
	for i, p := range design {
		rc.Results = append(rc.Results, &types.Result{
			QuestionKey:   selector.ConditionQuestionKey,
			GivenResponse: p.String(),
		})
		if i%2 == 0 {
			rc.Results = append(rc.Results, &types.Result{
				QuestionKey:   selector.ConditionQuestionKey,
				GivenResponse: p.String(),
			})
		}
	}

	for i := 0; i < 50; i++ {
		out, err := engine.NextRound(rc)
		if err != nil {
			t.Fatalf("NextRound: %v", err)
		}
		var sentinel *types.Result
		for _, r := range out.NewResults {
			if r.QuestionKey == selector.ConditionQuestionKey {
				sentinel = r
			}
		}
		pair, ok := selector.ParsePair(sentinel.GivenResponse)
		if !ok {
			t.Fatalf("sentinel %q is not a pair", sentinel.GivenResponse)
		}
		for j, p := range design {
			if p == pair && j%2 == 0 {
				t.Fatalf("selected twice-played pair %v", pair)
			}
		}
	}
}

func TestAnisochronyFinishesAfterRoundTarget(t *testing.T) {
	engine := NewAnisochrony(newTestBase())
	rc := newTestContext("anisochrony", 2, 4)
	rc.Session.MergeData(map[string]interface{}{keyPracticeDone: true})
	rc.Results = []*types.Result{
		{QuestionKey: questionChoice, Score: scored(1)},
		{QuestionKey: questionChoice, Score: scored(0)},
	}

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if !out.Finish {
		t.Fatalf("expected finish after %d scored trials", rc.Block.Rounds)
	}
}

func TestSongSyncRoundShape(t *testing.T) {
	engine := NewSongSync(newTestBase())
	rc := newTestContext("song_sync", 5, 6)
	addSections(rc, 6, []string{""})

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if len(out.NewResults) != 2 {
		t.Fatalf("song_sync must pre-register recognition and continuation, got %d", len(out.NewResults))
	}
	recognition, continuation := out.NewResults[0], out.NewResults[1]
	if recognition.QuestionKey != QuestionRecognition || recognition.ScoringRule != scoring.SongSyncRecognition {
		t.Fatalf("recognition result wrong: %+v", recognition)
	}
	if continuation.QuestionKey != QuestionContinuation || continuation.ScoringRule != scoring.SongSyncContinue {
		t.Fatalf("continuation result wrong: %+v", continuation)
	}
	if recognition.ExpectedResponse != "yes" {
		t.Fatalf("recognition expectation pre-registered as %q", recognition.ExpectedResponse)
	}
}

func TestSongSyncJitterStopsAfterRecognition(t *testing.T) {
	engine := NewSongSync(newTestBase())

	offsetOf := func(rc *RoundContext) float64 {
		out, err := engine.NextRound(rc)
		if err != nil {
			t.Fatalf("NextRound: %v", err)
		}
		for _, a := range out.Actions {
			cfg, ok := a.Data["config"].(actions.TrialConfig)
			if ok && cfg.QuestionKey == QuestionContinuation {
				return cfg.PlaybackOffset
			}
		}
		t.Fatalf("no continuation trial in actions")
		return 0
	}

	rc := newTestContext("song_sync", 5, 8)
	addSections(rc, 6, []string{""})
	for i := 0; i < 20; i++ {
		got := offsetOf(rc)
		if got < songSyncMinJitter || got > songSyncMaxJitter {
			t.Fatalf("offset before recognition = %v, want within [%v,%v]", got, songSyncMinJitter, songSyncMaxJitter)
		}
	}

	rc.Session.MergeData(map[string]interface{}{keyRecognized: true})
	if got := offsetOf(rc); got != 0 {
		t.Fatalf("offset after recognition = %v, want 0", got)
	}
}

func TestSongSyncContinuationExpectationMatchesPlayback(t *testing.T) {
	engine := NewSongSync(newTestBase())
	rc := newTestContext("song_sync", 5, 8)
	addSections(rc, 6, []string{""})

	check := func(wantExpected string) {
		t.Helper()
		out, err := engine.NextRound(rc)
		if err != nil {
			t.Fatalf("NextRound: %v", err)
		}
		var expected string
		for _, r := range out.NewResults {
			if r.QuestionKey == QuestionContinuation {
				expected = r.ExpectedResponse
			}
		}
		offset, found := 0.0, false
		for _, a := range out.Actions {
			if cfg, ok := a.Data["config"].(actions.TrialConfig); ok && cfg.QuestionKey == QuestionContinuation {
				offset, found = cfg.PlaybackOffset, true
			}
		}
		if !found {
			t.Fatal("no continuation trial in actions")
		}
		if (expected == "yes") != (offset == 0) {
			t.Fatalf("expectation %q contradicts playback offset %v", expected, offset)
		}
		if expected != wantExpected {
			t.Fatalf("expected = %q, want %q", expected, wantExpected)
		}
	}

	for i := 0; i < 10; i++ {
		check("no")
	}
	rc.Session.MergeData(map[string]interface{}{keyRecognized: true})
	check("yes")
}

func TestAnisochronyRepresentsPendingPractice(t *testing.T) {
	engine := NewAnisochrony(newTestBase())
	rc := newTestContext("anisochrony", 10, 2)

	// First practice attempt already handed out: the blob counter advanced
	// at registration, the row is still unanswered.
	rc.Session.MergeData(map[string]interface{}{keyPracticeRound: 2})
	pending := &types.Result{
		ID:               uuid.New(),
		SessionID:        &rc.Session.ID,
		QuestionKey:      questionPractice,
		ExpectedResponse: "yes",
		ScoringRule:      scoring.Correctness,
	}
	rc.Results = []*types.Result{pending}

	out, err := engine.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if len(out.NewResults) != 1 || out.NewResults[0] != pending {
		t.Fatalf("re-presentation must reuse the registered row, got %v", out.NewResults)
	}
	cfg, ok := out.Actions[0].Data["config"].(actions.TrialConfig)
	if !ok || cfg.ResultID != pending.ID {
		t.Fatalf("re-presented trial config = %+v, want result %s", cfg, pending.ID)
	}
	if cfg.Extra["condition"] != "anisochronous" {
		t.Fatalf("re-presented condition %v contradicts the registered expectation %q", cfg.Extra["condition"], pending.ExpectedResponse)
	}
	if out.DataMerge != nil {
		t.Fatalf("re-presentation must not touch the blob, merge = %v", out.DataMerge)
	}
}

func TestSongSyncRecognitionSetsRecognizedFlag(t *testing.T) {
	engine := NewSongSync(newTestBase())
	session := &types.Session{ID: uuid.New()}
	result := &types.Result{
		QuestionKey:      QuestionRecognition,
		ExpectedResponse: "yes",
		ScoringRule:      scoring.SongSyncRecognition,
	}
	data := map[string]interface{}{"value": "yes", "timeout": float64(15), "decision_time": float64(3)}
	if err := engine.HandleResult(session, result, data); err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if !session.DataBool(keyRecognized) {
		t.Fatalf("recognized flag not set after correct recognition")
	}
}

func TestSongSyncExhaustedPlaylist(t *testing.T) {
	engine := NewSongSync(newTestBase())
	rc := newTestContext("song_sync", 5, 9)
	addSections(rc, 1, []string{""})
	sectionID := rc.Sections[0].ID
	rc.Results = []*types.Result{{SectionID: &sectionID}}

	_, err := engine.NextRound(rc)
	if !errors.Is(err, apperr.ErrNoEligibleStimulus) {
		t.Fatalf("error = %v, want ErrNoEligibleStimulus", err)
	}
}

func TestMatchingPairsFixedVariantIsStable(t *testing.T) {
	base := newTestBase()
	fixed := NewMatchingPairs(base, true)

	build := func(seed int64) []uuid.UUID {
		rc := newTestContext("matching_pairs_fixed", 3, seed)
		addSections(rc, 6, []string{selector.OriginalCondition, "1stDegradation"})
		// Same playlist contents across sessions: rebuild with fixed ids.
		for i, s := range rc.Sections {
			s.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("section-%d", i)))
		}
		fixedPlaylist := uuid.NewSHA1(uuid.NameSpaceOID, []byte("playlist"))
		rc.Session.PlaylistID = &fixedPlaylist
		out, err := fixed.NextRound(rc)
		if err != nil {
			t.Fatalf("NextRound: %v", err)
		}
		var ids []uuid.UUID
		for _, id := range out.PlaySections {
			ids = append(ids, id)
		}
		return ids
	}

	// Different entropy seeds, same playlist: the fixed variant must not
	// care about the entropy source.
	first := build(1)
	second := build(999)
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("board sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("fixed variant board diverged at %d", i)
		}
	}
}

func TestMatchingPairsRandomVariantUsesEntropy(t *testing.T) {
	base := newTestBase()
	random := NewMatchingPairs(base, false)

	rc := newTestContext("matching_pairs", 3, 1)
	addSections(rc, 6, []string{selector.OriginalCondition})
	out, err := random.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	if len(out.PlaySections) != 2*matchingPairsPerBoard {
		t.Fatalf("board has %d sections, want %d", len(out.PlaySections), 2*matchingPairsPerBoard)
	}
	var score *types.Result
	for _, r := range out.NewResults {
		if r.QuestionKey == questionMatches {
			score = r
		}
	}
	if score == nil || score.ScoringRule != scoring.Likert {
		t.Fatalf("board score result missing or misconfigured: %+v", score)
	}
}

func TestMatchingPairsRedoKeepsRecordedCondition(t *testing.T) {
	random := NewMatchingPairs(newTestBase(), false)
	rc := newTestContext("matching_pairs", 3, 1)
	addSections(rc, 6, []string{selector.OriginalCondition, "1stDegradation"})

	out, err := random.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound: %v", err)
	}
	rc.Results = append(rc.Results, out.NewResults...)
	recorded, ok := sentinelPair(out)
	if !ok {
		t.Fatal("board round recorded no condition draw")
	}

	// The score row is still unanswered: a repeated call must keep the
	// recorded condition instead of balancing away from it.
	redo, err := random.NextRound(rc)
	if err != nil {
		t.Fatalf("NextRound redo: %v", err)
	}
	cfg, _ := redo.Actions[0].Data["config"].(actions.TrialConfig)
	if cfg.Extra["condition"] != recorded.Condition {
		t.Fatalf("redo condition %v, want recorded %q", cfg.Extra["condition"], recorded.Condition)
	}
}

func TestNextRoundDeterministicReplay(t *testing.T) {
	// Same persisted state, same seed: identical action sequence.
	engine := NewAnisochrony(newTestBase())

	build := func() *Outcome {
		rc := newTestContext("anisochrony", 10, 77)
		rc.Session.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("session"))
		rc.Session.MergeData(map[string]interface{}{keyPracticeDone: true})
		rc.Results = []*types.Result{
			{QuestionKey: selector.ConditionQuestionKey, GivenResponse: "anisochronous:1"},
			{QuestionKey: questionChoice, Score: scored(1)},
		}
		out, err := engine.NextRound(rc)
		if err != nil {
			t.Fatalf("NextRound: %v", err)
		}
		return out
	}

	first := build()
	second := build()
	if len(first.Actions) != len(second.Actions) {
		t.Fatalf("replay produced %d actions vs %d", len(first.Actions), len(second.Actions))
	}
	for i := range first.Actions {
		if first.Actions[i].View != second.Actions[i].View {
			t.Fatalf("replay diverged at action %d: %s vs %s", i, first.Actions[i].View, second.Actions[i].View)
		}
	}
	firstPair, _ := sentinelPair(first)
	secondPair, _ := sentinelPair(second)
	if firstPair != secondPair {
		t.Fatalf("replay selected different pairs: %v vs %v", firstPair, secondPair)
	}
}

func sentinelPair(out *Outcome) (selector.Pair, bool) {
	for _, r := range out.NewResults {
		if r.QuestionKey == selector.ConditionQuestionKey {
			return selector.ParsePair(r.GivenResponse)
		}
	}
	return selector.Pair{}, false
}
