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
	songSyncTimeout   = 15.0
	songSyncMinJitter = 10.0
	songSyncMaxJitter = 15.0

	// Blob key: set once the participant has answered a recognition
	// question correctly. Controls playhead jitter.
	keyRecognized = "recognized"

	QuestionRecognition  = "recognition"
	QuestionContinuation = "continuation"
)

// SongSync plays a song fragment, asks whether the participant knows it
// (scored by response speed), mutes playback, then continues either in the
// right place or shifted, asking whether the continuation matched. A wrong
// continuation answer flips the sign of the recognition score, which the
// session service applies transactionally.
type SongSync struct {
	Base
}

func NewSongSync(base Base) *SongSync {
	return &SongSync{Base: base}
}

func (*SongSync) ID() string { return "song_sync" }

func (*SongSync) FirstRound(block *types.Block) []actions.Action {
	out := []actions.Action{
		actions.Consent("We play short fragments of songs and ask if you recognize them."),
		actions.Explainer(
			"Name that tune",
			[]string{
				"A song starts playing. Press YES as soon as you recognize it.",
				"The sound then mutes for a moment and comes back.",
				"Tell us whether the music came back in the right place.",
			},
			"Let's go",
		),
	}
	if len(block.Playlists) > 1 {
		out = append(out, actions.Playlist(block.Playlists))
	}
	return out
}

func (s *SongSync) NextRound(rc *RoundContext) (*Outcome, error) {
	if rc.Session.CurrentRound > rc.Block.Rounds {
		var total float64
		for _, r := range rc.Results {
			if r.Scored() {
				total += *r.Score
			}
		}
		return &Outcome{
			Actions: []actions.Action{
				actions.Final(total+rc.Block.BonusPoints, "", 0, "That was the last song."),
			},
			Finish: true,
		}, nil
	}

	if out := s.redoPending(rc); out != nil {
		return out, nil
	}

	section, err := s.pickSection(rc)
	if err != nil {
		return nil, err
	}

	// The continuation resumes shifted until the participant has recognized
	// a song, then exactly in place. The expectation follows the playback
	// the client actually renders: only a zero offset is "in the right
	// place".
	offset := selector.Jitter(songSyncMinJitter, songSyncMaxJitter, rc.Session.DataBool(keyRecognized), rc.Source)
	expectedContinuation := "no"
	if offset == 0 {
		expectedContinuation = "yes"
	}

	recognition := &types.Result{
		ID:               uuid.New(),
		SessionID:        &rc.Session.ID,
		SectionID:        &section.ID,
		QuestionKey:      QuestionRecognition,
		ExpectedResponse: "yes",
		ScoringRule:      scoring.SongSyncRecognition,
	}
	continuation := &types.Result{
		ID:               uuid.New(),
		SessionID:        &rc.Session.ID,
		SectionID:        &section.ID,
		QuestionKey:      QuestionContinuation,
		ExpectedResponse: expectedContinuation,
		ScoringRule:      scoring.SongSyncContinue,
	}

	title := fmt.Sprintf("Song %d of %d", rc.Session.CurrentRound, rc.Block.Rounds)
	return &Outcome{
		Actions: []actions.Action{
			actions.Trial(title, []*types.Section{section}, actions.TrialConfig{
				ResultID:     recognition.ID,
				QuestionKey:  QuestionRecognition,
				QuestionText: "Do you know this song?",
				Choices:      []string{"yes", "no"},
				ResponseTime: songSyncTimeout,
			}),
			actions.Trial(title, []*types.Section{section}, actions.TrialConfig{
				ResultID:       continuation.ID,
				QuestionKey:    QuestionContinuation,
				QuestionText:   "Did the music come back in the right place?",
				Choices:        []string{"yes", "no"},
				PlaybackOffset: offset,
			}),
		},
		NewResults:   []*types.Result{recognition, continuation},
		PlaySections: []uuid.UUID{section.ID},
	}, nil
}

// redoPending re-presents the in-flight round from its registered rows: the
// same section, and a continuation offset consistent with the expectation
// fixed at registration. Questions already answered are not handed out again.
func (s *SongSync) redoPending(rc *RoundContext) *Outcome {
	recognition := pendingByKey(rc.Results, QuestionRecognition)
	continuation := pendingByKey(rc.Results, QuestionContinuation)
	if recognition == nil && continuation == nil {
		return nil
	}

	var section *types.Section
	if continuation != nil {
		section = sectionByID(rc.Sections, continuation.SectionID)
	}
	if section == nil && recognition != nil {
		section = sectionByID(rc.Sections, recognition.SectionID)
	}

	title := fmt.Sprintf("Song %d of %d", rc.Session.CurrentRound, rc.Block.Rounds)
	out := &Outcome{}
	if recognition != nil {
		out.Actions = append(out.Actions, actions.Trial(title, sectionList(section), actions.TrialConfig{
			ResultID:     recognition.ID,
			QuestionKey:  QuestionRecognition,
			QuestionText: "Do you know this song?",
			Choices:      []string{"yes", "no"},
			ResponseTime: songSyncTimeout,
		}))
		out.NewResults = append(out.NewResults, recognition)
	}
	if continuation != nil {
		offset := 0.0
		if continuation.ExpectedResponse == "no" {
			offset = selector.Jitter(songSyncMinJitter, songSyncMaxJitter, false, rc.Source)
		}
		out.Actions = append(out.Actions, actions.Trial(title, sectionList(section), actions.TrialConfig{
			ResultID:       continuation.ID,
			QuestionKey:    QuestionContinuation,
			QuestionText:   "Did the music come back in the right place?",
			Choices:        []string{"yes", "no"},
			PlaybackOffset: offset,
		}))
		out.NewResults = append(out.NewResults, continuation)
	}
	return out
}

// HandleResult additionally records when the participant first recognizes a
// song, which switches the continuation offset to exactly zero.
func (s *SongSync) HandleResult(session *types.Session, result *types.Result, data map[string]interface{}) error {
	if err := s.Base.HandleResult(session, result, data); err != nil {
		return err
	}
	if result.QuestionKey == QuestionRecognition && result.Score != nil && *result.Score > 0 {
		session.MergeData(map[string]interface{}{keyRecognized: true})
	}
	return nil
}

func (s *SongSync) pickSection(rc *RoundContext) (*types.Section, error) {
	if len(rc.Sections) == 0 {
		return nil, fmt.Errorf("song_sync requires a playlist with sections: %w", apperr.ErrNoEligibleStimulus)
	}
	seen := map[string]bool{}
	for _, r := range rc.Results {
		if r.SectionID != nil {
			seen[r.SectionID.String()] = true
		}
	}
	candidates := selector.ExcludeSeen(rc.Sections, seen)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("song_sync playlist exhausted after %d sections: %w", len(rc.Sections), apperr.ErrNoEligibleStimulus)
	}
	return candidates[rc.Source.Intn(len(candidates))], nil
}
