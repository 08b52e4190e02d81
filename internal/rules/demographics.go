package rules

import (
	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/actions"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// profileQuestion is one item of the demographic questionnaire. Answers are
// participant-scoped: asked once, reused across sessions.
type profileQuestion struct {
	Key         string
	Text        string
	Choices     []string
	ScoringRule string
}

var profileQuestions = []profileQuestion{
	{
		Key:         "dgf_musical_experience",
		Text:        "How much experience do you have playing or singing music?",
		Choices:     []string{"none", "moderate", "extensive", "professional"},
		ScoringRule: scoring.CategoriesToLikert,
	},
	{
		Key:         "dgf_concerts_per_year",
		Text:        "How often do you attend live music events?",
		Choices:     []string{"never", "rarely", "monthly", "weekly"},
		ScoringRule: scoring.CategoriesToLikert,
	},
	{
		Key:         "dgf_hearing_difficulty",
		Text:        "Do you have difficulty hearing?",
		Choices:     []string{"no", "yes"},
		ScoringRule: scoring.CategoriesToLikert,
	},
	{
		Key:         "dgf_music_importance",
		Text:        "How important is music in your daily life? (1-7)",
		ScoringRule: scoring.Likert,
	},
}

// Demographics walks a participant through the profile questionnaire.
type Demographics struct {
	Base
}

func NewDemographics(base Base) *Demographics {
	return &Demographics{Base: base}
}

func (*Demographics) ID() string { return "demographics" }

func (*Demographics) FirstRound(block *types.Block) []actions.Action {
	return []actions.Action{
		actions.Consent("We ask a few background questions before the listening experiments start. Answers are stored anonymously."),
		actions.Explainer(
			"About you",
			[]string{
				"Answer each question as accurately as you can.",
				"There are no right or wrong answers.",
			},
			"Start",
		),
	}
}

func (d *Demographics) NextRound(rc *RoundContext) (*Outcome, error) {
	answered := map[string]bool{}
	for _, r := range rc.Profile {
		if r.Scored() {
			answered[r.QuestionKey] = true
		}
	}

	for _, q := range profileQuestions {
		if answered[q.Key] {
			continue
		}
		result := &types.Result{
			ID:            uuid.New(),
			ParticipantID: &rc.Participant.ID,
			QuestionKey:   q.Key,
			ScoringRule:   q.ScoringRule,
		}
		cfg := actions.TrialConfig{
			ResultID:     result.ID,
			QuestionKey:  q.Key,
			QuestionText: q.Text,
			Choices:      q.Choices,
		}
		return &Outcome{
			Actions:    []actions.Action{actions.Trial(q.Text, nil, cfg)},
			NewResults: []*types.Result{result},
		}, nil
	}

	return &Outcome{
		Actions: []actions.Action{
			actions.Final(0, "", 0, "Thank you. Your profile is complete."),
		},
		Finish: true,
	}, nil
}
