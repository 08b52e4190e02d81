package scoring

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

func TestScoreBuiltins(t *testing.T) {
	reg := NewRegistry()

	cases := []struct {
		name     string
		rule     string
		result   types.Result
		data     map[string]interface{}
		want     float64
		wantNil  bool
		wantErr  error
	}{
		{
			name:   "correctness_match",
			rule:   Correctness,
			result: types.Result{ExpectedResponse: "left", GivenResponse: "left"},
			want:   1,
		},
		{
			name:   "correctness_mismatch",
			rule:   Correctness,
			result: types.Result{ExpectedResponse: "left", GivenResponse: "right"},
			want:   0,
		},
		{
			name:   "boolean_yes",
			rule:   Boolean,
			result: types.Result{GivenResponse: "yes"},
			want:   1,
		},
		{
			name:   "boolean_anything_else",
			rule:   Boolean,
			result: types.Result{GivenResponse: "no"},
			want:   0,
		},
		{
			name:   "likert_passthrough",
			rule:   Likert,
			result: types.Result{GivenResponse: "4"},
			want:   4,
		},
		{
			name:    "likert_non_numeric",
			rule:    Likert,
			result:  types.Result{GivenResponse: "agree"},
			wantErr: apperr.ErrInvalidSubmission,
		},
		{
			name:   "reverse_likert_default_scale",
			rule:   ReverseLikert,
			result: types.Result{GivenResponse: "2"},
			want:   6,
		},
		{
			name:   "reverse_likert_explicit_scale",
			rule:   ReverseLikert,
			result: types.Result{GivenResponse: "1"},
			data:   map[string]interface{}{"scale_steps": float64(5)},
			want:   5,
		},
		{
			name:   "categories_to_likert",
			rule:   CategoriesToLikert,
			result: types.Result{GivenResponse: "sometimes"},
			data:   map[string]interface{}{"choices": []interface{}{"never", "sometimes", "often"}},
			want:   2,
		},
		{
			name:    "categories_to_likert_unknown_choice",
			rule:    CategoriesToLikert,
			result:  types.Result{GivenResponse: "always"},
			data:    map[string]interface{}{"choices": []interface{}{"never", "sometimes"}},
			wantErr: apperr.ErrInvalidSubmission,
		},
		{
			name:   "reaction_time_correct",
			rule:   ReactionTime,
			result: types.Result{ExpectedResponse: "yes", GivenResponse: "yes"},
			data:   map[string]interface{}{"timeout": float64(10), "decision_time": 3.2},
			want:   7,
		},
		{
			name:   "reaction_time_incorrect_is_negative",
			rule:   ReactionTime,
			result: types.Result{ExpectedResponse: "yes", GivenResponse: "no"},
			data:   map[string]interface{}{"timeout": float64(10), "decision_time": 3.2},
			want:   -4,
		},
		{
			// Data blobs re-read from the store decode numbers as
			// json.Number or string, not float64.
			name:   "reaction_time_stored_encodings",
			rule:   ReactionTime,
			result: types.Result{ExpectedResponse: "yes", GivenResponse: "yes"},
			data:   map[string]interface{}{"timeout": json.Number("10"), "decision_time": "3.2"},
			want:   7,
		},
		{
			name:   "song_sync_recognition_no",
			rule:   SongSyncRecognition,
			result: types.Result{GivenResponse: "no"},
			want:   0,
		},
		{
			name:   "song_sync_recognition_timeout",
			rule:   SongSyncRecognition,
			result: types.Result{GivenResponse: "TIMEOUT"},
			want:   0,
		},
		{
			name:   "song_sync_recognition_yes",
			rule:   SongSyncRecognition,
			result: types.Result{GivenResponse: "yes"},
			data:   map[string]interface{}{"timeout": float64(15), "decision_time": 10.5},
			want:   5,
		},
		{
			name:    "song_sync_continuation_scores_nothing",
			rule:    SongSyncContinue,
			result:  types.Result{GivenResponse: "no"},
			wantNil: true,
		},
		{
			name:    "unknown_rule",
			rule:    "MAGIC",
			result:  types.Result{},
			wantErr: apperr.ErrUnknownScoringRule,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := reg.Score(tc.rule, &tc.result, tc.data)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Score(%s) error = %v, want %v", tc.rule, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Score(%s) unexpected error: %v", tc.rule, err)
			}
			if tc.wantNil {
				if got != nil {
					t.Fatalf("Score(%s) = %v, want nil score", tc.rule, *got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Score(%s) = nil, want %v", tc.rule, tc.want)
			}
			if *got != tc.want {
				t.Fatalf("Score(%s) = %v, want %v", tc.rule, *got, tc.want)
			}
		})
	}
}

func TestReverseLikertInvolution(t *testing.T) {
	reg := NewRegistry()
	data := map[string]interface{}{"scale_steps": float64(7)}

	first, err := reg.Score(ReverseLikert, &types.Result{GivenResponse: "2"}, data)
	if err != nil || first == nil {
		t.Fatalf("first application failed: %v", err)
	}
	if *first != 6 {
		t.Fatalf("reverse of 2 on 7 steps = %v, want 6", *first)
	}

	second, err := reg.Score(ReverseLikert, &types.Result{GivenResponse: "6"}, data)
	if err != nil || second == nil {
		t.Fatalf("second application failed: %v", err)
	}
	if *second != 2 {
		t.Fatalf("reverse of 6 on 7 steps = %v, want 2", *second)
	}
}

func TestRegisterCustomRule(t *testing.T) {
	reg := NewRegistry()
	reg.Register("DOUBLE", func(r *types.Result, _ map[string]interface{}) (*float64, error) {
		v := 2.0
		return &v, nil
	})
	got, err := reg.Score("DOUBLE", &types.Result{}, nil)
	if err != nil || got == nil || *got != 2 {
		t.Fatalf("custom rule dispatch failed: got=%v err=%v", got, err)
	}
}

func TestEmptyRuleNameScoresNothing(t *testing.T) {
	reg := NewRegistry()
	got, err := reg.Score("", &types.Result{}, nil)
	if err != nil || got != nil {
		t.Fatalf("empty rule name: got=%v err=%v, want nil/nil", got, err)
	}
}
