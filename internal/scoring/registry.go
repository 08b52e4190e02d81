package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// Rule names stored on results and referenced by block configuration.
const (
	Correctness         = "CORRECTNESS"
	Boolean             = "BOOLEAN"
	Likert              = "LIKERT"
	ReverseLikert       = "REVERSE_LIKERT"
	CategoriesToLikert  = "CATEGORIES_TO_LIKERT"
	ReactionTime        = "REACTION_TIME"
	SongSyncRecognition = "SONG_SYNC_RECOGNITION"
	SongSyncContinue    = "SONG_SYNC_CONTINUATION"
)

// Rule turns a result plus its submitted data blob into a score. Rules are
// pure: no I/O, no state. A nil score with a nil error means the rule scores
// nothing by itself (two-step continuation scoring).
type Rule func(result *types.Result, data map[string]interface{}) (*float64, error)

// Registry is the fixed mapping from scoring-rule name to rule function.
// It is built once at process start and injected, so tests can register
// custom rules without touching shared global state.
type Registry struct {
	rules map[string]Rule
}

func NewRegistry() *Registry {
	r := &Registry{rules: map[string]Rule{}}
	r.Register(Correctness, scoreCorrectness)
	r.Register(Boolean, scoreBoolean)
	r.Register(Likert, scoreLikert)
	r.Register(ReverseLikert, scoreReverseLikert)
	r.Register(CategoriesToLikert, scoreCategoriesToLikert)
	r.Register(ReactionTime, scoreReactionTime)
	r.Register(SongSyncRecognition, scoreSongSyncRecognition)
	// The continuation rule never produces a score for its own result; the
	// sign flip on the sibling recognition result is applied transactionally
	// by the session service.
	r.Register(SongSyncContinue, func(*types.Result, map[string]interface{}) (*float64, error) {
		return nil, nil
	})
	return r
}

func (r *Registry) Register(name string, rule Rule) {
	r.rules[name] = rule
}

func (r *Registry) Has(name string) bool {
	_, ok := r.rules[name]
	return ok
}

// Score dispatches to the named rule. An empty rule name scores nothing,
// which covers purely informational results.
func (r *Registry) Score(name string, result *types.Result, data map[string]interface{}) (*float64, error) {
	if name == "" {
		return nil, nil
	}
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("scoring rule %q: %w", name, apperr.ErrUnknownScoringRule)
	}
	return rule(result, data)
}

func scoreCorrectness(result *types.Result, _ map[string]interface{}) (*float64, error) {
	if result.GivenResponse == result.ExpectedResponse {
		return ptr(1), nil
	}
	return ptr(0), nil
}

func scoreBoolean(result *types.Result, _ map[string]interface{}) (*float64, error) {
	if result.GivenResponse == "yes" {
		return ptr(1), nil
	}
	return ptr(0), nil
}

func scoreLikert(result *types.Result, _ map[string]interface{}) (*float64, error) {
	v, err := numericResponse(result)
	if err != nil {
		return nil, err
	}
	return ptr(v), nil
}

func scoreReverseLikert(result *types.Result, data map[string]interface{}) (*float64, error) {
	v, err := numericResponse(result)
	if err != nil {
		return nil, err
	}
	steps, ok := number(data, "scale_steps")
	if !ok {
		steps = 7
	}
	return ptr(steps + 1 - v), nil
}

func scoreCategoriesToLikert(result *types.Result, data map[string]interface{}) (*float64, error) {
	raw, ok := data["choices"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%s requires a choices list: %w", CategoriesToLikert, apperr.ErrInvalidSubmission)
	}
	for i, c := range raw {
		key, _ := c.(string)
		if key == result.GivenResponse {
			return ptr(float64(i + 1)), nil
		}
	}
	return nil, fmt.Errorf("%s: choice %q not among presented choices: %w", CategoriesToLikert, result.GivenResponse, apperr.ErrInvalidSubmission)
}

func scoreReactionTime(result *types.Result, data map[string]interface{}) (*float64, error) {
	decisionTime, ok := number(data, "decision_time")
	if !ok {
		return nil, fmt.Errorf("%s requires decision_time: %w", ReactionTime, apperr.ErrInvalidSubmission)
	}
	timeout, ok := number(data, "timeout")
	if !ok {
		return nil, fmt.Errorf("%s requires timeout: %w", ReactionTime, apperr.ErrInvalidSubmission)
	}
	if result.GivenResponse == result.ExpectedResponse {
		return ptr(math.Ceil(timeout - decisionTime)), nil
	}
	// Wrong answers score negative, with faster wrong answers more negative.
	return ptr(math.Floor(-decisionTime)), nil
}

func scoreSongSyncRecognition(result *types.Result, data map[string]interface{}) (*float64, error) {
	if result.GivenResponse == "no" || result.GivenResponse == "TIMEOUT" || result.GivenResponse == "" {
		return ptr(0), nil
	}
	decisionTime, ok := number(data, "decision_time")
	if !ok {
		return nil, fmt.Errorf("%s requires decision_time: %w", SongSyncRecognition, apperr.ErrInvalidSubmission)
	}
	timeout, ok := number(data, "timeout")
	if !ok {
		return nil, fmt.Errorf("%s requires timeout: %w", SongSyncRecognition, apperr.ErrInvalidSubmission)
	}
	return ptr(math.Ceil(timeout - decisionTime)), nil
}

func numericResponse(result *types.Result) (float64, error) {
	v, err := strconv.ParseFloat(result.GivenResponse, 64)
	if err != nil {
		return 0, fmt.Errorf("response %q is not numeric: %w", result.GivenResponse, apperr.ErrInvalidSubmission)
	}
	return v, nil
}

func number(data map[string]interface{}, key string) (float64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func ptr(v float64) *float64 { return &v }
