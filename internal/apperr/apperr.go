package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound covers unknown sessions, blocks, playlists and sections.
	ErrNotFound = errors.New("not found")
	// ErrSessionFinished is returned on any write against a finished session.
	ErrSessionFinished = errors.New("session already finished")
	// ErrInvalidSubmission is returned when a submitted payload is missing
	// required fields or cannot be interpreted by the scoring rule.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrUnknownScoringRule is a configuration error: a block references a
	// scoring rule that was never registered.
	ErrUnknownScoringRule = errors.New("unknown scoring rule")
	// ErrConcurrentModification is returned when an optimistic update of the
	// session row lost against a concurrent writer.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNoEligibleStimulus is returned when a selector exhausted all
	// candidates under its constraints.
	ErrNoEligibleStimulus = errors.New("no eligible stimulus")
	// ErrPhaseComplete signals that a participant finished every block of a
	// phase. Not a failure.
	ErrPhaseComplete = errors.New("phase complete")
)

// Status maps an engine error onto the HTTP status the thin handler layer
// should respond with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionFinished):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidSubmission):
		return http.StatusBadRequest
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ErrNoEligibleStimulus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnknownScoringRule):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
