package actions

import (
	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/types"
)

// View tags tell the presentation layer what to render. The engine is
// agnostic to rendering; an Action only carries the data a view needs.
type View string

const (
	ViewConsent   View = "CONSENT"
	ViewExplainer View = "EXPLAINER"
	ViewPlaylist  View = "PLAYLIST"
	ViewTrial     View = "TRIAL"
	ViewScore     View = "SCORE"
	ViewFinal     View = "FINAL"
)

type Action struct {
	View View                   `json:"view"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func Consent(text string) Action {
	return Action{View: ViewConsent, Data: map[string]interface{}{
		"text": text,
	}}
}

func Explainer(instruction string, steps []string, buttonLabel string) Action {
	return Action{View: ViewExplainer, Data: map[string]interface{}{
		"instruction":  instruction,
		"steps":        steps,
		"button_label": buttonLabel,
	}}
}

func Playlist(playlists []*types.Playlist) Action {
	items := make([]map[string]interface{}, 0, len(playlists))
	for _, p := range playlists {
		items = append(items, map[string]interface{}{
			"id":   p.ID,
			"name": p.Name,
		})
	}
	return Action{View: ViewPlaylist, Data: map[string]interface{}{
		"playlists": items,
	}}
}

// TrialConfig carries the presentation parameters a trial view needs. Config
// values echoed back by the client land in the result data blob, which is
// why scoring rules read timeout from there.
type TrialConfig struct {
	ResultID       uuid.UUID              `json:"result_id"`
	QuestionKey    string                 `json:"question_key"`
	QuestionText   string                 `json:"question_text,omitempty"`
	Choices        []string               `json:"choices,omitempty"`
	ResponseTime   float64                `json:"response_time,omitempty"`
	PlaybackOffset float64                `json:"playback_offset,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

func Trial(title string, sections []*types.Section, cfg TrialConfig) Action {
	items := make([]map[string]interface{}, 0, len(sections))
	for _, s := range sections {
		items = append(items, map[string]interface{}{
			"id":         s.ID,
			"artist":     s.SongArtist,
			"name":       s.SongName,
			"filename":   s.Filename,
			"start_time": s.StartTime,
			"duration":   s.Duration,
			"tag":        s.Tag,
			"group":      s.Group,
		})
	}
	return Action{View: ViewTrial, Data: map[string]interface{}{
		"title":    title,
		"sections": items,
		"config":   cfg,
	}}
}

func Score(lastScore float64, totalScore float64, text string) Action {
	return Action{View: ViewScore, Data: map[string]interface{}{
		"last_score":  lastScore,
		"total_score": totalScore,
		"text":        text,
	}}
}

func Final(finalScore float64, rank string, percentile float64, text string) Action {
	return Action{View: ViewFinal, Data: map[string]interface{}{
		"final_score": finalScore,
		"rank":        rank,
		"percentile":  percentile,
		"text":        text,
	}}
}
