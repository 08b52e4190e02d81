package selector

import (
	"fmt"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// OriginalCondition is the tag marking an untransformed section.
const OriginalCondition = "Original"

// MatchingPairs builds the stimulus list for an n-pair matching trial.
//
// Songs are chosen by least-played balancing over the participant's history.
// Under the original condition each chosen song contributes two copies of its
// original section, a true pair. Under a degraded condition each chosen song
// contributes the transformed section plus the matching original section of
// the same song, so both sides of a pair always share the song even when
// conditions differ.
//
// The returned order is shuffled with the supplied source; pass a seeded
// source (see PlaylistSeed) for fixed variants and an entropy source for
// random ones.
func MatchingPairs(sections []*types.Section, n int, condition string, songCounts map[string]int, src Source) ([]*types.Section, error) {
	bySong := map[string][]*types.Section{}
	labels := make([]string, 0)
	for _, s := range sections {
		label := s.SongLabel()
		if _, seen := bySong[label]; !seen {
			labels = append(labels, label)
		}
		bySong[label] = append(bySong[label], s)
	}

	songs, err := LeastPlayedSong(labels, songCounts, n, src)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Section, 0, 2*n)
	for _, label := range songs {
		original := findByTag(bySong[label], OriginalCondition)
		if original == nil {
			return nil, fmt.Errorf("song %q has no %s section: %w", label, OriginalCondition, apperr.ErrNoEligibleStimulus)
		}
		if condition == OriginalCondition {
			out = append(out, original, original)
			continue
		}
		degraded := findByTag(bySong[label], condition)
		if degraded == nil {
			return nil, fmt.Errorf("song %q has no %q section: %w", label, condition, apperr.ErrNoEligibleStimulus)
		}
		out = append(out, degraded, original)
	}

	src.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out, nil
}

// SongPlayCounts tallies how often the participant has been presented each
// song, from the result rows that reference a section.
func SongPlayCounts(results []*types.Result) map[string]int {
	counts := map[string]int{}
	for _, r := range results {
		if r.Section == nil {
			continue
		}
		counts[r.Section.SongLabel()]++
	}
	return counts
}

func findByTag(sections []*types.Section, tag string) *types.Section {
	for _, s := range sections {
		if s.Tag == tag {
			return s
		}
	}
	return nil
}
