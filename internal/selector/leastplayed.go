package selector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/earshot-lab/earshot-backend/internal/apperr"
	"github.com/earshot-lab/earshot-backend/internal/types"
)

// ConditionQuestionKey is the sentinel question key under which rules record
// which (condition, difficulty) pair a round presented. Play counts for
// fairness balancing are derived from result history filtered on this key.
const ConditionQuestionKey = "condition"

// Pair is one (condition, difficulty) cell of an experiment design.
type Pair struct {
	Condition  string
	Difficulty int
}

func (p Pair) String() string {
	return p.Condition + ":" + strconv.Itoa(p.Difficulty)
}

// ParsePair is the inverse of Pair.String.
func ParsePair(s string) (Pair, bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Pair{}, false
	}
	d, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Pair{}, false
	}
	return Pair{Condition: s[:idx], Difficulty: d}, true
}

// LeastPlayed picks uniformly at random among the candidate pairs with the
// minimum play count. This is greedy round-robin balancing: once every pair
// has been played the minimum is taken over the full history, it is never
// reset to zero. With no history every pair is equally eligible.
func LeastPlayed(candidates []Pair, counts map[Pair]int, src Source) (Pair, error) {
	if len(candidates) == 0 {
		return Pair{}, fmt.Errorf("least-played selection over empty candidate set: %w", apperr.ErrNoEligibleStimulus)
	}
	min := -1
	for _, c := range candidates {
		n := counts[c]
		if min < 0 || n < min {
			min = n
		}
	}
	eligible := make([]Pair, 0, len(candidates))
	for _, c := range candidates {
		if counts[c] == min {
			eligible = append(eligible, c)
		}
	}
	return eligible[src.Intn(len(eligible))], nil
}

// PairPlayCounts tallies prior plays per pair from result history, counting
// only rows recorded under the condition sentinel question key.
func PairPlayCounts(results []*types.Result) map[Pair]int {
	counts := map[Pair]int{}
	for _, r := range results {
		if r.QuestionKey != ConditionQuestionKey {
			continue
		}
		p, ok := ParsePair(r.GivenResponse)
		if !ok {
			continue
		}
		counts[p]++
	}
	return counts
}

// LeastPlayedSong picks n song labels preferring those with the fewest prior
// plays, the same balancing principle keyed by song identity. Ties inside a
// count bucket break uniformly at random.
func LeastPlayedSong(labels []string, counts map[string]int, n int, src Source) ([]string, error) {
	if len(labels) < n || n <= 0 {
		return nil, fmt.Errorf("need %d songs, playlist offers %d: %w", n, len(labels), apperr.ErrNoEligibleStimulus)
	}
	shuffled := make([]string, len(labels))
	copy(shuffled, labels)
	src.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	// Stable sort on play count after the shuffle: least played first, ties
	// stay in random order.
	sort.SliceStable(shuffled, func(i, j int) bool {
		return counts[shuffled[i]] < counts[shuffled[j]]
	})
	return shuffled[:n], nil
}

// ExcludeSeen filters out sections already presented to the session.
func ExcludeSeen(sections []*types.Section, seen map[string]bool) []*types.Section {
	out := make([]*types.Section, 0, len(sections))
	for _, s := range sections {
		if seen[s.ID.String()] {
			continue
		}
		out = append(out, s)
	}
	return out
}
