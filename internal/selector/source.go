package selector

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-lab/earshot-backend/internal/types"
)

// Source separates "where randomness comes from" out of the selection
// algorithms, so deterministic experiment variants and tests can supply a
// seeded generator while random variants use real entropy. The algorithms
// themselves are identical code paths either way.
type Source interface {
	Intn(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

func (s *lockedSource) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.Shuffle(n, swap)
}

// NewEntropySource returns a Source seeded from the clock. Safe for use from
// concurrent request handlers.
func NewEntropySource() Source {
	return &lockedSource{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSeededSource returns a reproducible Source. Same seed, same sequence.
func NewSeededSource(seed int64) Source {
	return &lockedSource{r: rand.New(rand.NewSource(seed))}
}

// PlaylistSeed derives a stable shuffle seed from playlist contents alone, so
// "fixed" experiment variants order identically across sessions on the same
// playlist. FNV-1a over the playlist id plus every section id; no wall clock
// anywhere.
func PlaylistSeed(playlistID uuid.UUID, sections []*types.Section) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(playlistID.String()))
	for _, s := range sections {
		_, _ = h.Write([]byte(s.ID.String()))
	}
	return int64(h.Sum64())
}
