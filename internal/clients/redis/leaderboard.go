package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/earshot-lab/earshot-backend/internal/logger"
)

// Leaderboard caches the final-score list of a block so percentile ranking
// does not rescan every session row on each finish screen. It is a pure
// read-through accelerator: callers fall back to the store on miss and the
// engine runs fine with a nil client.
type Leaderboard interface {
	GetBlockScores(ctx context.Context, blockID uuid.UUID) ([]float64, bool)
	SetBlockScores(ctx context.Context, blockID uuid.UUID, scores []float64)
	InvalidateBlock(ctx context.Context, blockID uuid.UUID)
	Close() error
}

type leaderboard struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewLeaderboard(log *logger.Logger) (Leaderboard, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &leaderboard{
		log: log.With("client", "RedisLeaderboard"),
		rdb: rdb,
		ttl: 5 * time.Minute,
	}, nil
}

func blockKey(blockID uuid.UUID) string {
	return "leaderboard:block:" + blockID.String()
}

func (l *leaderboard) GetBlockScores(ctx context.Context, blockID uuid.UUID) ([]float64, bool) {
	raw, err := l.rdb.Get(ctx, blockKey(blockID)).Bytes()
	if err != nil {
		return nil, false
	}
	var scores []float64
	if err := json.Unmarshal(raw, &scores); err != nil {
		l.log.Warn("corrupt leaderboard cache entry, dropping", "block_id", blockID, "error", err)
		_ = l.rdb.Del(ctx, blockKey(blockID)).Err()
		return nil, false
	}
	return scores, true
}

func (l *leaderboard) SetBlockScores(ctx context.Context, blockID uuid.UUID, scores []float64) {
	raw, err := json.Marshal(scores)
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, blockKey(blockID), raw, l.ttl).Err(); err != nil {
		l.log.Warn("leaderboard cache write failed", "block_id", blockID, "error", err)
	}
}

func (l *leaderboard) InvalidateBlock(ctx context.Context, blockID uuid.UUID) {
	if err := l.rdb.Del(ctx, blockKey(blockID)).Err(); err != nil {
		l.log.Warn("leaderboard cache invalidation failed", "block_id", blockID, "error", err)
	}
}

func (l *leaderboard) Close() error {
	return l.rdb.Close()
}
