package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// consumeScript grants min(n, limit - used) units and returns the grant
var consumeScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local grant = math.min(tonumber(ARGV[2]), tonumber(ARGV[3]) - used)
if grant <= 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[1], grant)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return grant
`)

// QuotaStore keeps per-user daily counters in Redis hashes shared by every scanner process
type QuotaStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewQuotaStore creates a Redis quota repository. Counters expire after ttl.
func NewQuotaStore(rdb redis.Cmdable, prefix string, ttl time.Duration, logger *zap.Logger) *QuotaStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &QuotaStore{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (q *QuotaStore) key(userID, day string) string {
	return fmt.Sprintf("%squota:%s:%s", q.prefix, userID, day)
}

// GetQuotaUsage returns a user's counters for a day
func (q *QuotaStore) GetQuotaUsage(ctx context.Context, userID, day string) (*core.QuotaCounters, error) {
	values, err := q.rdb.HGetAll(ctx, q.key(userID, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	counters := &core.QuotaCounters{UserID: userID, Day: day}
	for _, kind := range []core.QuotaKind{core.QuotaEmails, core.QuotaClassifications, core.QuotaExtractions} {
		raw, ok := values[string(kind)]
		if !ok {
			continue
		}
		var n int
		if _, err := fmt.Sscan(raw, &n); err != nil {
			q.logger.Warn("Ignoring malformed quota counter",
				zap.String("user_id", userID),
				zap.String("kind", string(kind)),
				zap.String("value", raw))
			continue
		}
		counters.Add(kind, n)
	}
	return counters, nil
}

// ConsumeQuota atomically grants up to n units of kind without exceeding limit
func (q *QuotaStore) ConsumeQuota(ctx context.Context, userID, day string, kind core.QuotaKind, n, limit int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	granted, err := consumeScript.Run(ctx, q.rdb,
		[]string{q.key(userID, day)},
		string(kind), n, limit, int(q.ttl.Seconds()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to consume %s quota: %w", kind, err)
	}
	return granted, nil
}
