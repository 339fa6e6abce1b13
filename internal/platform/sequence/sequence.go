// Package sequence issues monotonically increasing counters for queue
// tokens and human-readable request/call numbers.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NumberOffset is added to a counter before it is printed, so the first
// number of a year is 10001.
const NumberOffset = 10000

// Sequencer hands out the next value for a key.
type Sequencer interface {
	Next(ctx context.Context, key string) (int64, error)
	Current(ctx context.Context, key string) (int64, error)
}

// DailyKey returns prefix:YYYY-MM-DD for t.
func DailyKey(prefix string, t time.Time) string {
	return prefix + ":" + t.Format("2006-01-02")
}

// YearlyKey returns prefix:YYYY for t.
func YearlyKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s:%04d", prefix, t.Year())
}

// FormatNumber renders PREFIX-YYYY-NNNNN with n offset by NumberOffset.
func FormatNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%05d", strings.ToUpper(prefix), year, n+NumberOffset)
}

// NextNumber draws the next yearly value for prefix and formats it.
func NextNumber(ctx context.Context, s Sequencer, prefix string, now time.Time) (string, error) {
	n, err := s.Next(ctx, YearlyKey(strings.ToLower(prefix), now))
	if err != nil {
		return "", err
	}
	return FormatNumber(prefix, now.Year(), n), nil
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// Floor returns the highest value already issued for key, usually read back
// from stored numbers. Zero means nothing has been issued.
type Floor func(ctx context.Context, key string) (int64, error)

// Raiser is a Sequencer that can skip ahead. Raise leaves the counter at
// max(current, n).
type Raiser interface {
	Raise(ctx context.Context, key string, n int64) error
}

// Seeded wraps seq so the first use of each key in this process raises the
// counter to floor. Counters that were lost (a restart of the in-memory
// sequencer, a flushed Redis) then continue after the last stored number.
func Seeded(seq Sequencer, floor Floor) Sequencer {
	return &seeded{seq: seq, floor: floor, done: map[string]bool{}}
}

type seeded struct {
	seq   Sequencer
	floor Floor

	mu   sync.Mutex
	done map[string]bool
}

func (s *seeded) seed(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done[key] {
		return nil
	}
	r, ok := s.seq.(Raiser)
	if !ok {
		s.done[key] = true
		return nil
	}
	n, err := s.floor(ctx, key)
	if err != nil {
		return fmt.Errorf("seed %s: %w", key, err)
	}
	if n > 0 {
		if err := r.Raise(ctx, key, n); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	s.done[key] = true
	return nil
}

func (s *seeded) Next(ctx context.Context, key string) (int64, error) {
	if err := s.seed(ctx, key); err != nil {
		return 0, err
	}
	return s.seq.Next(ctx, key)
}

func (s *seeded) Current(ctx context.Context, key string) (int64, error) {
	if err := s.seed(ctx, key); err != nil {
		return 0, err
	}
	return s.seq.Current(ctx, key)
}

// YearlyFloor adapts maxNumber, which returns the highest stored suffix of
// numbers starting with "PREFIX-YYYY-", into a Floor for NextNumber keys.
func YearlyFloor(prefix string, maxNumber func(ctx context.Context, numberPrefix string) (int64, error)) Floor {
	return func(ctx context.Context, key string) (int64, error) {
		i := strings.LastIndexByte(key, ':')
		if i < 0 {
			return 0, fmt.Errorf("not a yearly key: %s", key)
		}
		year, err := strconv.Atoi(key[i+1:])
		if err != nil {
			return 0, fmt.Errorf("not a yearly key: %s", key)
		}
		n, err := maxNumber(ctx, fmt.Sprintf("%s-%04d-", strings.ToUpper(prefix), year))
		if err != nil {
			return 0, err
		}
		if n -= NumberOffset; n < 0 {
			n = 0
		}
		return n, nil
	}
}

// DailyFloor adapts maxForDay into a Floor for DailyKey keys.
func DailyFloor(maxForDay func(ctx context.Context, day time.Time) (int64, error)) Floor {
	return func(ctx context.Context, key string) (int64, error) {
		if len(key) < len("2006-01-02") {
			return 0, fmt.Errorf("not a daily key: %s", key)
		}
		day, err := time.Parse("2006-01-02", key[len(key)-len("2006-01-02"):])
		if err != nil {
			return 0, fmt.Errorf("not a daily key: %s", key)
		}
		return maxForDay(ctx, day)
	}
}

// ---------------------------------------------------------------------------
// MemorySequencer
// ---------------------------------------------------------------------------

// MemorySequencer keeps counters in process. Counters do not survive a
// restart; wrap it with Seeded to continue from stored numbers.
type MemorySequencer struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{counters: make(map[string]int64)}
}

func (m *MemorySequencer) Next(_ context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("sequence key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemorySequencer) Current(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}

func (m *MemorySequencer) Raise(_ context.Context, key string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[key] < n {
		m.counters[key] = n
	}
	return nil
}

// ---------------------------------------------------------------------------
// RedisSequencer
// ---------------------------------------------------------------------------

const redisKeyPrefix = "hmis:seq:"

// RedisSequencer uses INCR so every server instance shares one counter.
// Keys expire ttl after their first increment.
type RedisSequencer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSequencer returns a sequencer on client. A ttl of zero keeps keys
// forever.
func NewRedisSequencer(client *redis.Client, ttl time.Duration) *RedisSequencer {
	return &RedisSequencer{client: client, ttl: ttl}
}

func (r *RedisSequencer) Next(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("sequence key is required")
	}
	k := redisKeyPrefix + key
	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if n == 1 && r.ttl > 0 {
		if err := r.client.Expire(ctx, k, r.ttl).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return n, nil
}

func (r *RedisSequencer) Current(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, redisKeyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return n, nil
}

// raiseScript sets KEYS[1] to ARGV[1] when it is lower, keeping any expiry.
// A new key gets the ttl in ARGV[2] milliseconds (0 for none).
var raiseScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if cur >= n then return cur end
local pttl = redis.call('PTTL', KEYS[1])
redis.call('SET', KEYS[1], n)
if pttl > 0 then
	redis.call('PEXPIRE', KEYS[1], pttl)
elseif pttl == -2 and tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

func (r *RedisSequencer) Raise(ctx context.Context, key string, n int64) error {
	if err := raiseScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, n, r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("raise %s: %w", key, err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
