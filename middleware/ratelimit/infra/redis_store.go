package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Scripts Lua: cada decisão é um único round trip atômico no Redis.
var (
	incrWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

	incrSlidingScript = redis.NewScript(`
local cur = redis.call('INCR', KEYS[1])
if cur == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
return {cur, prev}
`)

	takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
-- relógio de outra instância atrasado: ts nunca volta no tempo
if now < ts then
  now = ts
end
local elapsed = now - ts
if elapsed > 0 then
  tokens = tokens + (elapsed * capacity / window)
end
if tokens > capacity then
  tokens = capacity
end
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], window)
return {allowed, tostring(tokens)}
`)

	decrScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

	returnTokenScript = redis.NewScript(`
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
if tokens == nil then
  return 0
end
tokens = tokens + 1
local capacity = tonumber(ARGV[1])
if tokens > capacity then
  tokens = capacity
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens))
return 1
`)
)

// RedisStore é o CounterStore compartilhado entre instâncias do gateway.
type RedisStore struct {
	rdb       redis.UniversalClient
	scanCount int64
}

var _ domain.CounterStore = (*RedisStore)(nil)

type RedisStoreOption func(*RedisStore)

// WithScanCount ajusta o COUNT usado no SCAN do reset administrativo.
func WithScanCount(n int64) RedisStoreOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, scanCount: 500}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout também limita o ping inicial.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DialRedis cria o client e valida a conexão com um ping.
func DialRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis address is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrWindowScript.Run(ctx, s.rdb, []string{key}, ttlMillis(ttl)).Int64()
	if err != nil {
		return 0, storeErr("incr window", err)
	}
	return n, nil
}

func (s *RedisStore) IncrSliding(ctx context.Context, current, previous string, ttl time.Duration) (int64, int64, error) {
	vals, err := incrSlidingScript.Run(ctx, s.rdb, []string{current, previous}, ttlMillis(ttl)).Int64Slice()
	if err != nil {
		return 0, 0, storeErr("incr sliding", err)
	}
	if len(vals) != 2 {
		return 0, 0, storeErr("incr sliding", fmt.Errorf("unexpected reply length %d", len(vals)))
	}
	return vals[0], vals[1], nil
}

func (s *RedisStore) TakeToken(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (bool, float64, error) {
	vals, err := takeTokenScript.Run(ctx, s.rdb, []string{key}, capacity, ttlMillis(window), now.UnixMilli()).Slice()
	if err != nil {
		return false, 0, storeErr("take token", err)
	}
	if len(vals) != 2 {
		return false, 0, storeErr("take token", fmt.Errorf("unexpected reply length %d", len(vals)))
	}

	allowed, _ := vals[0].(int64)
	raw, _ := vals[1].(string)
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, storeErr("take token", err)
	}
	return allowed == 1, tokens, nil
}

func (s *RedisStore) Decr(ctx context.Context, key string) error {
	if err := decrScript.Run(ctx, s.rdb, []string{key}).Err(); err != nil {
		return storeErr("decr", err)
	}
	return nil
}

func (s *RedisStore) ReturnToken(ctx context.Context, key string, capacity int) error {
	if err := returnTokenScript.Run(ctx, s.rdb, []string{key}, capacity).Err(); err != nil {
		return storeErr("return token", err)
	}
	return nil
}

// DeleteMatching varre com SCAN (nunca KEYS) e remove em lotes.
// Em cluster, varre cada master e remove chave a chave, já que um lote do
// SCAN pode misturar slots e um DEL com várias chaves daria CROSSSLOT.
func (s *RedisStore) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	if cc, ok := s.rdb.(*redis.ClusterClient); ok {
		// ForEachMaster roda em paralelo.
		var total atomic.Int64
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := s.deleteMatching(ctx, node, pattern, true)
			total.Add(int64(n))
			return err
		})
		return int(total.Load()), err
	}
	return s.deleteMatching(ctx, s.rdb, pattern, false)
}

func (s *RedisStore) deleteMatching(ctx context.Context, c redis.Cmdable, pattern string, perKey bool) (int, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return int(total), storeErr("scan", err)
		}
		if len(keys) > 0 {
			n, err := del(ctx, c, keys, perKey)
			if err != nil {
				return int(total), storeErr("del", err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			return int(total), nil
		}
	}
}

func del(ctx context.Context, c redis.Cmdable, keys []string, perKey bool) (int64, error) {
	if !perKey {
		return c.Del(ctx, keys...).Result()
	}
	pipe := c.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, cmd := range cmds {
		n += cmd.Val()
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func ttlMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
