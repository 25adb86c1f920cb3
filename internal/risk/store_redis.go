package risk

import (
	"arbiter/internal/model"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLeaseTTL   = 30 * time.Second
	lockRetryInterval = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// saveScript writes the state only while the caller's token holds the lease.
var saveScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[2], ARGV[2])
	return 1
end
return 0`)

// RedisStore shares governor state between instances. State lives as JSON
// under one key; a lease key taken with SET NX PX makes each governor
// operation a single writer across the deployment. Held leases are renewed
// every third of their TTL and every write is fenced on the lease token.
type RedisStore struct {
	rdb      *redis.Client
	stateKey string
	lockKey  string
	leaseTTL time.Duration
}

// NewRedisStore creates a store using keys under prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		rdb:      rdb,
		stateKey: prefix + "governor:state",
		lockKey:  prefix + "governor:lock",
		leaseTTL: defaultLeaseTTL,
	}
}

// Lock blocks until the lease is acquired or ctx is done.
func (s *RedisStore) Lock(ctx context.Context) (Lease, error) {
	token := uuid.NewString()
	for {
		ok, err := s.rdb.SetNX(ctx, s.lockKey, token, s.leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lease: %w", err)
		}
		if ok {
			l := &redisLease{s: s, token: token, stop: make(chan struct{}), done: make(chan struct{})}
			go l.renew()
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *RedisStore) Load(ctx context.Context) (model.GovernorState, bool, error) {
	raw, err := s.rdb.Get(ctx, s.stateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.GovernorState{}, false, nil
	}
	if err != nil {
		return model.GovernorState{}, false, err
	}
	var st model.GovernorState
	if err := json.Unmarshal(raw, &st); err != nil {
		return model.GovernorState{}, false, fmt.Errorf("decode governor state: %w", err)
	}
	return st, true, nil
}

type redisLease struct {
	s     *RedisStore
	token string
	once  sync.Once
	stop  chan struct{}
	done  chan struct{}
}

// renew extends the lease until Release or until the token no longer owns it.
func (l *redisLease) renew() {
	defer close(l.done)
	interval := l.s.leaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewScript.Run(ctx, l.s.rdb, []string{l.s.lockKey}, l.token, l.s.leaseTTL.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

func (l *redisLease) Save(ctx context.Context, st model.GovernorState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	n, err := saveScript.Run(ctx, l.s.rdb, []string{l.s.lockKey, l.s.stateKey}, l.token, raw).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	n, err := releaseScript.Run(ctx, l.s.rdb, []string{l.s.lockKey}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
