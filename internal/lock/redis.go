package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld = errors.New("lock is held by another instance")
	ErrLockLost = errors.New("lock was lost")
)

var lockLogger = logger.GetForComponent("instance_lock")

// unlockLua deletes the key only when it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only when the key still carries the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Manager hands out single-holder locks backed by Redis SET NX with a TTL.
type Manager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

func NewManager(cfg Config) *Manager {
	return NewManagerFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}))
}

func NewManagerFromClient(rdb *redis.Client) *Manager {
	return &Manager{
		rdb:       rdb,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

// Ping checks the connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

func (m *Manager) Close() error {
	return m.rdb.Close()
}

// Key is the lock key for one vault.
func Key(vault common.Address) string {
	return "vault:" + strings.ToLower(vault.Hex())
}

func lockKey(key string) string {
	return "lock:" + key
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	m     *Manager
	key   string
	token string
	ttl   time.Duration

	once sync.Once
}

// Acquire takes the lock for key or returns ErrLockHeld.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := m.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, errors.Join(ErrLockHeld, fmt.Errorf("key %s", lk))
	}

	lockLogger.Info().Str("key", lk).Dur("ttl", ttl).Msg("Acquire: lock acquired")
	return &Lock{m: m, key: lk, token: token, ttl: ttl}, nil
}

// Refresh extends the TTL. It returns ErrLockLost when another holder owns the key.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := l.m.refreshSc.Run(ctx, l.m.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return errors.Join(ErrLockLost, fmt.Errorf("key %s", l.key))
	}
	return nil
}

// KeepAlive refreshes the lock every ttl/3 until ctx ends or the lock is lost.
func (l *Lock) KeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(refreshInterval(l.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Refresh(ctx); err != nil {
				if errors.Is(err, ErrLockLost) {
					return err
				}
				lockLogger.Warn().Err(err).Str("key", l.key).Msg("KeepAlive: refresh failed, retrying")
			}
		}
	}
}

// Release deletes the key if this holder still owns it.
func (l *Lock) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.m.unlockSc.Run(ctx, l.m.rdb, []string{l.key}, l.token).Err(); err != nil {
			lockLogger.Warn().Err(err).Str("key", l.key).Msg("Release: unlock failed, key will expire")
			return
		}
		lockLogger.Info().Str("key", l.key).Msg("Release: lock released")
	})
}

func refreshInterval(ttl time.Duration) time.Duration {
	d := ttl / 3
	if d < time.Second {
		return time.Second
	}
	return d
}
