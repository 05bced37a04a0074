package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// releaseScript deletes the lock only while we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// extendScript refreshes the TTL only while we still own the lock.
const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// DistributedLock is a Redis-held lock keyed by a random token. It
// deduplicates recurring-schedule fires across broker instances; the TTL
// releases locks held by crashed holders.
type DistributedLock struct {
	store *storage.Store
	key   string
	token string
	ttl   time.Duration
}

// AcquireLock attempts to take the lock. Returns nil without error when
// another holder has it.
func AcquireLock(ctx context.Context, store *storage.Store, key string, ttl time.Duration) (*DistributedLock, error) {
	token := uuid.New().String()
	acquired, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	return &DistributedLock{
		store: store,
		key:   key,
		token: token,
		ttl:   ttl,
	}, nil
}

// Release deletes the lock if this instance still owns it. Releasing a
// lock that expired and was re-acquired elsewhere is a no-op.
func (l *DistributedLock) Release(ctx context.Context) error {
	_, err := l.store.Eval(ctx, "scheduler.lock.release", releaseScript, []string{l.key}, l.token)
	return err
}

// Extend pushes the TTL out for a long-running holder. Fails when the
// lock has expired and is no longer owned.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	const op = "scheduler.lock.extend"
	result, err := l.store.Eval(ctx, op, extendScript, []string{l.key}, l.token, ttl.Milliseconds())
	if err != nil {
		return err
	}
	if n, ok := result.(int64); !ok || n == 0 {
		return qerrors.New(qerrors.KindValidation, op, "lock no longer owned by this instance")
	}
	l.ttl = ttl
	return nil
}

// Key returns the Redis key for this lock.
func (l *DistributedLock) Key() string {
	return l.key
}

// TTL returns the lock time-to-live.
func (l *DistributedLock) TTL() time.Duration {
	return l.ttl
}
