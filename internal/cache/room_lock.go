package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout means the room's lock could not be acquired in time. It is
// retryable at the infrastructure level; callers must abort the operation,
// never proceed without the lock.
var ErrLockTimeout = errors.New("room lock acquisition timed out")

// RoomLocker serializes read-modify-write cycles on a room's state across
// processes. Lock returns an unlock func scoped to the acquisition.
type RoomLocker interface {
	Lock(ctx context.Context, code string) (func() error, error)
}

type roomLocker struct {
	rs      *redsync.Redsync
	expiry  time.Duration
	retries int
}

// NewRoomLocker creates a Redis-backed distributed locker. The expiry is
// the backstop against a crashed holder; critical sections are expected to
// be far shorter.
func NewRoomLocker(client *redis.Client, expiry time.Duration, retries int) RoomLocker {
	pool := goredis.NewPool(client)
	return &roomLocker{
		rs:      redsync.New(pool),
		expiry:  expiry,
		retries: retries,
	}
}

func (l *roomLocker) Lock(ctx context.Context, code string) (func() error, error) {
	mutex := l.rs.NewMutex(
		fmt.Sprintf("battle:lock:%s", code),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.retries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	unlock := func() error {
		_, err := mutex.UnlockContext(ctx)
		return err
	}
	return unlock, nil
}
