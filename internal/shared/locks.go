package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// SettlementLockKey builds the redis key serializing delivery settlement per invoice.
func SettlementLockKey(invoiceID int64) string {
	return fmt.Sprintf("settlement:invoice:%d:lock", invoiceID)
}

// LedgerLockKey builds the redis key serializing ledger rebuilds per stock cell.
func LedgerLockKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("ledger:cell:%d:%d:lock", warehouseID, itemID)
}

// Locker wraps redislock for critical sections that must not run twice.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker on top of a redis client.
func NewLocker(rdb redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: redislock.New(rdb), ttl: ttl}
}

// Release frees an obtained lock.
type Release func()

// Acquire obtains the lock for key or returns ErrLockNotObtained when another
// holder has it. The returned Release must be called once the critical
// section ends.
func (l *Locker) Acquire(ctx context.Context, key string) (Release, error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}, nil
}
