package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Minute)
}

func TestLockerMutualExclusion(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, SettlementLockKey(42))
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, SettlementLockKey(42))
	require.ErrorIs(t, err, ErrLockNotObtained)

	release()

	release2, err := locker.Acquire(ctx, SettlementLockKey(42))
	require.NoError(t, err)
	release2()
}

func TestLockerIndependentKeys(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, SettlementLockKey(1))
	require.NoError(t, err)
	defer release1()

	release2, err := locker.Acquire(ctx, SettlementLockKey(2))
	require.NoError(t, err)
	defer release2()

	release3, err := locker.Acquire(ctx, LedgerLockKey(1, 1))
	require.NoError(t, err)
	defer release3()
}

func TestLockerNilIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), SettlementLockKey(1))
	require.NoError(t, err)
	release()
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "settlement:invoice:7:lock", SettlementLockKey(7))
	require.Equal(t, "ledger:cell:2:9:lock", LedgerLockKey(2, 9))
}
