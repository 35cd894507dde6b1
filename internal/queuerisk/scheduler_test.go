package queuerisk

import (
	"context"
	"errors"
	"testing"
	"time"

	rediskey "kanban/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_SkipsTenantsLockedElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := redislock.New(rdb)
	ctx := context.Background()

	_, high := AgeThresholds(nil, nil)
	src := &fakeSource{cards: map[string][]TriggeredCard{
		"tenant-a": {queued("a1", time.Duration(high)*time.Hour)},
		"tenant-b": {queued("b1", time.Duration(high)*time.Hour)},
	}}
	pub := &capturePublisher{}
	scanner := NewScanner(src, pub, nil).WithClock(func() time.Time { return scanNow })
	sched := NewScheduler(scanner, src, locker, time.Minute, 30*time.Second, 10, nil)

	// another replica holds tenant-a
	held, err := locker.Obtain(ctx, rediskey.QueueRiskLockKey("tenant-a"), time.Minute, nil)
	require.NoError(t, err)

	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"tenant-b"}, src.scanned)
	require.Len(t, pub.events, 1)
	assert.Equal(t, "b1", pub.events[0].CardID)

	// tenant-b stays locked for the rest of the TTL
	assert.True(t, mr.Exists(rediskey.QueueRiskLockKey("tenant-b")))

	// a second replica ticking moments later only picks up the tenant that was free
	require.NoError(t, held.Release(ctx))
	replica := NewScheduler(scanner, src, locker, time.Minute, 30*time.Second, 10, nil)
	n, err = replica.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.events, 2)
	assert.Equal(t, "a1", pub.events[1].CardID)

	mr.FastForward(31 * time.Second)
	n, err = sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScheduler_FailedScanReleasesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	src := &fakeSource{cards: map[string][]TriggeredCard{"tenant-a": nil}, loadErr: errors.New("db down")}
	sched := NewScheduler(NewScanner(src, nil, nil), src, redislock.New(rdb), time.Minute, 30*time.Second, 10, nil)

	n, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, mr.Exists(rediskey.QueueRiskLockKey("tenant-a")))
}

func TestScheduler_RunsWithoutLocker(t *testing.T) {
	src := &fakeSource{cards: map[string][]TriggeredCard{"tenant-a": nil}}
	sched := NewScheduler(NewScanner(src, nil, nil), src, nil, 0, time.Minute, 10, nil)

	n, err := sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a zero interval disables the loop
	done := make(chan struct{})
	go func() {
		sched.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when the interval is zero")
	}
}
