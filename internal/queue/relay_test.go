package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStream = "kanban:test_events"

type switchPublisher struct {
	mu   sync.Mutex
	down bool
	got  []Event
}

func (p *switchPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return errors.New("kafka unavailable")
	}
	p.got = append(p.got, ev)
	return nil
}

func setupRelay(t *testing.T) (*rd.Client, *switchPublisher, *Relay) {
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	target := &switchPublisher{}
	relay := NewRelay(rdb, target, testStream, "relay-group", "relay-1", nil)
	require.NoError(t, relay.ensureGroup(context.Background()))
	// a second call sees BUSYGROUP and is still fine
	require.NoError(t, relay.ensureGroup(context.Background()))
	return rdb, target, relay
}

func TestRelay_ForwardsAndRetriesPending(t *testing.T) {
	rdb, target, relay := setupRelay(t)
	ctx := context.Background()
	pub := NewStreamPublisher(rdb, testStream)

	first := NewEvent(EventTransition, "tenant-1", "card-1", "loop-1", map[string]any{"toStage": "triggered"})
	second := NewEvent(EventQueueEntry, "tenant-1", "card-1", "loop-1", nil)
	require.NoError(t, pub.Publish(ctx, first))
	require.NoError(t, pub.Publish(ctx, second))

	target.down = true
	n, err := relay.pollOnce(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 2, rdb.XLen(ctx, testStream).Val(), "nothing is acked before a publish succeeds")

	target.down = false
	n, err = relay.pollOnce(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 0, rdb.XLen(ctx, testStream).Val())

	require.Len(t, target.got, 2)
	assert.Equal(t, first.ID, target.got[0].ID)
	assert.Equal(t, "triggered", target.got[0].Data["toStage"])
	assert.True(t, first.OccurredAt.Equal(target.got[0].OccurredAt))
	assert.Equal(t, second.ID, target.got[1].ID)
}

func TestRelay_DropsMalformedEntries(t *testing.T) {
	rdb, target, relay := setupRelay(t)
	ctx := context.Background()

	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: testStream,
		Values: map[string]any{"type": string(EventTransition), "tenant_id": "tenant-1"},
	}).Err())

	n, err := relay.pollOnce(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, target.got)
	assert.EqualValues(t, 0, rdb.XLen(ctx, testStream).Val())
}

func TestStreamPublisherRejectsInvalidEvents(t *testing.T) {
	rdb, _, _ := setupRelay(t)
	err := NewStreamPublisher(rdb, testStream).Publish(context.Background(), Event{ID: "x", Type: EventTransition})
	assert.Error(t, err)
}

func TestParseStreamEvent(t *testing.T) {
	ev, err := parseStreamEvent(map[string]interface{}{
		"event_id":    "e-1",
		"type":        "lifecycle.cycle_complete",
		"tenant_id":   "tenant-1",
		"card_id":     "card-1",
		"occurred_at": "2026-03-10T12:00:00.5Z",
		"data":        `{"cycleNumber":3}`,
	})
	require.NoError(t, err)
	assert.Equal(t, EventCycleComplete, ev.Type)
	assert.Equal(t, "card-1", ev.CardID)
	assert.Empty(t, ev.LoopID)
	assert.Equal(t, float64(3), ev.Data["cycleNumber"])

	_, err = parseStreamEvent(map[string]interface{}{
		"event_id": "e-1", "type": "lifecycle.transition", "tenant_id": "t", "occurred_at": "yesterday",
	})
	assert.Error(t, err)
}
