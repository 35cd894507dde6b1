package queue

import (
	"context"
	"encoding/json"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// StreamPublisher appends events to a Redis Stream outbox. The Relay forwards them to Kafka.
// XADD is a single round trip, so request handlers are not blocked on broker acks.
type StreamPublisher struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb *rd.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: 100000}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data := []byte("{}")
	if len(ev.Data) > 0 {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		data = b
	}
	return p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":    ev.ID,
			"type":        string(ev.Type),
			"tenant_id":   ev.TenantID,
			"card_id":     ev.CardID,
			"loop_id":     ev.LoopID,
			"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			"data":        string(data),
		},
	}).Err()
}
