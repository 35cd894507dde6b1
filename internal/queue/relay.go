package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay forwards events from the Redis Stream outbox to the downstream publisher.
// A stream entry is acked only after a successful publish; on failure it stays pending and is retried.
type Relay struct {
	rdb    *rd.Client
	target Publisher
	log    *zap.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, target Publisher, stream, group, consumer string, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		rdb:      rdb,
		target:   target,
		log:      log,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Error("relay ensure group", zap.Error(err))
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.pollOnce(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			r.log.Warn("relay poll", zap.Error(err))
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// pollOnce drains this consumer's pending entries first, then reads new ones.
// It returns how many entries were forwarded.
func (r *Relay) pollOnce(ctx context.Context, block time.Duration) (int, error) {
	// a negative block omits BLOCK; the pending history never waits
	msgs, err := r.readGroup(ctx, "0", -1)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		msgs, err = r.readGroup(ctx, ">", block)
		if err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	forwarded := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			// stop the batch so ordering within the stream is kept
			r.log.Warn("relay process message", zap.String("stream_id", xm.ID), zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			break
		}
		forwarded++
	}
	return forwarded, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	ev, err := parseStreamEvent(xm.Values)
	if err != nil {
		// poison entries are dropped so they cannot block the stream
		r.log.Warn("relay drop malformed entry", zap.String("stream_id", xm.ID), zap.Error(err))
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.target.Publish(pubCtx, ev); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseStreamEvent(values map[string]interface{}) (Event, error) {
	id, err := getStreamString(values, "event_id")
	if err != nil {
		return Event{}, err
	}
	typ, err := getStreamString(values, "type")
	if err != nil {
		return Event{}, err
	}
	tenantID, err := getStreamString(values, "tenant_id")
	if err != nil {
		return Event{}, err
	}
	occurredStr, err := getStreamString(values, "occurred_at")
	if err != nil {
		return Event{}, err
	}
	occurred, err := time.Parse(time.RFC3339Nano, occurredStr)
	if err != nil {
		return Event{}, fmt.Errorf("invalid occurred_at %q", occurredStr)
	}

	ev := Event{
		ID:         id,
		Type:       EventType(typ),
		TenantID:   tenantID,
		OccurredAt: occurred,
	}
	// optional fields
	ev.CardID, _ = getStreamString(values, "card_id")
	ev.LoopID, _ = getStreamString(values, "loop_id")
	if raw, err := getStreamString(values, "data"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Data); err != nil {
			return Event{}, fmt.Errorf("invalid data: %w", err)
		}
	}

	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
