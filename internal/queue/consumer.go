package queue

import (
	"context"
	"encoding/json"

	"kanban/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Consumer is the edge of the at-least-once pipeline: it records each event id once
// in event_receipts and treats redeliveries as already handled.
type Consumer struct {
	r   *kafka.Reader
	db  *gorm.DB
	log *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:  db,
		log: log,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancelled or reader closed
		}

		var ev Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("consumer unmarshal", zap.Error(err), zap.Int64("offset", m.Offset))
			continue
		}
		if err := ev.Validate(); err != nil {
			c.log.Warn("consumer invalid event", zap.Error(err), zap.Int64("offset", m.Offset))
			continue
		}

		fresh, err := RecordReceipt(ctx, c.db, ev)
		if err != nil {
			c.log.Error("consumer record receipt", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		if !fresh {
			c.log.Debug("consumer duplicate event", zap.String("event_id", ev.ID), zap.String("type", string(ev.Type)))
		}
	}
}

// RecordReceipt inserts the receipt row. It reports false when the event id was already recorded.
func RecordReceipt(ctx context.Context, db *gorm.DB, ev Event) (bool, error) {
	receipt := &model.EventReceipt{
		EventID:   ev.ID,
		EventType: string(ev.Type),
		TenantID:  ev.TenantID,
		CardID:    ev.CardID,
		Occurred:  ev.OccurredAt,
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(receipt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
