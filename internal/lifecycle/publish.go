package lifecycle

import (
	"context"
	"fmt"

	"kanban/internal/queue"

	"go.uber.org/zap"
)

// eventBuilder constructs one event. A nil event with a nil error means "nothing to send".
type eventBuilder func(ctx context.Context) (*queue.Event, error)

// publishBestEffort builds and publishes each event independently. A failing or panicking
// builder is logged and the remaining events still go out.
// It returns how many events were handed to the publisher successfully.
func publishBestEffort(ctx context.Context, pub queue.Publisher, log *zap.Logger, builders ...eventBuilder) int {
	if pub == nil {
		return 0
	}
	sent := 0
	for i, build := range builders {
		ok, err := publishOne(ctx, pub, build)
		if err != nil {
			log.Warn("event publish failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent
}

func publishOne(ctx context.Context, pub queue.Publisher, build eventBuilder) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	ev, err := build(ctx)
	if err != nil {
		return false, fmt.Errorf("build: %w", err)
	}
	if ev == nil {
		return false, nil
	}
	if err := pub.Publish(ctx, *ev); err != nil {
		return false, fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return true, nil
}
