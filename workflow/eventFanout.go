package workflow

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/sirupsen/logrus"
)

// The fan-out path is deliberately decoupled from the transactions that
// append events: a bounded channel feeds a dispatcher goroutine that pushes
// sanitized envelopes to Pub/Sub. A full channel drops the envelope (and
// logs) rather than ever blocking a command.

type EventFanout struct {
	Logger *logrus.Logger
	ch     chan config.EventEnvelope
}

var (
	fanout   *EventFanout
	fanoutMu sync.Mutex
)

// StartEventFanout installs the process-wide fan-out and starts its
// dispatcher. Safe to call once from main.
func StartEventFanout(ctx context.Context, logger *logrus.Logger) *EventFanout {
	fanoutMu.Lock()
	defer fanoutMu.Unlock()
	if fanout != nil {
		return fanout
	}
	f := &EventFanout{
		Logger: logger,
		ch:     make(chan config.EventEnvelope, fanoutBufferFromEnv()),
	}
	fanout = f
	go f.run(ctx)
	return f
}

// PublishEventAsync enqueues one event for fan-out. Nil events (failed
// appends already handled by the caller) and a missing fanout (tests,
// CLI tools) are no-ops.
func PublishEventAsync(ev *models.Event) {
	fanoutMu.Lock()
	f := fanout
	fanoutMu.Unlock()
	if f == nil || ev == nil {
		return
	}
	env := config.EventEnvelope{
		ID:            ev.ID,
		Type:          ev.Type,
		AggregateId:   ev.AggregateId,
		AggregateType: ev.AggregateType,
		OccurredAt:    ev.OccurredAt,
		Data:          ev.Data,
		CorrelationId: ev.CorrelationId,
	}
	select {
	case f.ch <- env:
	default:
		f.Logger.WithFields(logrus.Fields{
			"module":   "eventFanout.go",
			"event_id": ev.ID,
			"type":     ev.Type,
		}).Warn("fanout buffer full, envelope dropped")
	}
}

func fanoutBufferFromEnv() int {
	v := strings.TrimSpace(os.Getenv("EVENT_FANOUT_BUFFER"))
	if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 256
}

func (f *EventFanout) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-f.ch:
			if _, err := config.PublishEventEnvelope(ctx, env); err != nil {
				config.LogError(f.Logger, "eventFanout.go", "run", "PublishEventEnvelope", env.ID, err)
			}
		}
	}
}
