package notify

import (
	"context"
	"fmt"
	"time"

	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/observability"
	"smartdine/internal/store"
)

const defaultRelayBuffer = 256

// Publisher delivers change events to subscribers
type Publisher interface {
	PublishChange(ctx context.Context, event models.ChangeEvent) error
}

// Relay turns store commits into ChangeEvents and hands them to a Publisher
// off the mutation path. When the buffer is full the event is dropped;
// polling still delivers the change.
type Relay struct {
	publisher Publisher
	logger    *logger.Logger
	events    chan models.ChangeEvent
	now       func() time.Time
}

// NewRelay creates a relay with the given buffer size (0 means the default)
func NewRelay(publisher Publisher, log *logger.Logger, buffer int) *Relay {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	return &Relay{
		publisher: publisher,
		logger:    log,
		events:    make(chan models.ChangeEvent, buffer),
		now:       time.Now,
	}
}

// Attach registers the relay as a commit hook of st
func (r *Relay) Attach(st store.Store) {
	st.OnCommit(r.OnCommit)
}

// OnCommit queues one event per collection written by the commit. It never
// blocks.
func (r *Relay) OnCommit(c store.Commit) {
	for _, event := range Events(c, r.now()) {
		select {
		case r.events <- event:
		default:
			observability.RecordRelayDrop()
			r.logger.Warn("relay_dropped", fmt.Sprintf("Relay buffer full, dropped %s revision %d", event.Collection, event.Revision), "", nil)
		}
	}
}

// Run publishes queued events until ctx is cancelled. Publish failures are
// logged and the event is skipped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-r.events:
			if err := r.publisher.PublishChange(ctx, event); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("relay_publish_failed", "Failed to publish change event", "", err, map[string]interface{}{
					"collection": string(event.Collection),
					"revision":   event.Revision,
				})
			}
		}
	}
}

// Events splits a commit into per-collection change events in collection
// order.
func Events(c store.Commit, at time.Time) []models.ChangeEvent {
	var out []models.ChangeEvent
	for _, col := range models.Collections {
		ids, ok := c.Changed[col]
		if !ok {
			continue
		}
		event := models.ChangeEvent{
			Collection: col,
			Revision:   c.Revisions[col],
			EntityIDs:  ids,
			Timestamp:  at.UTC(),
		}
		for _, h := range c.History {
			if h.Collection == col {
				event.Transitions = append(event.Transitions, h)
			}
		}
		out = append(out, event)
	}
	return out
}
