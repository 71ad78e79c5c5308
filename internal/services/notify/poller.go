package notify

import (
	"context"
	"fmt"
	"time"

	"smartdine/internal/logger"
	"smartdine/internal/models"
	"smartdine/internal/store"
)

// Poller follows one collection the way a terminal does: it calls
// ChangesSince on every tick and hands non-empty change sets to a handler.
type Poller struct {
	coord      *Coordinator
	actor      models.Actor
	collection models.Collection
	interval   time.Duration
	logger     *logger.Logger
	since      int64
}

// NewPoller creates a poller starting at revision 0, so the first poll
// delivers the whole collection.
func NewPoller(coord *Coordinator, actor models.Actor, collection models.Collection, interval time.Duration, log *logger.Logger) *Poller {
	return &Poller{
		coord:      coord,
		actor:      actor,
		collection: collection,
		interval:   interval,
		logger:     log,
	}
}

// Since returns the last revision delivered to the handler
func (p *Poller) Since() int64 {
	return p.since
}

// Poll runs one ChangesSince round and advances the cursor
func (p *Poller) Poll(ctx context.Context, handle func(store.ChangeSet) error) error {
	cs, err := p.coord.ChangesSince(ctx, p.actor, p.collection, p.since)
	if err != nil {
		return err
	}
	if cs.Reset {
		p.logger.Warn("poll_reset", fmt.Sprintf("Revision %d is ahead of %s, reloading", p.since, p.collection), "", map[string]interface{}{
			"collection": string(p.collection),
			"revision":   cs.Revision,
		})
	}
	if cs.Revision == p.since && !cs.Reset {
		return nil
	}

	if err := handle(cs); err != nil {
		return err
	}
	p.since = cs.Revision
	return nil
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on the
// next tick; the cursor does not move past a failed round.
func (p *Poller) Run(ctx context.Context, handle func(store.ChangeSet) error) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("poll_failed", fmt.Sprintf("Failed to poll %s", p.collection), "", err, map[string]interface{}{
				"collection": string(p.collection),
				"since":      p.since,
			})
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
