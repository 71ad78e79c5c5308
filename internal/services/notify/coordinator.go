// Package notify is the refresh side of the workflow: clients poll
// ChangesSince with the last revision they saw, and a Relay forwards commits
// to a publisher so subscribers can refresh early.
package notify

import (
	"context"
	"fmt"

	"smartdine/internal/apperr"
	"smartdine/internal/models"
	"smartdine/internal/services/access"
	"smartdine/internal/services/command"
	"smartdine/internal/store"
)

// Coordinator answers change-feed queries from store snapshots. It never
// takes a writer lock.
type Coordinator struct {
	viewer store.Viewer
}

// NewCoordinator creates a coordinator over any store viewer
func NewCoordinator(v store.Viewer) *Coordinator {
	return &Coordinator{viewer: v}
}

// ChangesSince returns the entities of collection written after revision
// since, together with the collection's current revision. A since ahead of
// the store yields a reset with every entity.
func (c *Coordinator) ChangesSince(ctx context.Context, actor models.Actor, collection models.Collection, since int64) (store.ChangeSet, error) {
	if err := access.Check(actor, access.OpViewChanges, ""); err != nil {
		return store.ChangeSet{}, err
	}
	if !collection.Valid() {
		return store.ChangeSet{}, apperr.Validation("collection", fmt.Sprintf("unknown collection %q", collection))
	}
	if since < 0 {
		return store.ChangeSet{}, apperr.Validation("since", "revision must not be negative")
	}

	var cs store.ChangeSet
	err := command.View(ctx, c.viewer, func(r store.Reader) error {
		var err error
		cs, err = r.Changes(ctx, collection, since)
		return err
	})
	return cs, err
}

// Revisions returns the current revision of every collection, read from one
// snapshot.
func (c *Coordinator) Revisions(ctx context.Context, actor models.Actor) (map[models.Collection]int64, error) {
	if err := access.Check(actor, access.OpViewChanges, ""); err != nil {
		return nil, err
	}

	out := make(map[models.Collection]int64, len(models.Collections))
	err := command.View(ctx, c.viewer, func(r store.Reader) error {
		for _, col := range models.Collections {
			rev, err := r.Revision(ctx, col)
			if err != nil {
				return err
			}
			out[col] = rev
		}
		return nil
	})
	return out, err
}
