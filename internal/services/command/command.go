// Package command runs workflow commands against the store with the
// bookkeeping every command shares: typed error wrapping, metrics and logs.
package command

import (
	"context"
	"errors"
	"time"

	"smartdine/internal/apperr"
	"smartdine/internal/logger"
	"smartdine/internal/observability"
	"smartdine/internal/store"
)

// Run executes fn as one atomic unit holding keys. Any error leaving Run is an
// *apperr.Error.
func Run(ctx context.Context, st store.Store, log *logger.Logger, name string, keys []store.Key, fn func(tx store.Tx) error) (store.Commit, error) {
	start := time.Now()
	commit, err := st.Update(ctx, keys, fn)
	err = apperr.Wrap(err)
	observability.RecordCommand(name, err, time.Since(start))

	if err != nil {
		fields := map[string]interface{}{"command": name, "kind": apperr.KindOf(err).String()}
		if apperr.KindOf(err) == apperr.KindStorage {
			log.Error("command_failed", "Command failed in storage", "", err, fields)
		} else {
			log.Debug("command_rejected", err.Error(), "", fields)
		}
		return store.Commit{}, err
	}

	for c, rev := range commit.Revisions {
		observability.RecordRevision(c, rev)
	}
	if !commit.Empty() {
		log.Debug("command_committed", "Command committed", "", map[string]interface{}{
			"command":   name,
			"revisions": commit.Revisions,
		})
	}
	return commit, nil
}

// View runs a read-only query and wraps failures as typed errors.
func View(ctx context.Context, v store.Viewer, fn func(r store.Reader) error) error {
	return apperr.Wrap(v.View(ctx, fn))
}

// Lookup turns store.ErrNotFound into a NotFoundError for entity and id.
func Lookup(err error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(entity, id)
	}
	return err
}
