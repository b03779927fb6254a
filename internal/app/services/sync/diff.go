package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/pkg/logger"
)

// Engine computes minimal per-client update payloads from a last-seen serial
// cursor. Clients apply its outputs in ascending cursor order; doing so from
// cursor 0 reconstructs the catalog state exactly.
type Engine struct {
	store storage.CatalogStore
	log   *logger.Logger
}

// NewEngine constructs a diff engine over the catalog store.
func NewEngine(store storage.CatalogStore, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("sync")
	}
	return &Engine{store: store, log: log}
}

// ComputeUpdate builds the update payload for a client at the given cursor.
//
// Entries changed since the cursor are diffed field-by-field against the
// snapshot the client already holds; entries the client has never seen are
// sent in full. The returned serial is the catalog's current high-water mark.
// Updating lists the client's known apps whose cached front-end tag no longer
// matches the catalog, signalling that a fresh binary download is warranted
// even without a metadata change.
func (e *Engine) ComputeUpdate(ctx context.Context, cursor int64, known []KnownApp) (Update, error) {
	changed, err := e.store.ChangedSince(ctx, cursor)
	if err != nil {
		return Update{}, fmt.Errorf("changed since %d: %w", cursor, err)
	}

	ids := make([]string, 0, len(changed))
	for _, entry := range changed {
		ids = append(ids, entry.ID)
	}
	previous, err := e.store.SnapshotAt(ctx, ids, cursor)
	if err != nil {
		return Update{}, fmt.Errorf("snapshot at %d: %w", cursor, err)
	}

	changes := make(map[string]catalog.Delta, len(changed))
	for _, entry := range changed {
		if prev, seen := previous[entry.ID]; seen {
			changes[entry.AppID] = catalog.DiffDelta(prev, entry)
		} else {
			changes[entry.AppID] = entry.FullDelta()
		}
	}

	serial, err := e.store.LastSerial(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("last serial: %w", err)
	}

	updating, err := e.staleTags(ctx, known)
	if err != nil {
		return Update{}, err
	}

	e.log.WithField("cursor", cursor).
		WithField("changed", len(changes)).
		WithField("updating", len(updating)).
		Debug("computed client update")
	return NewUpdate(changes, serial, updating), nil
}

// staleTags returns the app ids among the client's known apps whose cached
// tag differs from the catalog's current tag_name.
func (e *Engine) staleTags(ctx context.Context, known []KnownApp) ([]string, error) {
	updating := []string{}
	for _, app := range known {
		entry, err := e.store.GetAppByAppID(ctx, app.AppID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", app.AppID, err)
		}
		if entry.Active && entry.TagName != "" && entry.TagName != app.Tag {
			updating = append(updating, app.AppID)
		}
	}
	return updating, nil
}

// LoadBundle reads an application's stored bundle for a download reply,
// returning the base64 data and display name.
func (e *Engine) LoadBundle(ctx context.Context, appID string) (data, name string, err error) {
	entry, err := e.store.GetAppByAppID(ctx, appID)
	if err != nil {
		return "", "", fmt.Errorf("lookup %s: %w", appID, err)
	}
	if !entry.Active {
		return "", "", fmt.Errorf("app %s is not published", appID)
	}
	if entry.BlobLocation == "" {
		return "", "", fmt.Errorf("app %s has no stored bundle", appID)
	}
	raw, err := os.ReadFile(entry.BlobLocation)
	if err != nil {
		return "", "", fmt.Errorf("read bundle of %s: %w", appID, err)
	}
	return base64.StdEncoding.EncodeToString(raw), entry.Name, nil
}
