package sync

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/storage"
)

func publish(t *testing.T, store *storage.Memory, entry catalog.AppEntry) catalog.AppEntry {
	t.Helper()
	entry.Active = true
	created, err := store.CreateApp(context.Background(), entry)
	if err != nil {
		t.Fatalf("publish %s: %v", entry.AppID, err)
	}
	return created
}

func TestComputeUpdateNewClientGetsFullDelta(t *testing.T) {
	store := storage.NewMemory()
	publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", Name: "Calc",
		Description: "A calculator", SourceCodeURL: "https://example.org",
		Image: "aWNvbg==",
	})
	engine := NewEngine(store, nil)

	upd, err := engine.ComputeUpdate(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if upd.Serial != 1 {
		t.Fatalf("serial = %d, want 1", upd.Serial)
	}
	delta, ok := upd.Changes["com.example.calc"]
	if !ok {
		t.Fatalf("changes = %v, want the published app", upd.Changes)
	}
	if delta["name"] != "Calc" || delta["version"] != "1.0" {
		t.Fatalf("delta = %v", delta)
	}
	if _, present := delta["submitter_uri"]; present {
		t.Fatal("absent optional fields must be omitted for new clients")
	}
	if len(upd.Updating) != 0 {
		t.Fatalf("updating = %v, want empty", upd.Updating)
	}
}

func TestComputeUpdateReturningClientGetsFieldDiff(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	entry := publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", Name: "Calc", Description: "Old",
	})
	cursor := entry.Serial

	entry.Description = "New"
	if _, err := store.UpdateApp(ctx, entry); err != nil {
		t.Fatalf("update: %v", err)
	}

	upd, err := NewEngine(store, nil).ComputeUpdate(ctx, cursor, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := catalog.Delta{
		"app_id":      "com.example.calc",
		"version":     "1.0",
		"description": "New",
	}
	if !reflect.DeepEqual(upd.Changes["com.example.calc"], want) {
		t.Fatalf("delta = %v, want %v", upd.Changes["com.example.calc"], want)
	}
}

func TestComputeUpdateTombstonesDroppedFields(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	entry := publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", SubmitterURI: "mailto:x@y",
	})
	cursor := entry.Serial

	entry.SubmitterURI = ""
	if _, err := store.UpdateApp(ctx, entry); err != nil {
		t.Fatalf("update: %v", err)
	}

	upd, err := NewEngine(store, nil).ComputeUpdate(ctx, cursor, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	delta := upd.Changes["com.example.calc"]
	v, present := delta["submitter_uri"]
	if !present || v != nil {
		t.Fatalf("delta = %v, want an explicit nil for submitter_uri", delta)
	}
}

func TestComputeUpdateDraftsAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	if _, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.draft"}); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	upd, err := NewEngine(store, nil).ComputeUpdate(ctx, 0, nil)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(upd.Changes) != 0 {
		t.Fatalf("changes = %v, drafts must never sync", upd.Changes)
	}
}

func TestComputeUpdateReportsStaleTags(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	entry := publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", TagName: "v2",
	})

	known := []KnownApp{
		{AppID: "com.example.calc", Tag: "v1"},
		{AppID: "com.example.unknown", Tag: "v1"},
	}
	upd, err := NewEngine(store, nil).ComputeUpdate(ctx, entry.Serial, known)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(upd.Updating) != 1 || upd.Updating[0] != "com.example.calc" {
		t.Fatalf("updating = %v, want the stale app only", upd.Updating)
	}
}

// applyDelta plays an update into a client-side state map the way front-ends
// apply changes: set present fields, delete tombstoned ones.
func applyDelta(state map[string]map[string]any, changes map[string]catalog.Delta) {
	for appID, delta := range changes {
		fields, ok := state[appID]
		if !ok {
			fields = map[string]any{}
			state[appID] = fields
		}
		for name, value := range delta {
			if value == nil {
				delete(fields, name)
			} else {
				fields[name] = value
			}
		}
	}
}

func TestIncrementalUpdatesConvergeToFullState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	engine := NewEngine(store, nil)

	entry := publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", Name: "Calc",
		Description: "Old", SubmitterURI: "mailto:x@y",
	})

	// Client A syncs at every step.
	incremental := map[string]map[string]any{}
	upd, err := engine.ComputeUpdate(ctx, 0, nil)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	applyDelta(incremental, upd.Changes)

	entry.Description = "New"
	entry.SubmitterURI = ""
	entry.Version = "1.1"
	if _, err := store.UpdateApp(ctx, entry); err != nil {
		t.Fatalf("update entry: %v", err)
	}
	upd, err = engine.ComputeUpdate(ctx, upd.Serial, nil)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	applyDelta(incremental, upd.Changes)

	// Client B syncs once from scratch.
	fresh := map[string]map[string]any{}
	upd, err = engine.ComputeUpdate(ctx, 0, nil)
	if err != nil {
		t.Fatalf("fresh update: %v", err)
	}
	applyDelta(fresh, upd.Changes)

	if !reflect.DeepEqual(incremental, fresh) {
		t.Fatalf("states diverged:\nincremental: %v\nfresh:       %v", incremental, fresh)
	}
}

func TestLoadBundle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	blob := filepath.Join(t.TempDir(), "calc.xdc")
	if err := os.WriteFile(blob, []byte("bundle-bytes"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	publish(t, store, catalog.AppEntry{
		AppID: "com.example.calc", Version: "1.0", Name: "Calc", BlobLocation: blob,
	})
	if _, err := store.CreateApp(ctx, catalog.AppEntry{AppID: "com.example.draft"}); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	engine := NewEngine(store, nil)

	data, name, err := engine.LoadBundle(ctx, "com.example.calc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if name != "Calc" || data != base64.StdEncoding.EncodeToString([]byte("bundle-bytes")) {
		t.Fatalf("bundle = %q, %q", name, data)
	}

	if _, _, err := engine.LoadBundle(ctx, "com.example.draft"); err == nil {
		t.Fatal("unpublished apps must not be downloadable")
	}
	if _, _, err := engine.LoadBundle(ctx, "com.example.missing"); err == nil {
		t.Fatal("unknown apps must not be downloadable")
	}
}
