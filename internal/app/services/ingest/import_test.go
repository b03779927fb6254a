package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/webxdc/storebot/internal/app/storage"
)

func writeBundleAt(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	w := zip.NewWriter(f)
	for fname, data := range files {
		fw, err := w.Create(fname)
		if err != nil {
			t.Fatalf("add %s: %v", fname, err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write %s: %v", fname, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func manifestTOML(appID, version string) []byte {
	return []byte(`app_id = "` + appID + `"
version = "` + version + `"
name = "App ` + appID + `"
description = "An app"
source_code_url = "https://example.org/src"
`)
}

func TestImportDir(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	svc := New(nil, nil)
	dir := t.TempDir()

	writeBundleAt(t, filepath.Join(dir, "good.xdc"), map[string][]byte{
		"manifest.toml": manifestTOML("com.example.good", "1.0"),
		"icon.png":      []byte("icon"),
	})
	// Missing icon and description, fails the completeness check.
	writeBundleAt(t, filepath.Join(dir, "incomplete.xdc"), map[string][]byte{
		"manifest.toml": []byte("app_id = \"com.example.bad\"\nversion = \"1.0\"\n"),
	})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	report, err := svc.ImportDir(ctx, store, dir)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(report.Added) != 1 || len(report.Failed) != 1 {
		t.Fatalf("report = %+v, want 1 added and 1 failed", report)
	}

	entry, err := store.GetAppByAppID(ctx, "com.example.good")
	if err != nil {
		t.Fatalf("imported entry missing: %v", err)
	}
	if !entry.Active {
		t.Fatal("imported entries must be published immediately")
	}

	// Re-importing the same version is a no-op.
	report, err = svc.ImportDir(ctx, store, dir)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if len(report.Ignored) != 1 || len(report.Added) != 0 {
		t.Fatalf("report = %+v, want the unchanged bundle ignored", report)
	}

	// A version bump updates the existing entry in place.
	writeBundleAt(t, filepath.Join(dir, "good.xdc"), map[string][]byte{
		"manifest.toml": manifestTOML("com.example.good", "2.0"),
		"icon.png":      []byte("icon"),
	})
	report, err = svc.ImportDir(ctx, store, dir)
	if err != nil {
		t.Fatalf("upgrade import: %v", err)
	}
	if len(report.Updated) != 1 {
		t.Fatalf("report = %+v, want the bundle updated", report)
	}
	upgraded, err := store.GetAppByAppID(ctx, "com.example.good")
	if err != nil {
		t.Fatalf("get upgraded: %v", err)
	}
	if upgraded.Version != "2.0" || upgraded.ID != entry.ID {
		t.Fatalf("upgraded = %+v, want version 2.0 on the same entry", upgraded)
	}
	if upgraded.Serial <= entry.Serial {
		t.Fatal("an update must advance the entry's serial")
	}
}
