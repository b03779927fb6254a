package ingest

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeBundle creates a zip bundle with the given files in a temp dir.
func writeBundle(t *testing.T, name string, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
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
	return path
}

const testManifest = `app_id = "com.example.calc"
version = "1.2.0"
name = "Calculator"
description = "A calculator"
source_code_url = "https://example.org/calc"
tag_name = "v1"
`

func TestZipReaderParsesManifestAndIcon(t *testing.T) {
	path := writeBundle(t, "calc.xdc", map[string][]byte{
		"manifest.toml": []byte(testManifest),
		"icon.png":      []byte("png-bytes"),
		"index.html":    []byte("<html></html>"),
	})

	manifest, icon, err := ZipReader{}.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if manifest.AppID != "com.example.calc" || manifest.Version != "1.2.0" {
		t.Fatalf("manifest = %+v", manifest)
	}
	if manifest.TagName != "v1" {
		t.Fatalf("tag_name = %q, want v1", manifest.TagName)
	}
	if string(icon) != "png-bytes" {
		t.Fatalf("icon = %q", icon)
	}
}

func TestZipReaderPrefersPNGIcon(t *testing.T) {
	path := writeBundle(t, "calc.xdc", map[string][]byte{
		"manifest.toml": []byte(testManifest),
		"icon.jpg":      []byte("jpg-bytes"),
		"icon.png":      []byte("png-bytes"),
	})

	_, icon, err := ZipReader{}.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(icon) != "png-bytes" {
		t.Fatalf("icon = %q, want the png", icon)
	}
}

func TestZipReaderMissingManifest(t *testing.T) {
	path := writeBundle(t, "noman.xdc", map[string][]byte{
		"icon.png": []byte("png-bytes"),
	})

	_, icon, err := ZipReader{}.Open(path)
	if !errors.Is(err, ErrManifestMissing) {
		t.Fatalf("want ErrManifestMissing, got %v", err)
	}
	if string(icon) != "png-bytes" {
		t.Fatal("icon must still be extracted without a manifest")
	}
}

func TestZipReaderCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.xdc")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	_, _, err := ZipReader{}.Open(path)
	if !errors.Is(err, ErrArchiveCorrupt) {
		t.Fatalf("want ErrArchiveCorrupt, got %v", err)
	}
}

func TestZipReaderBadManifestTOML(t *testing.T) {
	path := writeBundle(t, "bad.xdc", map[string][]byte{
		"manifest.toml": []byte("app_id = [broken"),
	})

	_, _, err := ZipReader{}.Open(path)
	if !errors.Is(err, ErrArchiveCorrupt) {
		t.Fatalf("want ErrArchiveCorrupt for a bad manifest, got %v", err)
	}
}
