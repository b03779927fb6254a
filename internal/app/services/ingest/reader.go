// Package ingest turns submitted application bundles into catalog entry
// updates. Archive parsing is behind the Reader interface; the default
// implementation reads zip bundles with a TOML manifest.
package ingest

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// ErrArchiveCorrupt means the bundle could not be opened at all. Fatal to the
// ingestion attempt.
var ErrArchiveCorrupt = errors.New("ingest: archive corrupt")

// ErrManifestMissing means the bundle has no manifest entry. Ingestion still
// succeeds partially: identity fields stay unset.
var ErrManifestMissing = errors.New("ingest: manifest missing")

// Manifest is the declarative metadata a bundle carries.
type Manifest struct {
	AppID         string `toml:"app_id"`
	Version       string `toml:"version"`
	Name          string `toml:"name"`
	Description   string `toml:"description"`
	SourceCodeURL string `toml:"source_code_url"`
	SubmitterURI  string `toml:"submitter_uri"`
	TagName       string `toml:"tag_name"`
}

// Reader is the archive-reader capability.
type Reader interface {
	// Open extracts the manifest and the optional icon from a bundle.
	// Returns ErrArchiveCorrupt when the bundle cannot be opened and
	// ErrManifestMissing when it opens but carries no manifest; in the
	// latter case the icon is still returned when present.
	Open(path string) (Manifest, []byte, error)
}

const (
	manifestName = "manifest.toml"
	iconPNG      = "icon.png"
	iconJPG      = "icon.jpg"
)

// ZipReader reads zip bundles from the filesystem.
type ZipReader struct{}

var _ Reader = ZipReader{}

func (ZipReader) Open(path string) (Manifest, []byte, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	defer archive.Close()

	var (
		manifestFile *zip.File
		iconFile     *zip.File
	)
	for _, f := range archive.File {
		switch f.Name {
		case manifestName:
			manifestFile = f
		case iconPNG, iconJPG:
			if iconFile == nil || f.Name == iconPNG {
				iconFile = f
			}
		}
	}

	var icon []byte
	if iconFile != nil {
		icon, err = readZipFile(iconFile)
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
		}
	}

	if manifestFile == nil {
		return Manifest{}, icon, ErrManifestMissing
	}

	raw, err := readZipFile(manifestFile)
	if err != nil {
		return Manifest{}, icon, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}

	var manifest Manifest
	if err := toml.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, icon, fmt.Errorf("%w: %s: bad manifest: %v", ErrArchiveCorrupt, path, err)
	}
	return manifest, icon, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
