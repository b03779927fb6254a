package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/pkg/logger"
)

// Service merges bundle contents into catalog entries. Manifest-sourced
// fields always overwrite entity fields; bot-assigned fields (originator,
// active, blob location) are preserved across ingestion.
type Service struct {
	reader Reader
	log    *logger.Logger
}

// New constructs an ingestion service. A nil reader defaults to ZipReader.
func New(reader Reader, log *logger.Logger) *Service {
	if reader == nil {
		reader = ZipReader{}
	}
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	return &Service{reader: reader, log: log}
}

// AppIDChangedError reports a bundle whose manifest names a different
// application than the entry it was merged against. app_id is immutable, so
// the caller starts a fresh entry for the bundle instead of mutating this one.
type AppIDChangedError struct {
	EntryAppID  string
	BundleAppID string
}

func (e *AppIDChangedError) Error() string {
	return fmt.Sprintf("ingest: bundle app_id %q does not match entry app_id %q",
		e.BundleAppID, e.EntryAppID)
}

// Result reports what one ingestion changed.
type Result struct {
	// Entry is the merged entry. Not yet persisted by this service.
	Entry catalog.AppEntry
	// Upgraded is true when the manifest version differs from the stored one.
	Upgraded bool
	// Changed is true when any client-visible field changed.
	Changed bool
	// ManifestMissing is true when the bundle had no manifest; identity
	// fields were left unset and only the icon and blob were merged.
	ManifestMissing bool
}

// Ingest reads the bundle at path and merges it into entry.
// ErrArchiveCorrupt aborts the attempt; prior state is untouched.
func (s *Service) Ingest(_ context.Context, entry catalog.AppEntry, path string) (Result, error) {
	manifest, icon, err := s.reader.Open(path)
	manifestMissing := errors.Is(err, ErrManifestMissing)
	if err != nil && !manifestMissing {
		return Result{}, err
	}

	res := Result{ManifestMissing: manifestMissing}

	if !manifestMissing {
		if entry.AppID != "" && manifest.AppID != "" && manifest.AppID != entry.AppID {
			return Result{}, &AppIDChangedError{EntryAppID: entry.AppID, BundleAppID: manifest.AppID}
		}
		assign(&entry.AppID, manifest.AppID, &res.Changed)
		if manifest.Version != "" && manifest.Version != entry.Version {
			entry.Version = manifest.Version
			res.Upgraded = true
			res.Changed = true
		}
		assign(&entry.Name, manifest.Name, &res.Changed)
		assign(&entry.Description, manifest.Description, &res.Changed)
		assign(&entry.SourceCodeURL, manifest.SourceCodeURL, &res.Changed)
		assign(&entry.SubmitterURI, manifest.SubmitterURI, &res.Changed)
		assign(&entry.TagName, manifest.TagName, &res.Changed)
	}

	if len(icon) > 0 {
		assign(&entry.Image, base64.StdEncoding.EncodeToString(icon), &res.Changed)
	}

	if entry.BlobLocation != path {
		entry.BlobLocation = path
		res.Changed = true
	}
	if info, err := os.Stat(path); err == nil && entry.Size != info.Size() {
		entry.Size = info.Size()
		res.Changed = true
	}

	res.Entry = entry

	s.log.WithField("app_id", entry.AppID).
		WithField("upgraded", res.Upgraded).
		Debugf("ingested bundle %s", path)
	return res, nil
}

// assign overwrites dst with src when src is set and differs.
func assign(dst *string, src string, changed *bool) {
	if src != "" && src != *dst {
		*dst = src
		*changed = true
	}
}
