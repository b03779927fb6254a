package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
	"github.com/webxdc/storebot/internal/app/storage"
)

// ImportReport summarizes a bulk import.
type ImportReport struct {
	Added   []string
	Updated []string
	Ignored []string
	Failed  map[string]error
}

// ImportDir ingests every .xdc bundle in dir directly into the catalog as an
// active entry, bypassing the submission workflow. Operator tooling only.
//
// Complete entries with a new app_id are added; a known app_id with a changed
// version is updated; unchanged bundles are ignored; incomplete or unreadable
// bundles are reported as failed without touching the catalog.
func (s *Service) ImportDir(ctx context.Context, store storage.CatalogStore, dir string) (ImportReport, error) {
	report := ImportReport{Failed: map[string]error{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("read import dir: %w", err)
	}

	for _, dirent := range entries {
		if dirent.IsDir() || !strings.HasSuffix(dirent.Name(), ".xdc") {
			continue
		}
		path := filepath.Join(dir, dirent.Name())

		res, err := s.Ingest(ctx, catalog.AppEntry{Active: true, Date: time.Now().UTC()}, path)
		if err != nil {
			report.Failed[path] = err
			continue
		}
		if res.ManifestMissing || res.Entry.AppID == "" {
			report.Failed[path] = ErrManifestMissing
			continue
		}
		if missing := res.Entry.MissingFields(); len(missing) > 0 {
			report.Failed[path] = fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
			continue
		}

		existing, err := store.GetAppByAppID(ctx, res.Entry.AppID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if _, err := store.CreateApp(ctx, res.Entry); err != nil {
				report.Failed[path] = err
				continue
			}
			report.Added = append(report.Added, path)
		case err != nil:
			report.Failed[path] = err
		case existing.Version == res.Entry.Version:
			report.Ignored = append(report.Ignored, path)
		default:
			merged := res.Entry
			merged.ID = existing.ID
			merged.OriginatorChat = existing.OriginatorChat
			merged.Date = time.Now().UTC()
			if _, err := store.UpdateApp(ctx, merged); err != nil {
				report.Failed[path] = err
				continue
			}
			report.Updated = append(report.Updated, path)
		}
	}
	return report, nil
}
