// Package catalog defines the application catalog entity model and the
// field-level diff rules used by the synchronization engine.
package catalog

import "time"

// AppEntry is one cataloged application. A draft entry is created when a
// submission session opens and is filled in by manifest ingestion and review
// edits; it becomes visible to clients once Active flips to true at release.
type AppEntry struct {
	// ID is the store-internal primary key. Drafts have an ID before the
	// first bundle upload assigns an AppID.
	ID string `json:"-"`

	// AppID is the stable application identifier from the manifest.
	// Immutable and unique once set.
	AppID string `json:"app_id"`

	// Version is the display version from the manifest. A change here marks
	// the entry as upgraded, distinct from ordinary field edits.
	Version string `json:"version"`

	// TagName identifies the front-end bundle revision that produced this
	// record. Clients whose cached tag differs need a fresh binary download
	// even without a metadata change.
	TagName string `json:"tag_name,omitempty"`

	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	SourceCodeURL string `json:"source_code_url,omitempty"`
	SubmitterURI  string `json:"submitter_uri,omitempty"`

	// Image is the base64-encoded icon extracted from the bundle.
	Image string `json:"image,omitempty"`

	// Size is the bundle size in bytes.
	Size int64 `json:"size,omitempty"`

	// Date is the release timestamp shown in the catalog.
	Date time.Time `json:"date,omitempty"`

	// BlobLocation references the stored bundle. Owned by the bot, never
	// sourced from a manifest and never sent to clients.
	BlobLocation string `json:"-"`

	// OriginatorChat is the submit chat that created this entry. Attribution
	// only, non-owning.
	OriginatorChat int64 `json:"-"`

	// Active is false during submission and review and flips to true exactly
	// once at publication.
	Active bool `json:"-"`

	// Serial is the store-assigned global sequence number of the last write
	// to this row. Strictly increasing across the whole catalog.
	Serial int64 `json:"serial,omitempty"`
}

// MissingFields returns the names of required fields that are still unset.
// Release is gated on this list being empty.
func (e AppEntry) MissingFields() []string {
	var missing []string
	if e.AppID == "" {
		missing = append(missing, "app_id")
	}
	if e.Name == "" {
		missing = append(missing, "name")
	}
	if e.Description == "" {
		missing = append(missing, "description")
	}
	if e.Image == "" {
		missing = append(missing, "image")
	}
	if e.SourceCodeURL == "" {
		missing = append(missing, "source_code_url")
	}
	if e.Version == "" {
		missing = append(missing, "version")
	}
	return missing
}

// IsComplete reports whether all required fields are present.
func (e AppEntry) IsComplete() bool {
	return len(e.MissingFields()) == 0
}

// Delta is a partial, client-facing view of an entry: the fields that changed
// since a client's cursor. A nil value is an explicit tombstone for a field
// the client has cached but the catalog no longer carries.
type Delta map[string]any

// clientFieldNames lists the fields clients synchronize, in wire order.
// Bot-internal fields (blob location, originator, active, internal id) are
// deliberately absent.
var clientFieldNames = []string{
	"app_id",
	"version",
	"tag_name",
	"name",
	"description",
	"source_code_url",
	"submitter_uri",
	"image",
	"size",
	"date",
}

// clientFields maps an entry to its client-visible field values. Zero values
// mean "absent" for the optional fields.
func (e AppEntry) clientFields() map[string]any {
	fields := map[string]any{
		"app_id":          e.AppID,
		"version":         e.Version,
		"tag_name":        e.TagName,
		"name":            e.Name,
		"description":     e.Description,
		"source_code_url": e.SourceCodeURL,
		"submitter_uri":   e.SubmitterURI,
		"image":           e.Image,
	}
	if e.Size > 0 {
		fields["size"] = e.Size
	} else {
		fields["size"] = nil
	}
	if !e.Date.IsZero() {
		fields["date"] = e.Date.UTC().Unix()
	} else {
		fields["date"] = nil
	}
	for _, name := range []string{"tag_name", "name", "description", "source_code_url", "submitter_uri", "image"} {
		if fields[name] == "" {
			fields[name] = nil
		}
	}
	return fields
}

// FullDelta returns every client-visible field of the entry, used when the
// requesting client has never seen this app. Absent optional fields are
// omitted rather than tombstoned.
func (e AppEntry) FullDelta() Delta {
	fields := e.clientFields()
	delta := Delta{}
	for _, name := range clientFieldNames {
		if v := fields[name]; v != nil {
			delta[name] = v
		}
	}
	// Record key and freshness signal are always present.
	delta["app_id"] = e.AppID
	delta["version"] = e.Version
	return delta
}

// DiffDelta returns the fields of cur that differ from prev, always including
// app_id and version, with an explicit nil for every field prev carried that
// cur dropped. Applying deltas in ascending serial order reproduces the
// current entry exactly.
func DiffDelta(prev, cur AppEntry) Delta {
	prevFields := prev.clientFields()
	curFields := cur.clientFields()

	delta := Delta{}
	for _, name := range clientFieldNames {
		pv, cv := prevFields[name], curFields[name]
		if cv == nil {
			if pv != nil {
				delta[name] = nil // tombstone
			}
			continue
		}
		if pv == nil || pv != cv {
			delta[name] = cv
		}
	}
	delta["app_id"] = cur.AppID
	delta["version"] = cur.Version
	return delta
}
