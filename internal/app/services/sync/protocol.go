// Package sync implements the catalog synchronization protocol: the update
// envelope payloads exchanged with front-ends and the diff engine that
// computes minimal per-client update payloads.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/webxdc/storebot/internal/app/domain/catalog"
)

// PayloadType tags the single payload an envelope carries.
type PayloadType string

const (
	// Client to bot.
	PayloadUpdateRequest  PayloadType = "UpdateRequest"
	PayloadDownload       PayloadType = "Download"
	PayloadSubmit         PayloadType = "Submit"
	PayloadUpdateReceived PayloadType = "UpdateReceived"

	// Bot to client.
	PayloadUpdate           PayloadType = "Update"
	PayloadDownloadOkay     PayloadType = "DownloadOkay"
	PayloadDownloadError    PayloadType = "DownloadError"
	PayloadFrontendOutdated PayloadType = "FrontendOutdated"

	// PayloadUnknown marks a tag this bot does not recognize. Handled
	// explicitly, never silently defaulted.
	PayloadUnknown PayloadType = ""
)

// ErrMalformed means the raw update is not a valid envelope. Malformed
// updates are logged and dropped: they may be the bot's own echoed updates.
var ErrMalformed = errors.New("sync: malformed status update")

// KnownApp is one (app_id, tag) pair from a client's local catalog copy.
// On the wire it is a two-element array.
type KnownApp struct {
	AppID string
	Tag   string
}

// UnmarshalJSON decodes the ["app_id", "tag"] wire form.
func (k *KnownApp) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("known app: want 2 elements, got %d", len(pair))
	}
	k.AppID, k.Tag = pair[0], pair[1]
	return nil
}

// MarshalJSON encodes the two-element array wire form.
func (k KnownApp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{k.AppID, k.Tag})
}

// UpdateRequest asks for all catalog changes past the client's cursor.
type UpdateRequest struct {
	Serial int64      `json:"serial"`
	Apps   []KnownApp `json:"apps"`
}

// Download asks for an application bundle.
type Download struct {
	AppID string `json:"app_id"`
}

// Submit finalizes a draft: the front-end's edited fields are merged into the
// bound entry and the submission moves to review.
type Submit struct {
	Description  string `json:"description,omitempty"`
	SubmitterURI string `json:"submitter_uri,omitempty"`
}

// UpdateReceived acknowledges an applied update. Idempotent no-op on the bot
// side; exempt from the compatibility gate to avoid a notification loop.
type UpdateReceived struct {
	Serial int64 `json:"serial"`
}

// Update carries field-level catalog changes back to a client.
type Update struct {
	Type PayloadType `json:"type"`
	// Changes maps app_id to the changed fields, with explicit nulls for
	// dropped optional fields.
	Changes map[string]catalog.Delta `json:"changes"`
	// Serial is the cursor the client should present next.
	Serial int64 `json:"serial"`
	// Updating lists app_ids whose bundle download is being refreshed
	// because the client's cached tag is stale.
	Updating []string `json:"updating"`
}

// DownloadOkay delivers a bundle as base64 data.
type DownloadOkay struct {
	Type  PayloadType `json:"type"`
	AppID string      `json:"app_id"`
	Name  string      `json:"name"`
	Data  string      `json:"data"`
}

// DownloadError reports a failed download request.
type DownloadError struct {
	Type  PayloadType `json:"type"`
	AppID string      `json:"app_id"`
	Error string      `json:"error"`
}

// FrontendOutdated tells a client its installed front-end tag no longer
// matches what the bot serves.
type FrontendOutdated struct {
	Type     PayloadType `json:"type"`
	TagName  string      `json:"tag_name"`
	Critical bool        `json:"critical"`
}

// Request is a decoded client envelope. Exactly one variant field matching
// Type is set; PayloadUnknown leaves all of them nil.
type Request struct {
	Type PayloadType

	// TagName is the sending front-end's installed tag, checked by the
	// compatibility gate before any variant is processed.
	TagName string

	UpdateRequest  *UpdateRequest
	Download       *Download
	Submit         *Submit
	UpdateReceived *UpdateReceived
}

// DecodeRequest parses a raw status update into a typed request.
// Returns ErrMalformed for anything that is not an envelope with a tagged
// payload object.
func DecodeRequest(raw []byte) (Request, error) {
	if !gjson.ValidBytes(raw) {
		return Request{}, ErrMalformed
	}
	payload := gjson.GetBytes(raw, "payload")
	if !payload.IsObject() {
		return Request{}, ErrMalformed
	}

	req := Request{
		Type:    PayloadType(payload.Get("type").String()),
		TagName: gjson.GetBytes(raw, "tag_name").String(),
	}

	var (
		target any
		err    error
	)
	switch req.Type {
	case PayloadUpdateRequest:
		req.UpdateRequest = &UpdateRequest{}
		target = req.UpdateRequest
	case PayloadDownload:
		req.Download = &Download{}
		target = req.Download
	case PayloadSubmit:
		req.Submit = &Submit{}
		target = req.Submit
	case PayloadUpdateReceived:
		req.UpdateReceived = &UpdateReceived{}
		target = req.UpdateReceived
	default:
		req.Type = PayloadUnknown
		return req, nil
	}

	if err = json.Unmarshal([]byte(payload.Raw), target); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return req, nil
}

// EncodeResponse wraps a bot-to-client payload in the envelope the front-end
// expects. The payload structs in this package carry their own type tag.
func EncodeResponse(payload any) ([]byte, error) {
	return json.Marshal(map[string]any{"payload": payload})
}

// NewUpdate builds a tagged Update payload.
func NewUpdate(changes map[string]catalog.Delta, serial int64, updating []string) Update {
	if changes == nil {
		changes = map[string]catalog.Delta{}
	}
	if updating == nil {
		updating = []string{}
	}
	return Update{Type: PayloadUpdate, Changes: changes, Serial: serial, Updating: updating}
}

// NewDownloadOkay builds a tagged DownloadOkay payload.
func NewDownloadOkay(appID, name, data string) DownloadOkay {
	return DownloadOkay{Type: PayloadDownloadOkay, AppID: appID, Name: name, Data: data}
}

// NewDownloadError builds a tagged DownloadError payload.
func NewDownloadError(appID string, err error) DownloadError {
	return DownloadError{Type: PayloadDownloadError, AppID: appID, Error: err.Error()}
}

// NewFrontendOutdated builds a tagged FrontendOutdated payload.
func NewFrontendOutdated(tagName string, critical bool) FrontendOutdated {
	return FrontendOutdated{Type: PayloadFrontendOutdated, TagName: tagName, Critical: critical}
}
