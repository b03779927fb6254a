// Package httpapi exposes the bot's HTTP surface: health and metrics
// endpoints, a read-only catalog API and the messaging provider's webhook.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/webxdc/storebot/internal/app/metrics"
	"github.com/webxdc/storebot/internal/app/storage"
	"github.com/webxdc/storebot/pkg/logger"
)

// handler bundles the HTTP endpoints over the catalog store.
type handler struct {
	store storage.CatalogStore
	log   *logger.Logger
}

// NewHandler returns the router exposing the bot's HTTP API. The webhook
// handler is the transport bridge's inbound event receiver; nil disables the
// route.
func NewHandler(store storage.CatalogStore, m *metrics.Metrics, webhook http.Handler, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{store: store, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/apps", h.listApps).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/apps/{app_id}", h.getApp).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/serial", h.serial).Methods(http.MethodGet)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	if webhook != nil {
		r.Handle("/webhook", webhook).Methods(http.MethodPost)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listApps returns every published catalog entry.
func (h *handler) listApps(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ChangedSince(r.Context(), 0)
	if err != nil {
		h.log.WithError(err).Error("list apps failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) getApp(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app_id"]
	entry, err := h.store.GetAppByAppID(r.Context(), appID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !entry.Active) {
		writeError(w, http.StatusNotFound, errors.New("app not found"))
		return
	}
	if err != nil {
		h.log.WithError(err).Errorf("get app %s failed", appID)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) serial(w http.ResponseWriter, r *http.Request) {
	serial, err := h.store.LastSerial(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"serial": serial})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
