package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/FidelGB/ipsw-downloader/internal/logctx"
	"github.com/FidelGB/ipsw-downloader/internal/storage"
)

const (
	defaultDownloadsLimit = 100
	maxDownloadsLimit     = 1000
)

// StatusHandler serves liveness, metrics and the download history.
type StatusHandler struct {
	downloads storage.DownloadReadRepository
	metrics   http.Handler
}

// NewStatusHandler creates the handler. A nil repository serves an empty
// history and a nil metrics handler answers 404.
func NewStatusHandler(downloads storage.DownloadReadRepository, metrics http.Handler) *StatusHandler {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}

	return &StatusHandler{downloads: downloads, metrics: metrics}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", h.metrics)
	r.Get("/downloads", h.HandleDownloads)

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleDownloads lists recorded downloads, newest first. The optional
// "device" query parameter filters by identifier and "limit" caps the size.
func (h *StatusHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultDownloadsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = min(n, maxDownloadsLimit)
	}

	if h.downloads == nil {
		writeJSON(w, r, http.StatusOK, []storage.DownloadRecord{})

		return
	}

	var (
		records []storage.DownloadRecord
		err     error
	)

	if device := r.URL.Query().Get("device"); device != "" {
		records, err = h.downloads.GetDeviceDownloads(device, limit)
	} else {
		records, err = h.downloads.GetDownloads(limit)
	}

	if err != nil {
		logger.Error("failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
