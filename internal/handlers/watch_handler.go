package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/eppraise/eppraise/internal/model"
	"github.com/eppraise/eppraise/internal/store/shared"
)

// WatchReader is the read side of the tracker service.
type WatchReader interface {
	Watches(ctx context.Context) ([]model.WatchView, error)
	WatchItems(ctx context.Context, id int64) ([]model.Item, error)
}

// WatchHandler serves watches and their items as JSON
type WatchHandler struct {
	svc    WatchReader
	logger *zap.Logger
}

// NewWatchHandler creates a new watch handler
func NewWatchHandler(svc WatchReader) *WatchHandler {
	return &WatchHandler{svc: svc, logger: zap.NewNop()}
}

// RegisterRoutes registers the routes for this handler
func (h *WatchHandler) RegisterRoutes(router *mux.Router, logger *zap.Logger) {
	h.logger = logger.Named("watch_handler")
	router.HandleFunc("/watch", h.handleWatches).Methods("GET")
	router.HandleFunc("/watch/{id:[0-9]+}/items", h.handleWatchItems).Methods("GET")
}

// handleWatches lists every watch with its estimate
func (h *WatchHandler) handleWatches(w http.ResponseWriter, req *http.Request) {
	views, err := h.svc.Watches(req.Context())
	if err != nil {
		h.logger.Error("failed to list watches", zap.Error(err))
		http.Error(w, "Failed to fetch watches", http.StatusInternalServerError)
		return
	}

	records := make([]model.Record, len(views))
	for i, v := range views {
		records[i] = model.SerializeWatch(v)
	}
	h.writeJSON(w, records)
}

// handleWatchItems lists the items of one watch
func (h *WatchHandler) handleWatchItems(w http.ResponseWriter, req *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid watch id", http.StatusBadRequest)
		return
	}

	items, err := h.svc.WatchItems(req.Context(), id)
	if errors.Is(err, shared.ErrNotFound) {
		http.Error(w, "Watch not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to list items", zap.Int64("watch_id", id), zap.Error(err))
		http.Error(w, "Failed to fetch items", http.StatusInternalServerError)
		return
	}

	records := make([]model.Record, len(items))
	for i, item := range items {
		records[i] = model.SerializeItem(item)
	}
	h.writeJSON(w, records)
}

func (h *WatchHandler) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
