package handlers

import (
	"encoding/json"
	"net/http"

	"canvass-bknd/internal/services"
	"canvass-bknd/internal/syncq"

	"go.uber.org/zap"
)

// SyncHandler receives the offline retry queue's replay callbacks. The
// queue itself runs outside this service; it calls in when it starts
// replaying captured writes and again when it finishes. Signals fan out
// to subscribers, and a successful replay forces a reload so in-memory
// state picks up the replayed documents.
type SyncHandler struct {
	notifier   syncq.Notifier
	markers    *services.MarkerService
	boundaries *services.BoundaryService
	logr       *zap.Logger
}

func NewSyncHandler(notifier syncq.Notifier, markers *services.MarkerService, boundaries *services.BoundaryService, logr *zap.Logger) *SyncHandler {
	return &SyncHandler{notifier: notifier, markers: markers, boundaries: boundaries, logr: logr}
}

// ReplayStarted marks the beginning of a queue replay.
func (h *SyncHandler) ReplayStarted(w http.ResponseWriter, r *http.Request) {
	h.logr.Info("queue replay started")
	h.notifier.Publish(syncq.Signal{Kind: syncq.ReplayStarted})
	w.WriteHeader(http.StatusAccepted)
}

type replayCompletedReq struct {
	OK bool `json:"ok"`
}

// ReplayCompleted marks the end of a replay. On success the marker and
// boundary sets are reloaded from the store.
func (h *SyncHandler) ReplayCompleted(w http.ResponseWriter, r *http.Request) {
	var req replayCompletedReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	h.logr.Info("queue replay completed", zap.Bool("ok", req.OK))
	h.notifier.Publish(syncq.Signal{Kind: syncq.ReplayCompleted, OK: req.OK})

	if !req.OK {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := h.boundaries.LoadAll(r.Context()); err != nil {
		h.logr.Error("post-replay area reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reload after replay")
		return
	}
	if err := h.markers.LoadAll(r.Context()); err != nil {
		h.logr.Error("post-replay site reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reload after replay")
		return
	}
	w.WriteHeader(http.StatusOK)
}
