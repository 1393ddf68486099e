package handlers

import (
	"encoding/json"
	"net/http"

	"canvass-bknd/internal/geo"
	"canvass-bknd/internal/services"
	"canvass-bknd/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BoundaryHandler struct {
	service *services.BoundaryService
	logr    *zap.Logger
}

func NewBoundaryHandler(svc *services.BoundaryService, logr *zap.Logger) *BoundaryHandler {
	return &BoundaryHandler{service: svc, logr: logr}
}

// ListBoundaries returns the known areas with their rings. An `areas`
// query param narrows the list to the named areas.
func (h *BoundaryHandler) ListBoundaries(w http.ResponseWriter, r *http.Request) {
	boundaries := h.service.Boundaries()

	if filter := utils.ParseQueryList(r.URL.Query(), "areas"); len(filter) > 0 {
		visible := make(map[string]struct{})
		for _, num := range h.service.VisibleAreas(filter) {
			visible[num] = struct{}{}
		}
		kept := boundaries[:0]
		for _, b := range boundaries {
			if _, ok := visible[b.AreaNumber]; ok {
				kept = append(kept, b)
			}
		}
		boundaries = kept
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"areas": boundaries,
		"count": len(boundaries),
	})
}

type createBoundaryReq struct {
	AreaNumber string      `json:"areaNumber"`
	Ring       []geo.Point `json:"ring"`
}

// CreateBoundary persists a drawn area. The browser accumulates vertices
// client-side, so this is the finish-draw step in one request.
func (h *BoundaryHandler) CreateBoundary(w http.ResponseWriter, r *http.Request) {
	var req createBoundaryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	b, err := h.service.Create(r.Context(), req.AreaNumber, req.Ring)
	if err != nil {
		h.logr.Error("failed to create area", zap.Error(err), zap.String("area", req.AreaNumber))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// DeleteBoundary removes an area. Confirmation happens in the UI.
func (h *BoundaryHandler) DeleteBoundary(w http.ResponseWriter, r *http.Request) {
	areaNumber := chi.URLParam(r, "areaNumber")
	if err := h.service.Delete(r.Context(), areaNumber); err != nil {
		h.logr.Error("failed to delete area", zap.Error(err), zap.String("area", areaNumber))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload replaces the in-memory boundary set from the remote store.
func (h *BoundaryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.LoadAll(r.Context()); err != nil {
		h.logr.Error("failed to reload areas", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reload areas")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"areas": h.service.AreaNumbers(),
	})
}
