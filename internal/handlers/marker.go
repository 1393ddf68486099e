package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"canvass-bknd/internal/models"
	"canvass-bknd/internal/services"
	"canvass-bknd/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type MarkerHandler struct {
	service *services.MarkerService
	logr    *zap.Logger
}

func NewMarkerHandler(svc *services.MarkerService, logr *zap.Logger) *MarkerHandler {
	return &MarkerHandler{service: svc, logr: logr}
}

// ListMarkers returns the sites passing the current area filter. An
// `areas` query param (CSV or repeated) re-applies the filter first;
// `areas=` with no value clears it.
func (h *MarkerHandler) ListMarkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, ok := q["areas"]; ok {
		h.service.FilterByAreas(utils.ParseQueryList(q, "areas"))
	}

	sites := h.service.VisibleSites()
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": sites,
		"count": len(sites),
	})
}

// GetStatusCounts tallies sites per visit status, optionally scoped to
// areas.
func (h *MarkerHandler) GetStatusCounts(w http.ResponseWriter, r *http.Request) {
	areas := utils.ParseQueryList(r.URL.Query(), "areas")
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": h.service.StatusCounts(areas),
	})
}

type createProvisionalReq struct {
	Position models.LatLng `json:"position"`
}

// CreateProvisional drops a new unsaved marker at the clicked position.
func (h *MarkerHandler) CreateProvisional(w http.ResponseWriter, r *http.Request) {
	var req createProvisionalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	p := h.service.CreateProvisional(req.Position)
	writeJSON(w, http.StatusCreated, p)
}

// GetProvisional returns a provisional marker, including the reverse
// geocoder's address suggestion once it has arrived.
func (h *MarkerHandler) GetProvisional(w http.ResponseWriter, r *http.Request) {
	p := h.service.GetProvisional(chi.URLParam(r, "localID"))
	if p == nil {
		writeError(w, http.StatusNotFound, "marker not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CommitProvisional persists a provisional marker under its address.
func (h *MarkerHandler) CommitProvisional(w http.ResponseWriter, r *http.Request) {
	localID := chi.URLParam(r, "localID")

	var form models.SiteForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	site, err := h.service.CommitNew(r.Context(), localID, form)
	if err != nil {
		h.logr.Error("failed to commit marker", zap.Error(err), zap.String("local_id", localID))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

// CancelProvisional discards a provisional marker.
func (h *MarkerHandler) CancelProvisional(w http.ResponseWriter, r *http.Request) {
	h.service.CancelNew(chi.URLParam(r, "localID"))
	w.WriteHeader(http.StatusNoContent)
}

// SaveEdit overwrites a persisted site. The address in the body is the
// site's identity; addresses can carry slashes, so they never travel in
// the URL path.
func (h *MarkerHandler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	var form models.SiteForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	site, notice, err := h.service.SaveEdit(r.Context(), form.Address, form)
	if err != nil {
		h.logr.Error("failed to save site", zap.Error(err), zap.String("address", form.Address))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"site":   site,
		"notice": notice,
	})
}

// DeleteMarker removes a site. Confirmation happens in the UI.
func (h *MarkerHandler) DeleteMarker(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if err := h.service.Delete(r.Context(), address); err != nil {
		h.logr.Error("failed to delete site", zap.Error(err), zap.String("address", address))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reload rebuilds the site map from the remote store.
func (h *MarkerHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.LoadAll(r.Context()); err != nil {
		h.logr.Error("failed to reload sites", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reload sites")
		return
	}
	sites := h.service.VisibleSites()
	writeJSON(w, http.StatusOK, map[string]any{
		"sites": sites,
		"count": len(sites),
	})
}

type resetReq struct {
	AreaNumbers []string `json:"areaNumbers"`
}

// ResetStatuses forces every site inside the given areas back to
// UNVISITED.
func (h *MarkerHandler) ResetStatuses(w http.ResponseWriter, r *http.Request) {
	var req resetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.service.ResetStatusInAreas(r.Context(), req.AreaNumbers); err != nil {
		h.logr.Error("bulk reset failed", zap.Error(err), zap.Strings("areas", req.AreaNumbers))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export streams the filtered sites as a CSV download.
func (h *MarkerHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	statuses := []models.Status{}
	for _, s := range utils.ParseQueryList(q, "statuses") {
		statuses = append(statuses, models.Status(s))
	}

	rows := h.service.GenerateRows(services.ExportFilters{
		AreaNumbers: utils.ParseQueryList(q, "areas"),
		Statuses:    statuses,
		Language:    models.Language(q.Get("language")),
		Keyword:     q.Get("keyword"),
	})

	data, err := services.WriteCSV(rows)
	if err != nil {
		h.logr.Error("failed to build export", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	filename := "visits-" + time.Now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}
