package handlers

import (
	"encoding/json"
	"net/http"

	"canvass-bknd/internal/middleware"
	"canvass-bknd/internal/services"

	"go.uber.org/zap"
)

type SettingsHandler struct {
	service *services.SettingsService
	logr    *zap.Logger
}

func NewSettingsHandler(svc *services.SettingsService, logr *zap.Logger) *SettingsHandler {
	return &SettingsHandler{service: svc, logr: logr}
}

// GetSettings returns the signed-in user's preference bag. Always 200:
// missing settings are just an empty object.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	email := middleware.Email(r.Context())
	writeJSON(w, http.StatusOK, h.service.Load(r.Context(), email))
}

// PutSettings merges the submitted keys into the stored bag. Persistence
// is best-effort, so this always succeeds from the client's view.
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var partial map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	email := middleware.Email(r.Context())
	h.service.Save(r.Context(), email, partial)
	h.logr.Debug("settings saved", zap.String("email", email), zap.Int("keys", len(partial)))
	w.WriteHeader(http.StatusNoContent)
}
