package clinic

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"clinicbooking/internal/api"
)

// Handlers exposes the directory read-through used by the booking form.
type Handlers struct {
	Directory Directory
	Log       *zap.Logger
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		api.WriteFieldError(w, "id", "clinic id is required")
		return
	}

	c, err := h.Directory.Get(r.Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "clinic not found")
		return
	case err != nil:
		h.Log.Warn("clinic directory", zap.String("clinic_id", id), zap.Error(err))
		api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "clinic directory unavailable")
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}
