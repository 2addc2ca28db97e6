package review

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicbooking/internal/api"
)

type Repository interface {
	ListByClinic(ctx context.Context, clinicID string, sort Sort, limit, offset int) ([]Review, int, error)
	RatingDistribution(ctx context.Context, clinicID string) (map[int]int, error)
	MarkHelpful(ctx context.Context, reviewID uuid.UUID, voterKey string) (HelpfulResult, error)
}

type Handlers struct {
	Repo Repository
	Log  *zap.Logger
}

func (h Handlers) ListByClinic(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "id")
	if clinicID == "" {
		api.WriteFieldError(w, "id", "missing clinic id")
		return
	}

	q := r.URL.Query()
	page := atoiDefault(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := atoiDefault(q.Get("limit"), 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	sort := ParseSort(q.Get("sort"))

	items, total, err := h.Repo.ListByClinic(r.Context(), clinicID, sort, limit, (page-1)*limit)
	if err != nil {
		h.Log.Error("list reviews", zap.String("clinic_id", clinicID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	dist, err := h.Repo.RatingDistribution(r.Context(), clinicID)
	if err != nil {
		h.Log.Error("review stats", zap.String("clinic_id", clinicID), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	api.WriteJSON(w, http.StatusOK, ListResult{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		Stats:      NewStats(dist),
	})
}

func (h Handlers) MarkHelpful(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteFieldError(w, "id", "invalid review id")
		return
	}

	voter := ""
	if s := api.CustomerSession(r.Context()); s != nil {
		voter = "user:" + s.UserID
	}

	res, err := h.Repo.MarkHelpful(r.Context(), id, voter)
	if errors.Is(err, ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", "review not found")
		return
	}
	if err != nil {
		h.Log.Error("mark helpful", zap.String("review_id", id.String()), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
