package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/broadcast-server-go/internal/middleware"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/service"
)

type ScheduleManager interface {
	Create(ctx context.Context, owner string, input service.CreateScheduleInput) (*model.Schedule, error)
	ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error)
	ListGroups(ctx context.Context, owner string) ([]model.Conversation, error)
}

// ScheduleHandler serves the signed-in account's own schedules and groups.
type ScheduleHandler struct {
	schedules ScheduleManager
}

func NewScheduleHandler(schedules ScheduleManager) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

// Register adds the routes to r, which must already authenticate the account.
func (h *ScheduleHandler) Register(r chi.Router) {
	r.Get("/groups", h.ListGroups)
	r.Get("/schedules", h.ListSchedules)
	r.Post("/schedules", h.CreateSchedule)
}

func (h *ScheduleHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	groups, err := h.schedules.ListGroups(r.Context(), account.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": groups})
}

func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	schedules, err := h.schedules.ListByOwner(r.Context(), account.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": schedules,
		"total": len(schedules),
	})
}

func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())

	var input service.CreateScheduleInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, err)
		return
	}

	schedule, err := h.schedules.Create(r.Context(), account.Identifier, input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, schedule)
}
