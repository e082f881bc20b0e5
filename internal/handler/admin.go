package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/middleware"
	"github.com/openclaw/broadcast-server-go/internal/model"
)

type AccountAdmin interface {
	ListAccounts(ctx context.Context, actor *model.Account) ([]model.Account, error)
	SetActive(ctx context.Context, actor *model.Account, identifier string, active bool) (*model.Account, error)
	SetRole(ctx context.Context, actor *model.Account, identifier string, role model.Role) (*model.Account, error)
}

type Dispatcher interface {
	RunOnce(ctx context.Context) (*model.DispatchReport, error)
}

type AdminHandler struct {
	admin      AccountAdmin
	dispatcher Dispatcher
}

func NewAdminHandler(admin AccountAdmin, dispatcher Dispatcher) *AdminHandler {
	return &AdminHandler{admin: admin, dispatcher: dispatcher}
}

// Routes expects to be mounted behind the auth middleware and an admin role check.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/accounts", h.ListAccounts)
	r.Put("/accounts/{identifier}/status", h.SetStatus)
	r.Put("/accounts/{identifier}/role", h.SetRole)

	r.Post("/dispatch", h.Dispatch)

	return r
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)

	accounts, err := h.admin.ListAccounts(r.Context(), middleware.GetAccount(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": paginate(accounts, p),
		"total": len(accounts),
	})
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Active == nil {
		writeError(w, apperrors.MissingRequired("active"))
		return
	}

	account, err := h.admin.SetActive(r.Context(), middleware.GetAccount(r.Context()), chi.URLParam(r, "identifier"), *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role model.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.admin.SetRole(r.Context(), middleware.GetAccount(r.Context()), chi.URLParam(r, "identifier"), req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// Dispatch runs one pass immediately. It waits for a pass already in progress.
func (h *AdminHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	report, err := h.dispatcher.RunOnce(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("manual dispatch failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
