package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/middleware"
	"github.com/openclaw/broadcast-server-go/internal/model"
)

// LoginFlow is the login handshake as seen by the HTTP layer.
type LoginFlow interface {
	RequestCode(ctx context.Context, identifier string) (*model.AuthSession, error)
	SubmitCode(ctx context.Context, identifier, challengeToken, handshakeContext, code string) (*model.LoginResult, error)
	SubmitSecondFactor(ctx context.Context, identifier, handshakeContext, password string) (*model.LoginResult, error)
}

type SessionIssuer interface {
	Issue(account *model.Account) (string, time.Time, error)
}

type AuthHandler struct {
	login  LoginFlow
	tokens SessionIssuer
}

func NewAuthHandler(login LoginFlow, tokens SessionIssuer) *AuthHandler {
	return &AuthHandler{login: login, tokens: tokens}
}

// Routes mounts the unauthenticated handshake endpoints. The caller is
// expected to wrap them in an IP rate limit.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/code", h.RequestCode)
	r.Post("/verify", h.Verify)
	r.Post("/password", h.Password)
	return r
}

func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.login.RequestCode(r.Context(), req.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier       string `json:"identifier"`
		ChallengeToken   string `json:"challengeToken"`
		HandshakeContext string `json:"handshakeContext"`
		Code             string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.login.SubmitCode(r.Context(), req.Identifier, req.ChallengeToken, req.HandshakeContext, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeResult(w, result)
}

func (h *AuthHandler) Password(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier       string `json:"identifier"`
		HandshakeContext string `json:"handshakeContext"`
		Password         string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.login.SubmitSecondFactor(r.Context(), req.Identifier, req.HandshakeContext, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeResult(w, result)
}

// writeResult issues a dashboard session for a verified login. A pending
// second factor is returned as is so the client can continue.
func (h *AuthHandler) writeResult(w http.ResponseWriter, result *model.LoginResult) {
	if result.State != model.AuthStateVerified {
		writeJSON(w, http.StatusAccepted, result)
		return
	}

	token, expiresAt, err := h.tokens.Issue(result.Account)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue session token")
		writeError(w, apperrors.Internal("Failed to create session"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":     result.State,
		"account":   result.Account,
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
	})
}

// Me returns the authenticated account.
func Me(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, account)
}
