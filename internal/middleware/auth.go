package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/audit"
	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/httputil"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/service"
)

type contextKey string

const AccountContextKey contextKey = "account"

func GetAccount(ctx context.Context) *model.Account {
	if account, ok := ctx.Value(AccountContextKey).(*model.Account); ok {
		return account
	}
	return nil
}

// WithAccount stores the authenticated account on ctx.
func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, AccountContextKey, account)
}

// TokenParser resolves a session token to the account identifier it was issued for.
type TokenParser interface {
	Parse(token string) (string, error)
}

type AuthMiddleware struct {
	tokens   TokenParser
	accounts repository.AccountRepository
}

func NewAuthMiddleware(tokens TokenParser, accounts repository.AccountRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, accounts: accounts}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		identifier, err := m.tokens.Parse(token)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": "invalid_token"},
			})
			httputil.WriteError(w, err)
			return
		}

		account, err := m.accounts.Get(r.Context(), identifier)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: database error")
			httputil.WriteError(w, apperrors.Internal("Authentication failed"))
			return
		}

		if account == nil {
			audit.LogFromRequest(r, audit.Event{
				Type:       audit.EventAuthFailure,
				Identifier: identifier,
				Details:    map[string]interface{}{"reason": "unknown_account"},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Invalid token"))
			return
		}

		if !account.Active {
			httputil.WriteError(w, apperrors.Forbidden("Account is disabled"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// RequireRole rejects requests whose account lacks role.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := service.RequireRole(GetAccount(r.Context()), role); err != nil {
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads a bearer token, falling back to the query string for
// EventSource clients that cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return r.URL.Query().Get("token")
}
