package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/util"
)

type EventType string

const (
	EventCodeRequested        EventType = "code_requested"
	EventLoginSuccess         EventType = "login_success"
	EventLoginFailure         EventType = "login_failure"
	EventSecondFactorRequired EventType = "second_factor_required"
	EventHandshakeRejected    EventType = "handshake_rejected"
	EventRateLimitExceed      EventType = "rate_limit_exceeded"
	EventAuthFailure          EventType = "auth_failure"
	EventRoleChange           EventType = "role_change"
	EventActiveChange         EventType = "active_change"
)

type Event struct {
	Type EventType
	// Identifier is the account the event is about. It is masked in the log.
	Identifier string
	// Actor is the admin performing an administrative action.
	Actor     string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.Identifier != "" {
		logger = logger.With().Str("identifier", util.MaskIdentifier(event.Identifier)).Logger()
	}
	if event.Actor != "" {
		logger = logger.With().Str("actor", util.MaskIdentifier(event.Actor)).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case error:
		return e.AnErr(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
