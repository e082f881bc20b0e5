// Package gateway defines the messaging-account capability the server relies
// on: running the login challenge, opening authenticated sessions, listing
// group conversations and sending text.
package gateway

import (
	"context"
	"errors"

	"github.com/openclaw/broadcast-server-go/internal/model"
)

var (
	ErrUnavailable          = errors.New("gateway unavailable")
	ErrFloodWait            = errors.New("gateway throttled the request")
	ErrIdentifierInvalid    = errors.New("identifier rejected by gateway")
	ErrCodeInvalid          = errors.New("verification code invalid")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrPasswordInvalid      = errors.New("second factor password invalid")
	ErrSessionUnknown       = errors.New("gateway session unknown")
)

// SecondFactorError reports that the account has two-step verification on.
// Continuation, when set, resumes the same gateway session for the password
// step.
type SecondFactorError struct {
	Continuation string
}

func (e *SecondFactorError) Error() string { return ErrSecondFactorRequired.Error() }

func (e *SecondFactorError) Is(target error) bool { return target == ErrSecondFactorRequired }

// Challenge is the result of asking the gateway to send a login code.
// Context identifies the gateway-side session the code is bound to.
type Challenge struct {
	Token   string
	Context string
}

// Source selects how OpenSession authenticates: with a durable credential or
// by resuming the session a challenge was issued on.
type Source struct {
	Credential       string
	HandshakeContext string
}

func FromCredential(credential string) Source {
	return Source{Credential: credential}
}

func FromHandshake(handshakeContext string) Source {
	return Source{HandshakeContext: handshakeContext}
}

func (s Source) IsHandshake() bool {
	return s.HandshakeContext != ""
}

type Session interface {
	ID() string
	// CompleteChallenge signs in with the code. On success it returns a
	// durable credential. A *SecondFactorError signals two-step verification.
	CompleteChallenge(ctx context.Context, identifier, token, code string) (string, error)
	ListGroupConversations(ctx context.Context) ([]model.Conversation, error)
	SendText(ctx context.Context, conversationID, text string) error
}

// SecondFactorSession is implemented by sessions able to finish a login with
// the two-step verification password.
type SecondFactorSession interface {
	Session
	CheckPassword(ctx context.Context, password string) (string, error)
}

type Gateway interface {
	RequestChallenge(ctx context.Context, identifier string) (Challenge, error)
	OpenSession(ctx context.Context, src Source) (Session, error)
	CloseSession(ctx context.Context, session Session) error
}
