package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/audit"
	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
	redisclient "github.com/openclaw/broadcast-server-go/internal/redis"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

const (
	stepCode         = "code"
	stepVerify       = "verify"
	stepSecondFactor = "second_factor"
)

// LoginObserver receives one call per handshake step.
type LoginObserver interface {
	LoginAttempt(step, result string)
}

type LoginOptions struct {
	HandshakeTTL time.Duration
	// RateLimit caps RequestCode calls per identifier per RateWindow. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// LoginService runs the login handshake. It keeps no per-identifier state of
// its own between requests: everything needed to continue is sealed into the
// handshake context returned to the caller.
type LoginService struct {
	gateway  gateway.Gateway
	accounts repository.AccountRepository
	ledger   repository.ChallengeLedger
	limiter  Limiter
	observer LoginObserver
	sealer   *handshakeSealer
	locks    *keyedMutex
	opts     LoginOptions
	now      func() time.Time
}

func NewLoginService(
	gw gateway.Gateway,
	accounts repository.AccountRepository,
	ledger repository.ChallengeLedger,
	handshakeCipher *util.Cipher,
	limiter Limiter,
	observer LoginObserver,
	opts LoginOptions,
) *LoginService {
	if opts.HandshakeTTL <= 0 {
		opts.HandshakeTTL = 10 * time.Minute
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = 10 * time.Minute
	}
	return &LoginService{
		gateway:  gw,
		accounts: accounts,
		ledger:   ledger,
		limiter:  limiter,
		observer: observer,
		sealer:   &handshakeSealer{cipher: handshakeCipher, ttl: opts.HandshakeTTL},
		locks:    newKeyedMutex(),
		opts:     opts,
		now:      time.Now,
	}
}

// RequestCode asks the gateway to send a verification code to identifier.
func (s *LoginService) RequestCode(ctx context.Context, rawIdentifier string) (*model.AuthSession, error) {
	session, err := s.requestCode(ctx, rawIdentifier)
	s.observe(stepCode, err)
	return session, err
}

func (s *LoginService) requestCode(ctx context.Context, rawIdentifier string) (*model.AuthSession, error) {
	identifier, err := parseIdentifier(rawIdentifier)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil && s.opts.RateLimit > 0 {
		decision := s.limiter.CheckLimit(ctx, redisclient.LoginRateKey(stepCode, identifier), s.opts.RateLimit, s.opts.RateWindow)
		if !decision.Allowed {
			audit.Log(ctx, audit.Event{
				Type:       audit.EventRateLimitExceed,
				Identifier: identifier,
				Details:    map[string]interface{}{"step": stepCode, "resetAt": decision.ResetAt.Unix()},
			})
			return nil, apperrors.RateLimited().WithDetails(map[string]int64{"resetAt": decision.ResetAt.Unix()})
		}
	}

	unlock := s.locks.Lock(identifier)
	defer unlock()

	challenge, err := s.gateway.RequestChallenge(ctx, identifier)
	if err != nil {
		return nil, mapGatewayError(err)
	}

	sealed, err := s.sealer.seal(handshakeEnvelope{
		Identifier:     identifier,
		ChallengeToken: challenge.Token,
		State:          model.AuthStateCodeRequested,
		GatewayContext: challenge.Context,
		Nonce:          uuid.NewString(),
		IssuedAt:       s.now().Unix(),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not seal handshake", err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventCodeRequested, Identifier: identifier})

	return &model.AuthSession{
		Identifier:       identifier,
		ChallengeToken:   challenge.Token,
		HandshakeContext: sealed,
		State:            model.AuthStateCodeRequested,
	}, nil
}

// SubmitCode completes the challenge on the gateway session the code was
// issued on. A handshake context is redeemable once, whatever the outcome.
func (s *LoginService) SubmitCode(ctx context.Context, rawIdentifier, challengeToken, handshakeContext, code string) (*model.LoginResult, error) {
	result, err := s.submitCode(ctx, rawIdentifier, challengeToken, handshakeContext, code)
	if err == nil && result.State == model.AuthStateSecondFactorPending {
		s.record(stepVerify, "second_factor")
	} else {
		s.observe(stepVerify, err)
	}
	return result, err
}

func (s *LoginService) submitCode(ctx context.Context, rawIdentifier, challengeToken, handshakeContext, code string) (*model.LoginResult, error) {
	identifier, err := parseIdentifier(rawIdentifier)
	if err != nil {
		return nil, err
	}
	if challengeToken == "" {
		return nil, apperrors.MissingRequired("challengeToken")
	}
	if handshakeContext == "" {
		return nil, apperrors.MissingRequired("handshakeContext")
	}
	code = strings.TrimSpace(code)
	if !util.IsValidCode(code) {
		return nil, apperrors.InvalidInput("code", "must be 4 to 8 digits")
	}

	unlock := s.locks.Lock(identifier)
	defer unlock()

	env, err := s.redeem(ctx, identifier, challengeToken, handshakeContext, model.AuthStateCodeRequested)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.OpenSession(ctx, gateway.FromHandshake(env.GatewayContext))
	if err != nil {
		s.fail(ctx, identifier, stepVerify, err)
		return nil, mapHandshakeSessionError(err)
	}

	credential, err := session.CompleteChallenge(ctx, identifier, env.ChallengeToken, code)

	var sfe *gateway.SecondFactorError
	if errors.As(err, &sfe) {
		return s.secondFactorPending(ctx, env, session, sfe)
	}
	s.closeSession(ctx, session)

	if err != nil {
		s.fail(ctx, identifier, stepVerify, err)
		return nil, mapGatewayError(err)
	}
	return s.complete(ctx, identifier, credential)
}

func (s *LoginService) secondFactorPending(
	ctx context.Context,
	env *handshakeEnvelope,
	session gateway.Session,
	sfe *gateway.SecondFactorError,
) (*model.LoginResult, error) {
	audit.Log(ctx, audit.Event{Type: audit.EventSecondFactorRequired, Identifier: env.Identifier})

	_, capable := session.(gateway.SecondFactorSession)
	if sfe.Continuation == "" || !capable {
		s.closeSession(ctx, session)
		return &model.LoginResult{State: model.AuthStateSecondFactorPending}, nil
	}

	// The gateway session stays open; the password step resumes it.
	sealed, err := s.sealer.seal(handshakeEnvelope{
		Identifier:     env.Identifier,
		ChallengeToken: env.ChallengeToken,
		State:          model.AuthStateSecondFactorPending,
		GatewayContext: sfe.Continuation,
		Nonce:          uuid.NewString(),
		IssuedAt:       s.now().Unix(),
	})
	if err != nil {
		s.closeSession(ctx, session)
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not seal handshake", err)
	}

	return &model.LoginResult{
		State: model.AuthStateSecondFactorPending,
		Session: &model.AuthSession{
			Identifier:       env.Identifier,
			ChallengeToken:   env.ChallengeToken,
			HandshakeContext: sealed,
			State:            model.AuthStateSecondFactorPending,
		},
		SecondFactorSupported: true,
	}, nil
}

// SubmitSecondFactor finishes a handshake that SubmitCode left in
// AuthStateSecondFactorPending.
func (s *LoginService) SubmitSecondFactor(ctx context.Context, rawIdentifier, handshakeContext, password string) (*model.LoginResult, error) {
	result, err := s.submitSecondFactor(ctx, rawIdentifier, handshakeContext, password)
	s.observe(stepSecondFactor, err)
	return result, err
}

func (s *LoginService) submitSecondFactor(ctx context.Context, rawIdentifier, handshakeContext, password string) (*model.LoginResult, error) {
	identifier, err := parseIdentifier(rawIdentifier)
	if err != nil {
		return nil, err
	}
	if handshakeContext == "" {
		return nil, apperrors.SecondFactorUnsupported()
	}
	if password == "" {
		return nil, apperrors.MissingRequired("password")
	}

	unlock := s.locks.Lock(identifier)
	defer unlock()

	env, err := s.redeem(ctx, identifier, "", handshakeContext, model.AuthStateSecondFactorPending)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.OpenSession(ctx, gateway.FromHandshake(env.GatewayContext))
	if err != nil {
		s.fail(ctx, identifier, stepSecondFactor, err)
		return nil, mapHandshakeSessionError(err)
	}
	defer s.closeSession(ctx, session)

	sfs, ok := session.(gateway.SecondFactorSession)
	if !ok {
		return nil, apperrors.SecondFactorUnsupported()
	}

	credential, err := sfs.CheckPassword(ctx, password)
	if err != nil {
		s.fail(ctx, identifier, stepSecondFactor, err)
		if errors.Is(err, gateway.ErrPasswordInvalid) {
			return nil, apperrors.AuthChallengeFailed("two-step verification password is incorrect")
		}
		return nil, mapGatewayError(err)
	}
	return s.complete(ctx, identifier, credential)
}

// redeem opens a handshake context, checks it belongs to identifier (and to
// challengeToken when given) and is in the expected state, then burns its nonce.
func (s *LoginService) redeem(ctx context.Context, identifier, challengeToken, sealed string, want model.AuthState) (*handshakeEnvelope, error) {
	env, err := s.sealer.open(sealed, s.now())
	if errors.Is(err, errHandshakeExpired) {
		return nil, apperrors.CodeExpired()
	}
	if err != nil {
		s.reject(ctx, identifier, "unreadable handshake context")
		return nil, apperrors.AuthChallengeFailed("handshake context is invalid")
	}

	if env.Identifier != identifier {
		s.reject(ctx, identifier, "identifier mismatch")
		return nil, apperrors.AuthChallengeFailed("handshake context does not match this request")
	}
	if challengeToken != "" && !util.ConstantTimeEqual(env.ChallengeToken, challengeToken) {
		s.reject(ctx, identifier, "challenge token mismatch")
		return nil, apperrors.AuthChallengeFailed("handshake context does not match this request")
	}
	if env.State != want {
		s.reject(ctx, identifier, "unexpected handshake state "+string(env.State))
		return nil, apperrors.AuthChallengeFailed("handshake is not at this step")
	}

	fresh, err := s.ledger.Consume(ctx, env.Nonce, s.opts.HandshakeTTL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Could not verify handshake", err)
	}
	if !fresh {
		s.reject(ctx, identifier, "handshake context already used")
		return nil, apperrors.AuthChallengeFailed("handshake already used, request a new code")
	}
	return env, nil
}

// complete stores the credential. A new account becomes an active subscriber;
// an existing account keeps its role and active flag.
func (s *LoginService) complete(ctx context.Context, identifier, credential string) (*model.LoginResult, error) {
	if credential == "" {
		return nil, apperrors.AuthChallengeFailed("gateway returned no credential")
	}

	account, err := s.accounts.Upsert(ctx, identifier, credential, model.RoleSubscriber)
	if err != nil {
		log.Error().Err(err).Str("identifier", util.MaskIdentifier(identifier)).Msg("failed to store credential")
		return nil, apperrors.Repository(err)
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventLoginSuccess,
		Identifier: identifier,
		Details:    map[string]interface{}{"role": string(account.Role)},
	})

	return &model.LoginResult{
		State:      model.AuthStateVerified,
		Account:    account,
		Credential: credential,
	}, nil
}

func (s *LoginService) closeSession(ctx context.Context, session gateway.Session) {
	if err := s.gateway.CloseSession(context.WithoutCancel(ctx), session); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID()).Msg("failed to close gateway session")
	}
}

func (s *LoginService) fail(ctx context.Context, identifier, step string, err error) {
	audit.Log(ctx, audit.Event{
		Type:       audit.EventLoginFailure,
		Identifier: identifier,
		Details:    map[string]interface{}{"step": step, "error": err},
	})
}

func (s *LoginService) reject(ctx context.Context, identifier, reason string) {
	audit.Log(ctx, audit.Event{
		Type:       audit.EventHandshakeRejected,
		Identifier: identifier,
		Details:    map[string]interface{}{"reason": reason},
	})
}

func (s *LoginService) observe(step string, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(apperrors.GetCode(err)))
	}
	s.record(step, result)
}

func (s *LoginService) record(step, result string) {
	if s.observer != nil {
		s.observer.LoginAttempt(step, result)
	}
}

func parseIdentifier(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", apperrors.MissingRequired("identifier")
	}
	identifier := util.NormalizeIdentifier(raw)
	if !util.IsValidIdentifier(identifier) {
		return "", apperrors.InvalidInput("identifier", "must be a phone number in international format")
	}
	return identifier, nil
}

// mapHandshakeSessionError treats a vanished challenge session as an expired
// code: the gateway drops it when its own challenge timeout passes.
func mapHandshakeSessionError(err error) error {
	if errors.Is(err, gateway.ErrSessionUnknown) {
		return apperrors.CodeExpired()
	}
	return mapGatewayError(err)
}

func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrCodeInvalid):
		return apperrors.CodeInvalid()
	case errors.Is(err, gateway.ErrCodeExpired), errors.Is(err, gateway.ErrSessionUnknown):
		return apperrors.CodeExpired()
	case errors.Is(err, gateway.ErrSecondFactorRequired):
		return apperrors.SecondFactorRequired()
	case errors.Is(err, gateway.ErrFloodWait):
		return apperrors.RateLimited()
	case errors.Is(err, gateway.ErrIdentifierInvalid):
		return apperrors.InvalidInput("identifier", "rejected by messaging network")
	case errors.Is(err, gateway.ErrUnavailable):
		return apperrors.GatewayUnavailable(err)
	default:
		return apperrors.GatewayUnavailable(fmt.Errorf("unexpected gateway error: %w", err))
	}
}
