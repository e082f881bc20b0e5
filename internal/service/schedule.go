package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/gateway"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/repository"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

const (
	maxMessageLength   = 4096
	maxTargets         = 100
	maxIntervalMinutes = 365 * 24 * 60
)

type CreateScheduleInput struct {
	Message         string   `json:"message"`
	Targets         []string `json:"targets"`
	IntervalMinutes int      `json:"intervalMinutes"`
}

type ScheduleService struct {
	schedules repository.ScheduleRepository
	accounts  repository.AccountRepository
	gateway   gateway.Gateway
}

func NewScheduleService(
	schedules repository.ScheduleRepository,
	accounts repository.AccountRepository,
	gw gateway.Gateway,
) *ScheduleService {
	return &ScheduleService{
		schedules: schedules,
		accounts:  accounts,
		gateway:   gw,
	}
}

func (s *ScheduleService) Create(ctx context.Context, owner string, input CreateScheduleInput) (*model.Schedule, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, apperrors.MissingRequired("message")
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, apperrors.InvalidInput("message", "too long")
	}

	targets := model.NormalizeTargets(input.Targets)
	if len(targets) == 0 {
		return nil, apperrors.MissingRequired("targets")
	}
	if len(targets) > maxTargets {
		return nil, apperrors.InvalidInput("targets", "too many targets")
	}

	if input.IntervalMinutes < 1 || input.IntervalMinutes > maxIntervalMinutes {
		return nil, apperrors.InvalidInput("intervalMinutes", "must be between 1 minute and 1 year")
	}

	account, err := s.accounts.Get(ctx, owner)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if !account.HasCredential() {
		return nil, apperrors.UnauthenticatedOwner(util.MaskIdentifier(owner))
	}
	if !account.Active {
		return nil, apperrors.Forbidden("Account is deactivated")
	}

	schedule, err := s.schedules.Create(ctx, model.CreateScheduleParams{
		Owner:           owner,
		Message:         message,
		Targets:         targets,
		IntervalMinutes: input.IntervalMinutes,
	})
	if err != nil {
		return nil, apperrors.Repository(err)
	}

	log.Info().
		Str("scheduleId", schedule.ID).
		Str("owner", util.MaskIdentifier(owner)).
		Int("targets", len(schedule.Targets)).
		Int("intervalMinutes", schedule.IntervalMinutes).
		Msg("schedule created")

	return schedule, nil
}

func (s *ScheduleService) ListByOwner(ctx context.Context, owner string) ([]model.Schedule, error) {
	schedules, err := s.schedules.ListByOwner(ctx, owner)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	return schedules, nil
}

// ListGroups returns the group conversations the owner's account can post to.
func (s *ScheduleService) ListGroups(ctx context.Context, owner string) ([]model.Conversation, error) {
	account, err := s.accounts.Get(ctx, owner)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if !account.HasCredential() {
		return nil, apperrors.UnauthenticatedOwner(util.MaskIdentifier(owner))
	}

	session, err := s.gateway.OpenSession(ctx, gateway.FromCredential(*account.Credential))
	if err != nil {
		return nil, mapOwnerSessionError(owner, err)
	}
	defer func() {
		if err := s.gateway.CloseSession(context.WithoutCancel(ctx), session); err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID()).Msg("failed to close gateway session")
		}
	}()

	conversations, err := session.ListGroupConversations(ctx)
	if err != nil {
		return nil, mapOwnerSessionError(owner, err)
	}
	return conversations, nil
}

// mapOwnerSessionError reports a revoked credential as an unauthenticated owner.
func mapOwnerSessionError(owner string, err error) error {
	if errors.Is(err, gateway.ErrSessionUnknown) {
		return apperrors.UnauthenticatedOwner(util.MaskIdentifier(owner)).WithCause(err)
	}
	return apperrors.GatewayUnavailable(err)
}
