package service

import (
	"context"

	"github.com/openclaw/broadcast-server-go/internal/audit"
	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/model"
	"github.com/openclaw/broadcast-server-go/internal/repository"
)

var roleRank = map[model.Role]int{
	model.RoleSubscriber: 1,
	model.RoleAdmin:      2,
}

// RequireRole is the single authorization check for role-gated operations.
// A deactivated account passes no check.
func RequireRole(account *model.Account, role model.Role) error {
	if account == nil {
		return apperrors.Unauthorized("Authentication required")
	}
	if !account.Active {
		return apperrors.Forbidden("Account is deactivated")
	}
	if roleRank[account.Role] < roleRank[role] {
		return apperrors.Forbidden("Requires role " + string(role))
	}
	return nil
}

type AdminService struct {
	accounts repository.AccountRepository
}

func NewAdminService(accounts repository.AccountRepository) *AdminService {
	return &AdminService{accounts: accounts}
}

func (s *AdminService) ListAccounts(ctx context.Context, actor *model.Account) ([]model.Account, error) {
	if err := RequireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	return accounts, nil
}

func (s *AdminService) SetActive(ctx context.Context, actor *model.Account, identifier string, active bool) (*model.Account, error) {
	if err := RequireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if identifier == actor.Identifier && !active {
		return nil, apperrors.InvalidInput("identifier", "admins cannot deactivate themselves")
	}

	found, err := s.accounts.SetActive(ctx, identifier, active)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if !found {
		return nil, apperrors.NotFound("Account")
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventActiveChange,
		Identifier: identifier,
		Actor:      actor.Identifier,
		Details:    map[string]interface{}{"active": active},
	})
	return s.reload(ctx, identifier)
}

func (s *AdminService) SetRole(ctx context.Context, actor *model.Account, identifier string, role model.Role) (*model.Account, error) {
	if err := RequireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.InvalidInput("role", "must be subscriber or admin")
	}
	if identifier == actor.Identifier && role != model.RoleAdmin {
		return nil, apperrors.InvalidInput("identifier", "admins cannot demote themselves")
	}
	return s.setRole(ctx, actor.Identifier, identifier, role)
}

// Promote grants admin without an acting account. It backs the operator CLI.
func (s *AdminService) Promote(ctx context.Context, identifier string) (*model.Account, error) {
	return s.setRole(ctx, "", identifier, model.RoleAdmin)
}

func (s *AdminService) setRole(ctx context.Context, actor, identifier string, role model.Role) (*model.Account, error) {
	found, err := s.accounts.SetRole(ctx, identifier, role)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if !found {
		return nil, apperrors.NotFound("Account")
	}

	audit.Log(ctx, audit.Event{
		Type:       audit.EventRoleChange,
		Identifier: identifier,
		Actor:      actor,
		Details:    map[string]interface{}{"role": string(role)},
	})
	return s.reload(ctx, identifier)
}

func (s *AdminService) reload(ctx context.Context, identifier string) (*model.Account, error) {
	account, err := s.accounts.Get(ctx, identifier)
	if err != nil {
		return nil, apperrors.Repository(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}
	return account, nil
}
