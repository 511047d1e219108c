package service

import (
	"context"
	"errors"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/internal/repository"
	"github.com/damoang/angple-chat/pkg/jwt"
)

// TokenVerifier verifies gateway tokens
type TokenVerifier interface {
	VerifyToken(token string) (*jwt.Claims, error)
}

// IdentityService resolves a bearer token into an Actor
type IdentityService struct {
	tokens TokenVerifier
	users  repository.UserRepository
}

// NewIdentityService creates a new IdentityService
func NewIdentityService(tokens TokenVerifier, users repository.UserRepository) *IdentityService {
	return &IdentityService{tokens: tokens, users: users}
}

// Authenticate verifies the token and checks the account status.
// The user directory is authoritative for tenant, role and name.
func (s *IdentityService) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, common.Unauthenticated("missing token")
	}
	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return domain.Actor{}, common.Unauthenticated("token expired")
		}
		return domain.Actor{}, common.Unauthenticated("invalid token")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return domain.Actor{}, common.Unauthenticated("unknown account")
		}
		return domain.Actor{}, err
	}

	actor := domain.Actor{
		UserID:        user.ID,
		TenantID:      user.TenantID,
		Role:          user.Role,
		DisplayName:   user.Name,
		AccountStatus: user.Status,
	}
	if actor.DisplayName == "" {
		actor.DisplayName = claims.Name
	}
	if actor.AccountStatus != domain.StatusActive {
		return actor, common.Forbidden("account is not active")
	}
	if !actor.Role.Valid() {
		return actor, common.Forbidden("unknown role")
	}
	return actor, nil
}
