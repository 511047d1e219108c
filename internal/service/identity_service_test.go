package service

import (
	"context"
	"testing"

	"github.com/damoang/angple-chat/internal/common"
	"github.com/damoang/angple-chat/internal/domain"
	"github.com/damoang/angple-chat/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// --- Mock UserRepository ---

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.User, error) {
	args := m.Called(ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint64]*domain.User), args.Error(1)
}

func newIdentity(t *testing.T) (*IdentityService, *jwt.Manager, *mockUserRepo) {
	t.Helper()
	tokens := jwt.NewManager("identity-test-secret", 900, 3600)
	users := new(mockUserRepo)
	return NewIdentityService(tokens, users), tokens, users
}

func TestAuthenticate_Success(t *testing.T) {
	svc, tokens, users := newIdentity(t)
	token, err := tokens.GenerateAccessToken(7, "stale-tenant", "employee", "Kim")
	assert.NoError(t, err)

	users.On("FindByID", uint64(7)).Return(&domain.User{
		ID: 7, TenantID: "acme", Role: domain.RoleHR, Name: "Kim Jisoo", Status: domain.StatusActive,
	}, nil)

	actor, err := svc.Authenticate(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), actor.UserID)
	assert.Equal(t, "acme", actor.TenantID)
	assert.Equal(t, domain.RoleHR, actor.Role)
	assert.Equal(t, "Kim Jisoo", actor.DisplayName)
	users.AssertExpectations(t)
}

func TestAuthenticate_Failures(t *testing.T) {
	svc, tokens, users := newIdentity(t)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	expired := jwt.NewManager("identity-test-secret", -60, 3600)
	token, _ := expired.GenerateAccessToken(7, "acme", "hr", "Kim")
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	users.On("FindByID", uint64(8)).Return(nil, common.NotFound("user not found"))
	token, _ = tokens.GenerateAccessToken(8, "acme", "hr", "Ghost")
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, common.ErrUnauthenticated)

	users.On("FindByID", uint64(9)).Return(&domain.User{ID: 9, TenantID: "acme", Role: domain.RoleEmployee, Status: "suspended"}, nil)
	token, _ = tokens.GenerateAccessToken(9, "acme", "employee", "Lee")
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, common.ErrForbidden)

	users.On("FindByID", uint64(10)).Return(&domain.User{ID: 10, TenantID: "acme", Role: "guest", Status: domain.StatusActive}, nil)
	token, _ = tokens.GenerateAccessToken(10, "acme", "guest", "Park")
	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, common.ErrForbidden)
}
