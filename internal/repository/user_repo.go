package repository

import (
	"context"
	"errors"
	"time"

	"github.com/damoang/angple-chat/internal/domain"
	pkgcache "github.com/damoang/angple-chat/pkg/cache"
	pkglogger "github.com/damoang/angple-chat/pkg/logger"
	"gorm.io/gorm"
)

// UserRepository read access to the user directory
type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*domain.User, error)
	FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var u domain.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrapErr("user", err)
	}
	return &u, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.User, error) {
	out := make(map[uint64]*domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []*domain.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, wrapErr("users", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// CachedUserRepository 캐시가 적용된 사용자 디렉터리
type CachedUserRepository struct {
	repo  UserRepository
	cache pkgcache.Service
	ttl   time.Duration
}

// NewCachedUserRepository wraps repo with a redis read-through cache
func NewCachedUserRepository(repo UserRepository, cache pkgcache.Service, ttl time.Duration) UserRepository {
	if cache == nil || !cache.IsAvailable() {
		return repo
	}
	return &CachedUserRepository{repo: repo, cache: cache, ttl: ttl}
}

func (r *CachedUserRepository) FindByID(ctx context.Context, id uint64) (*domain.User, error) {
	var u domain.User
	err := r.cache.GetUser(ctx, id, &u)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, pkgcache.ErrMiss) {
		pkglogger.GetLogger().Warn().Err(err).Uint64("user_id", id).Msg("user cache read failed")
	}

	user, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, user)
	return user, nil
}

func (r *CachedUserRepository) FindByIDs(ctx context.Context, ids []uint64) (map[uint64]*domain.User, error) {
	out := make(map[uint64]*domain.User, len(ids))
	var missing []uint64
	for _, id := range ids {
		var u domain.User
		if err := r.cache.GetUser(ctx, id, &u); err == nil {
			out[id] = &u
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := r.repo.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, u := range loaded {
		out[id] = u
		r.store(ctx, u)
	}
	return out, nil
}

func (r *CachedUserRepository) store(ctx context.Context, u *domain.User) {
	if err := r.cache.SetUser(ctx, u.ID, u, r.ttl); err != nil {
		pkglogger.GetLogger().Warn().Err(err).Uint64("user_id", u.ID).Msg("user cache write failed")
	}
}
