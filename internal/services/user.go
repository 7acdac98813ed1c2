package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/minauth/apiserver/types"
	"github.com/redis/go-redis/v9"
)

const usersCacheKey = "users"

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	cache    *redis.Client
	cacheTTL time.Duration
}

func NewUserService(repo UserRepository, cache *redis.Client, cacheTTL time.Duration) *UserService {
	return &UserService{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// WarmUsersCache fills the shared users cache when it is empty or
// expired. This is a performance hint only: every error is swallowed,
// callers always read fresh by email afterwards, and concurrent warms
// overwrite each other harmlessly.
func (s *UserService) WarmUsersCache(ctx context.Context) {
	if s.cache == nil {
		return
	}

	exists, err := s.cache.Exists(ctx, usersCacheKey).Result()
	if err != nil || exists > 0 {
		return
	}

	users, err := s.repo.List(ctx)
	if err != nil {
		return
	}

	payload, err := json.Marshal(users)
	if err != nil {
		return
	}

	_ = s.cache.Set(ctx, usersCacheKey, payload, s.cacheTTL).Err()
}
