package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/thumbgen/tracker/internal/model"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore persists accounts keyed by normalized email
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RedisUserStore keeps users as JSON under user:<email>
type RedisUserStore struct {
	redis *redis.Client
}

func NewRedisUserStore(redisClient *redis.Client) *RedisUserStore {
	return &RedisUserStore{redis: redisClient}
}

func (s *RedisUserStore) Create(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, fmt.Sprintf("user:%s", normalizeEmail(user.Email)), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if !ok {
		return ErrEmailTaken
	}
	return nil
}

func (s *RedisUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("user:%s", normalizeEmail(email))).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// MemoryUserStore is a process-local UserStore
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]model.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]model.User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeEmail(user.Email)
	if _, ok := s.users[key]; ok {
		return ErrEmailTaken
	}
	s.users[key] = *user
	return nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}
