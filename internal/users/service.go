package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("user not found")
	ErrEmailTaken  = errors.New("email already registered")
	ErrUnknownTier = errors.New("unknown tier")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new active account on the given tier.
func (s *Service) Create(ctx context.Context, email string, tier Tier) (*User, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	taken, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	now := time.Now()
	user := &User{
		ID:        uuid.New(),
		Email:     email,
		Status:    StatusActive,
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Suspend marks an account inactive; quota checks deny suspended accounts.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) error {
	return s.repo.UpdateStatus(ctx, id, StatusSuspended)
}
