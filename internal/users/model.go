package users

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Tier is the role tier that determines an account's default quota limits.
type Tier string

const (
	TierFree      Tier = "free"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierUnlimited:
		return true
	}
	return false
}

// User is the directory view the engine needs: identity, status, and tier.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
