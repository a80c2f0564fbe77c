package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steady-platform/steady/internal/period"
	"github.com/steady-platform/steady/internal/users"
)

// ResourceType is the unit a quota meters.
type ResourceType string

const (
	ResourceCalls  ResourceType = "calls"
	ResourceTokens ResourceType = "tokens"
	ResourceCost   ResourceType = "cost" // integer cents
)

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceCalls, ResourceTokens, ResourceCost:
		return true
	}
	return false
}

// Unlimited is the sentinel limit meaning "no cap". It is distinct from a
// zero limit, which denies every request.
const Unlimited int64 = -1

// Record is one enforceable limit on a single resource type, optionally
// scoped to one downstream service. Used accumulates within the window
// anchored at WindowAnchor and is reset when the window rolls over.
type Record struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	Resource     ResourceType  `json:"resource"`
	Service      string        `json:"service,omitempty"` // empty applies across all services
	Limit        int64         `json:"limit"`
	Used         int64         `json:"used"`
	Period       period.Period `json:"period"`
	WindowAnchor time.Time     `json:"window_anchor"`
	Description  string        `json:"description,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Validate rejects malformed records before any store mutation.
func (r *Record) Validate() error {
	if !r.Resource.Valid() {
		return fmt.Errorf("unknown resource type %q", r.Resource)
	}
	if !r.Period.Valid() {
		return fmt.Errorf("unknown period %q", r.Period)
	}
	if r.Limit != Unlimited && r.Limit < 1 {
		return fmt.Errorf("limit must be positive, or %d for unlimited", Unlimited)
	}
	if r.Used < 0 {
		return fmt.Errorf("used must not be negative")
	}
	return nil
}

// Amount is a tagged quantity of one metered resource. Building amounts
// through Calls, Tokens, and Cost keeps callers from handing the enforcer a
// bare number it could attribute to the wrong resource.
type Amount struct {
	Resource ResourceType
	Value    int64
}

// Calls returns an amount of n metered calls.
func Calls(n int64) Amount { return Amount{Resource: ResourceCalls, Value: n} }

// Tokens returns an amount of n tokens.
func Tokens(n int64) Amount { return Amount{Resource: ResourceTokens, Value: n} }

// Cost returns a monetary amount in integer cents.
func Cost(cents int64) Amount { return Amount{Resource: ResourceCost, Value: cents} }

// projection maps each resource to the usage a single request would add.
// The call count defaults to 1 when not given explicitly.
func projection(amounts []Amount) map[ResourceType]int64 {
	p := map[ResourceType]int64{ResourceCalls: 1}
	for _, a := range amounts {
		p[a.Resource] = a.Value
	}
	return p
}

// Decision is the outcome of a quota check. A denial is a normal value,
// never an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// ResetAt is set on denial: the instant the violated window rolls over.
	ResetAt *time.Time `json:"reset_at,omitempty"`
	// Remaining headroom after the projected request; Unlimited when no
	// finite cap applies.
	RemainingCalls  int64 `json:"remaining_calls"`
	RemainingTokens int64 `json:"remaining_tokens"`
}

// TierLimits holds the role-default daily caps for one tier.
type TierLimits struct {
	DailyCalls     int64
	DailyTokens    int64
	DailyCostCents int64
}

// LimitTable maps role tiers to their default daily caps. It is passed into
// the Service at construction so tests can substitute limits.
type LimitTable map[users.Tier]TierLimits

// DefaultLimitTable returns the built-in role defaults.
func DefaultLimitTable() LimitTable {
	return LimitTable{
		users.TierFree:      {DailyCalls: 200, DailyTokens: 200_000, DailyCostCents: 500},
		users.TierPro:       {DailyCalls: 2_000, DailyTokens: 2_000_000, DailyCostCents: 5_000},
		users.TierUnlimited: {DailyCalls: Unlimited, DailyTokens: Unlimited, DailyCostCents: Unlimited},
	}
}

// WindowUsage aggregates successful metered consumption inside one window.
type WindowUsage struct {
	Calls     int64
	Tokens    int64
	CostCents int64
}
