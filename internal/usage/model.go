package usage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a metered call ended.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeError         Outcome = "error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeError, OutcomeTimeout, OutcomeQuotaExceeded:
		return true
	}
	return false
}

// Event is one immutable record of a metered call. Events are append-only;
// only the retention cleaner ever deletes them. Quota counters are caches
// derived from this log.
type Event struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Service     string    `json:"service,omitempty"`
	Calls       int64     `json:"calls"`
	Tokens      int64     `json:"tokens"`
	CostCents   int64     `json:"cost_cents"`
	Outcome     Outcome   `json:"outcome"`
	RequestedAt time.Time `json:"requested_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate rejects malformed events before any store mutation.
func (e *Event) Validate() error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("user id is required")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Calls < 0 || e.Tokens < 0 || e.CostCents < 0 {
		return fmt.Errorf("resource amounts must not be negative")
	}
	return nil
}
