package nats

import (
	"time"

	"github.com/google/uuid"
)

// StreamEvents holds every engine event; external collaborators (audit
// persistence, notification delivery) consume it with their own durables.
const StreamEvents = "STEADY_EVENTS"

// Subject constants.
const (
	SubjectUsageRecorded = "steady.events.usage_recorded"
	SubjectQuotaDenied   = "steady.events.quota_denied"
	SubjectQuotaReset    = "steady.events.quota_reset"
	SubjectCheckIn       = "steady.events.checkin"
)

// UsageRecordedEvent is published after a usage event is appended to the log.
type UsageRecordedEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	UserID    uuid.UUID `json:"user_id"`
	Service   string    `json:"service,omitempty"`
	Calls     int64     `json:"calls"`
	Tokens    int64     `json:"tokens"`
	CostCents int64     `json:"cost_cents"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// QuotaDeniedEvent is published when a quota check denies a request.
type QuotaDeniedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	Service   string    `json:"service,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// QuotaResetEvent is published when a quota record's window rolls over.
type QuotaResetEvent struct {
	RecordID     uuid.UUID `json:"record_id"`
	UserID       uuid.UUID `json:"user_id"`
	Resource     string    `json:"resource"`
	Period       string    `json:"period"`
	WindowAnchor time.Time `json:"window_anchor"`
	Timestamp    time.Time `json:"timestamp"`
}

// CheckInEvent is published when an activity check-in is accepted.
type CheckInEvent struct {
	RecordID     uuid.UUID `json:"record_id"`
	UserID       uuid.UUID `json:"user_id"`
	ActivityDate string    `json:"activity_date"` // YYYY-MM-DD in the user's calendar
	Timestamp    time.Time `json:"timestamp"`
}
