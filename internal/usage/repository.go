package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steady-platform/steady/internal/quota"
)

type Repository interface {
	Insert(ctx context.Context, event *Event) error
	// AggregateWindow sums successful consumption inside [from, to]. An
	// empty service aggregates across all services.
	AggregateWindow(ctx context.Context, userID uuid.UUID, service string, from, to time.Time) (quota.WindowUsage, error)
	ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error)
	// DeleteOlderThan removes at most limit events recorded before cutoff
	// and returns the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Insert(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO usage_events (id, user_id, service, calls, tokens, cost_cents, outcome, requested_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.UserID, event.Service, event.Calls, event.Tokens,
		event.CostCents, event.Outcome, event.RequestedAt, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting usage event: %w", err)
	}
	return nil
}

func (r *postgresRepository) AggregateWindow(ctx context.Context, userID uuid.UUID, service string, from, to time.Time) (quota.WindowUsage, error) {
	query := `
		SELECT COALESCE(SUM(calls), 0), COALESCE(SUM(tokens), 0), COALESCE(SUM(cost_cents), 0)
		FROM usage_events
		WHERE user_id = $1
		  AND outcome = 'success'
		  AND requested_at >= $2 AND requested_at <= $3
		  AND ($4 = '' OR service = $4)`

	var agg quota.WindowUsage
	err := r.pool.QueryRow(ctx, query, userID, from, to, service).
		Scan(&agg.Calls, &agg.Tokens, &agg.CostCents)
	if err != nil {
		return quota.WindowUsage{}, fmt.Errorf("aggregating usage window: %w", err)
	}
	return agg, nil
}

func (r *postgresRepository) ListRecent(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	query := `
		SELECT id, user_id, service, calls, tokens, cost_cents, outcome, requested_at, created_at
		FROM usage_events
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing usage events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.UserID, &e.Service, &e.Calls, &e.Tokens,
			&e.CostCents, &e.Outcome, &e.RequestedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning usage event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage events: %w", err)
	}
	return events, nil
}

func (r *postgresRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	// Limited subquery keeps each delete short and avoids long table locks.
	query := `
		DELETE FROM usage_events
		WHERE id IN (
			SELECT id FROM usage_events
			WHERE requested_at < $1
			ORDER BY requested_at ASC
			LIMIT $2
		)`

	tag, err := r.pool.Exec(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("deleting expired usage events: %w", err)
	}
	return tag.RowsAffected(), nil
}
