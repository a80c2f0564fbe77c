package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a quota record id does not exist.
var ErrNotFound = errors.New("quota record not found")

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error)
	// ListActive returns the user's records whose scope is unset or equal
	// to the requested service.
	ListActive(ctx context.Context, userID uuid.UUID, service string) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	// ResetWindow zeroes the counter and advances the window anchor in one
	// atomic update.
	ResetWindow(ctx context.Context, id uuid.UUID, anchor time.Time) error
	// IncrementUsed adds delta to the counter in one atomic update.
	IncrementUsed(ctx context.Context, id uuid.UUID, delta int64) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const recordColumns = `id, user_id, resource, service, limit_value, used, period, window_anchor, description, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO quota_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.Resource, rec.Service, rec.Limit, rec.Used,
		rec.Period, rec.WindowAnchor, rec.Description, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting quota record: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM quota_records WHERE id = $1`

	rec := &Record{}
	err := scanRecord(r.pool.QueryRow(ctx, query, id), rec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying quota record: %w", err)
	}
	return rec, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM quota_records WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing quota records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *postgresRepository) ListActive(ctx context.Context, userID uuid.UUID, service string) ([]Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM quota_records
		WHERE user_id = $1 AND (service = '' OR service = $2)
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, userID, service)
	if err != nil {
		return nil, fmt.Errorf("listing active quota records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *postgresRepository) ListAll(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM quota_records ORDER BY user_id, created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing all quota records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *postgresRepository) ResetWindow(ctx context.Context, id uuid.UUID, anchor time.Time) error {
	query := `
		UPDATE quota_records
		SET used = 0, window_anchor = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, anchor)
	if err != nil {
		return fmt.Errorf("resetting quota window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) IncrementUsed(ctx context.Context, id uuid.UUID, delta int64) error {
	query := `
		UPDATE quota_records
		SET used = used + $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("incrementing quota counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM quota_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting quota record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row, rec *Record) error {
	return row.Scan(
		&rec.ID, &rec.UserID, &rec.Resource, &rec.Service, &rec.Limit, &rec.Used,
		&rec.Period, &rec.WindowAnchor, &rec.Description, &rec.CreatedAt, &rec.UpdatedAt)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scanning quota record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quota records: %w", err)
	}
	return recs, nil
}
