package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("activity record not found")

type Repository interface {
	Insert(ctx context.Context, rec *ActivityRecord) error
	ExistsOnDate(ctx context.Context, userID uuid.UUID, date time.Time) (bool, error)
	// ListDates returns the user's activity dates in descending order.
	ListDates(ctx context.Context, userID uuid.UUID) ([]time.Time, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ActivityRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Insert(ctx context.Context, rec *ActivityRecord) error {
	query := `
		INSERT INTO activity_records (id, user_id, activity_date, occurred_at, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.UserID, rec.ActivityDate, rec.OccurredAt, rec.Note, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting activity record: %w", err)
	}
	return nil
}

func (r *postgresRepository) ExistsOnDate(ctx context.Context, userID uuid.UUID, date time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM activity_records WHERE user_id = $1 AND activity_date = $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking activity date: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) ListDates(ctx context.Context, userID uuid.UUID) ([]time.Time, error) {
	query := `
		SELECT activity_date FROM activity_records
		WHERE user_id = $1
		ORDER BY activity_date DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing activity dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning activity date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity dates: %w", err)
	}
	return dates, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*ActivityRecord, error) {
	query := `
		SELECT id, user_id, activity_date, occurred_at, note, created_at
		FROM activity_records WHERE id = $1`

	var rec ActivityRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.UserID, &rec.ActivityDate, &rec.OccurredAt, &rec.Note, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting activity record: %w", err)
	}
	return &rec, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activity_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting activity record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
