package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("calendar event not found")

type Event struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	AllDay      bool       `json:"all_day"`
	Color       string     `json:"color"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Range bounds a list query; zero values leave the bound open.
type Range struct {
	Start time.Time
	End   time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, event Event) (Event, error)
	Update(ctx context.Context, event Event) (Event, error)
	Delete(ctx context.Context, eventID, userID int64) error
	GetByID(ctx context.Context, eventID int64) (Event, error)
	ListForUser(ctx context.Context, userID int64, r Range) ([]Event, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS calendar_events (
  id bigserial PRIMARY KEY,
  user_id bigint NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  start_time timestamptz NOT NULL,
  end_time timestamptz,
  all_day boolean NOT NULL DEFAULT false,
  color text NOT NULL DEFAULT '#667eea',
  created_at timestamptz NOT NULL DEFAULT now()
)`

const eventColumns = `id, user_id, title, description, start_time, end_time, all_day, color, created_at`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createEventsSQL)
	return err
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID, &e.UserID, &e.Title, &e.Description, &e.StartTime,
		&e.EndTime, &e.AllDay, &e.Color, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	return e, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, event Event) (Event, error) {
	return scanEvent(r.Pool.QueryRow(ctx,
		`INSERT INTO calendar_events (user_id, title, description, start_time, end_time, all_day, color)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+eventColumns,
		event.UserID, event.Title, event.Description, event.StartTime, event.EndTime, event.AllDay, event.Color,
	))
}

func (r *PostgresRepository) Update(ctx context.Context, event Event) (Event, error) {
	return scanEvent(r.Pool.QueryRow(ctx,
		`UPDATE calendar_events
		 SET title = $3, description = $4, start_time = $5, end_time = $6, all_day = $7, color = $8
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+eventColumns,
		event.ID, event.UserID, event.Title, event.Description, event.StartTime, event.EndTime, event.AllDay, event.Color,
	))
}

func (r *PostgresRepository) Delete(ctx context.Context, eventID, userID int64) error {
	res, err := r.Pool.Exec(ctx,
		`DELETE FROM calendar_events WHERE id = $1 AND user_id = $2`,
		eventID, userID,
	)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, eventID int64) (Event, error) {
	return scanEvent(r.Pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM calendar_events WHERE id = $1`,
		eventID,
	))
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int64, rng Range) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE user_id = $1`
	args := []any{userID}
	if !rng.Start.IsZero() {
		args = append(args, rng.Start)
		query += ` AND start_time >= $2`
	}
	if !rng.End.IsZero() {
		args = append(args, rng.End)
		if len(args) == 3 {
			query += ` AND (end_time IS NULL OR end_time <= $3)`
		} else {
			query += ` AND (end_time IS NULL OR end_time <= $2)`
		}
	}
	query += ` ORDER BY start_time`

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Title, &e.Description, &e.StartTime,
			&e.EndTime, &e.AllDay, &e.Color, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
