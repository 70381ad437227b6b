package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("task not found")

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Task is the authoritative record's externally visible snapshot. Every
// instance handed to the broadcast path is read back from the store at
// commit time, never assembled from request data.
type Task struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	DueDate     *time.Time `json:"due_date"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Stats struct {
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	PendingTasks   int `json:"pending_tasks"`
	DueToday       int `json:"due_today"`
	HighPriority   int `json:"high_priority"`
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, task Task) (Task, error)
	Update(ctx context.Context, task Task) (Task, error)
	Delete(ctx context.Context, taskID, userID int64) (Task, error)
	GetByID(ctx context.Context, taskID int64) (Task, error)
	ListForUser(ctx context.Context, userID int64) ([]Task, error)
	StatsForUser(ctx context.Context, userID int64) (Stats, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTasksSQL = `
CREATE TABLE IF NOT EXISTS tasks (
  id bigserial PRIMARY KEY,
  user_id bigint NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  title text NOT NULL,
  description text NOT NULL DEFAULT '',
  completed boolean NOT NULL DEFAULT false,
  due_date timestamptz,
  priority text NOT NULL DEFAULT 'normal',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
)`

const taskColumns = `id, user_id, title, description, completed, due_date, priority, created_at, updated_at`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createTasksSQL)
	return err
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed,
		&t.DueDate, &t.Priority, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, task Task) (Task, error) {
	return scanTask(r.Pool.QueryRow(ctx,
		`INSERT INTO tasks (user_id, title, description, completed, due_date, priority)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+taskColumns,
		task.UserID, task.Title, task.Description, task.Completed, task.DueDate, task.Priority,
	))
}

func (r *PostgresRepository) Update(ctx context.Context, task Task) (Task, error) {
	return scanTask(r.Pool.QueryRow(ctx,
		`UPDATE tasks
		 SET title = $3, description = $4, completed = $5, due_date = $6, priority = $7, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		task.ID, task.UserID, task.Title, task.Description, task.Completed, task.DueDate, task.Priority,
	))
}

func (r *PostgresRepository) Delete(ctx context.Context, taskID, userID int64) (Task, error) {
	return scanTask(r.Pool.QueryRow(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING `+taskColumns,
		taskID, userID,
	))
}

func (r *PostgresRepository) GetByID(ctx context.Context, taskID int64) (Task, error) {
	return scanTask(r.Pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		taskID,
	))
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int64) ([]Task, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed,
			&t.DueDate, &t.Priority, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) StatsForUser(ctx context.Context, userID int64) (Stats, error) {
	var s Stats
	err := r.Pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE completed),
		        count(*) FILTER (WHERE NOT completed),
		        count(*) FILTER (WHERE due_date::date = (now() AT TIME ZONE 'utc')::date),
		        count(*) FILTER (WHERE priority = 'high' AND NOT completed)
		 FROM tasks
		 WHERE user_id = $1`,
		userID,
	).Scan(&s.TotalTasks, &s.CompletedTasks, &s.PendingTasks, &s.DueToday, &s.HighPriority)
	return s, err
}
