package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Actionrun/internal/domain"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

// PlanRunSchema — DDL таблицы plan_runs.
//
// План и записи шагов хранятся в JSONB: они читаются и пишутся
// целиком вместе с run, отдельные шаги по SQL не запрашиваются.
const PlanRunSchema = `
CREATE TABLE IF NOT EXISTS plan_runs (
	id          UUID PRIMARY KEY,
	plan_name   TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	plan        JSONB       NOT NULL,
	steps       JSONB       NOT NULL,
	failed_step TEXT,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS plan_runs_status_idx ON plan_runs (status);
CREATE INDEX IF NOT EXISTS plan_runs_finished_at_idx ON plan_runs (finished_at);
`

const planRunColumns = `id, plan_name, status, plan, steps, failed_step, error, created_at, started_at, finished_at`

// PlanRunRepo — репозиторий статусов runs в PostgreSQL.
type PlanRunRepo struct {
	pool *pgxpool.Pool
}

// NewPlanRunRepo создаёт новый PlanRunRepo.
func NewPlanRunRepo(pool *pgxpool.Pool) *PlanRunRepo {
	return &PlanRunRepo{pool: pool}
}

// EnsureSchema создаёт таблицу, если её нет.
func (r *PlanRunRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, PlanRunSchema); err != nil {
		return fmt.Errorf("ensure plan_runs schema: %w", err)
	}
	return nil
}

// Create сохраняет новый run.
func (r *PlanRunRepo) Create(ctx context.Context, run *domain.PlanRun) error {
	planJSON, stepsJSON, err := marshalRun(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO plan_runs (` + planRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.PlanName,
		run.Status,
		planJSON,
		stepsJSON,
		nullString(run.FailedStep),
		nullString(run.Error),
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.ID)
		}
		return fmt.Errorf("insert plan run: %w", err)
	}
	return nil
}

// Get возвращает run по ID.
func (r *PlanRunRepo) Get(ctx context.Context, id uuid.UUID) (*domain.PlanRun, error) {
	query := `SELECT ` + planRunColumns + ` FROM plan_runs WHERE id = $1`
	return scanPlanRun(r.pool.QueryRow(ctx, query, id))
}

// Update перезаписывает статус, шаги и время run.
// План после создания не меняется и не обновляется.
func (r *PlanRunRepo) Update(ctx context.Context, run *domain.PlanRun) error {
	stepsJSON, err := json.Marshal(run.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		UPDATE plan_runs
		SET status = $2, steps = $3, failed_step = $4, error = $5,
		    started_at = $6, finished_at = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		stepsJSON,
		nullString(run.FailedStep),
		nullString(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update plan run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет run.
func (r *PlanRunRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM plan_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает runs по фильтру, новые первыми.
func (r *PlanRunRepo) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlanRun, error) {
	query := `
		SELECT ` + planRunColumns + `
		FROM plan_runs
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::timestamptz IS NULL OR finished_at < $2)
		ORDER BY created_at DESC
		LIMIT NULLIF($3, 0)
	`
	rows, err := r.pool.Query(ctx, query, listArgs(filter)...)
	if err != nil {
		return nil, fmt.Errorf("list plan runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.PlanRun, 0)
	for rows.Next() {
		run, err := scanPlanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// listArgs превращает фильтр в аргументы запроса List.
func listArgs(filter domain.RunFilter) []any {
	return []any{
		nullString(string(filter.Status)),
		nullTime(filter.FinishedBefore),
		max(filter.Limit, 0),
	}
}

func marshalRun(run *domain.PlanRun) (planJSON, stepsJSON []byte, err error) {
	planJSON, err = json.Marshal(run.Plan)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal plan: %w", err)
	}
	stepsJSON, err = json.Marshal(run.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal steps: %w", err)
	}
	return planJSON, stepsJSON, nil
}

// scanPlanRun сканирует строку (pgx.Row или pgx.Rows) в PlanRun.
func scanPlanRun(row pgx.Row) (*domain.PlanRun, error) {
	var run domain.PlanRun
	var planJSON, stepsJSON []byte
	var failedStep, runError *string

	err := row.Scan(
		&run.ID,
		&run.PlanName,
		&run.Status,
		&planJSON,
		&stepsJSON,
		&failedStep,
		&runError,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan run: %w", err)
	}

	if err := json.Unmarshal(planJSON, &run.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &run.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if failedStep != nil {
		run.FailedStep = *failedStep
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime возвращает nil для нулевого времени.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
