package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/oakfield/runengine/internal/workflow"
)

// PostgresConfig configures a PostgresStore's connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// PostgresStore implements Store over a Postgres/CockroachDB-compatible
// database via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a connection pool against dsn. Callers
// are expected to have already applied the schema this store assumes
// (workflows/runs/steps tables); schema migration is out of this engine's
// scope.
func NewPostgresStore(dsn string, cfg PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: dsn is required")
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, name, steps_json, variables_json, trigger, schedule_cron, status
		FROM workflows WHERE id = $1`, id)

	var w workflow.Workflow
	var stepsJSON, variablesJSON []byte
	if err := row.Scan(&w.ID, &w.Owner, &w.Name, &stepsJSON, &variablesJSON, &w.Trigger, &w.ScheduleCron, &w.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get workflow: %w", err)
	}
	if err := unmarshalIfPresent(stepsJSON, &w.Steps); err != nil {
		return nil, fmt.Errorf("store: decode steps: %w", err)
	}
	if err := unmarshalIfPresent(variablesJSON, &w.Variables); err != nil {
		return nil, fmt.Errorf("store: decode variables: %w", err)
	}
	return &w, nil
}

func (s *PostgresStore) ListScheduledWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, steps_json, variables_json, trigger, schedule_cron, status
		FROM workflows
		WHERE trigger = 'scheduled' AND status = 'active' AND schedule_cron IS NOT NULL AND schedule_cron <> ''`)
	if err != nil {
		return nil, fmt.Errorf("store: list scheduled workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var w workflow.Workflow
		var stepsJSON, variablesJSON []byte
		if err := rows.Scan(&w.ID, &w.Owner, &w.Name, &stepsJSON, &variablesJSON, &w.Trigger, &w.ScheduleCron, &w.Status); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		if err := unmarshalIfPresent(stepsJSON, &w.Steps); err != nil {
			return nil, fmt.Errorf("store: decode steps: %w", err)
		}
		if err := unmarshalIfPresent(variablesJSON, &w.Variables); err != nil {
			return nil, fmt.Errorf("store: decode variables: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, status, trigger, total_steps, completed_steps, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.WorkflowID, r.Status, r.Trigger, r.TotalSteps, r.CompletedSteps,
		nullTime(r.StartedAt), nullTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *workflow.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=$2, total_steps=$3, completed_steps=$4, started_at=$5, completed_at=$6
		WHERE id=$1`,
		r.ID, r.Status, r.TotalSteps, r.CompletedSteps, nullTime(r.StartedAt), nullTime(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, status, trigger, total_steps, completed_steps, started_at, completed_at
		FROM runs WHERE id=$1`, id)

	var r workflow.Run
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.WorkflowID, &r.Status, &r.Trigger, &r.TotalSteps, &r.CompletedSteps, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	r.StartedAt = fromNullTime(startedAt)
	r.CompletedAt = fromNullTime(completedAt)
	return &r, nil
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *workflow.Step) error {
	resultJSON, err := json.Marshal(step.ResultData)
	if err != nil {
		return fmt.Errorf("store: marshal step result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps (id, run_id, step_number, action, target, value, description, condition,
			status, result_data, screenshot, error_message, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		step.ID, step.RunID, step.StepNumber, step.Action, step.Target, step.Value, step.Description, step.Condition,
		step.Status, resultJSON, step.Screenshot, step.ErrorMessage, nullTime(step.StartedAt), nullTime(step.CompletedAt))
	if err != nil {
		return fmt.Errorf("store: create step: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *workflow.Step) error {
	resultJSON, err := json.Marshal(step.ResultData)
	if err != nil {
		return fmt.Errorf("store: marshal step result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps SET target=$2, value=$3, status=$4, result_data=$5, screenshot=$6,
			error_message=$7, started_at=$8, completed_at=$9
		WHERE id=$1`,
		step.ID, step.Target, step.Value, step.Status, resultJSON, step.Screenshot,
		step.ErrorMessage, nullTime(step.StartedAt), nullTime(step.CompletedAt))
	if err != nil {
		return fmt.Errorf("store: update step: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]*workflow.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_number, action, target, value, description, condition,
			status, result_data, screenshot, error_message, started_at, completed_at
		FROM steps WHERE run_id=$1 ORDER BY step_number ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list steps: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Step
	for rows.Next() {
		var st workflow.Step
		var resultJSON []byte
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.RunID, &st.StepNumber, &st.Action, &st.Target, &st.Value, &st.Description, &st.Condition,
			&st.Status, &resultJSON, &st.Screenshot, &st.ErrorMessage, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("store: scan step: %w", err)
		}
		if err := unmarshalIfPresent(resultJSON, &st.ResultData); err != nil {
			return nil, fmt.Errorf("store: decode step result: %w", err)
		}
		st.StartedAt = fromNullTime(startedAt)
		st.CompletedAt = fromNullTime(completedAt)
		out = append(out, &st)
	}
	return out, rows.Err()
}

func unmarshalIfPresent(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
