package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/storyforge/weft/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/weft.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	version := def.Version
	if version <= 0 {
		version = 1
	}
	status := def.Status
	if status == "" {
		status = schema.WorkflowStatusDraft
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, target_type, target_id, steps, status, version, auto_run, schedule, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, nullStr(def.Description), nullStr(string(def.TargetType)), nullStr(def.TargetID),
		string(steps), string(status), version, def.AutoRun, nullStr(def.Schedule),
		timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	return err
}

const workflowColumns = `id, name, description, target_type, target_id, steps, status, version, auto_run, schedule,
	run_count, success_count, failure_count, last_run_at, last_run_status, next_run_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		description, targetType, targetID, scheduleStr, lastStatus sql.NullString
		stepsJSON, status                                          string
		lastRunAt, nextRunAt                                       sql.NullTime
	)
	err := row.Scan(&def.ID, &def.Name, &description, &targetType, &targetID, &stepsJSON, &status,
		&def.Version, &def.AutoRun, &scheduleStr,
		&def.RunCount, &def.SuccessCount, &def.FailureCount, &lastRunAt, &lastStatus, &nextRunAt,
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.Description = description.String
	def.TargetType = schema.TargetType(targetType.String)
	def.TargetID = targetID.String
	def.Status = schema.WorkflowStatus(status)
	def.Schedule = scheduleStr.String
	def.LastRunStatus = schema.RunStatus(lastStatus.String)
	if lastRunAt.Valid {
		def.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		def.NextRunAt = &nextRunAt.Time
	}
	if err := json.Unmarshal([]byte(stepsJSON), &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return def, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	def, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullStr(*update.Description))
	}
	if update.Steps != nil {
		steps, err := json.Marshal(update.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		// Step edits bump the definition version.
		sets = append(sets, "steps = ?", "version = version + 1")
		args = append(args, string(steps))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.AutoRun != nil {
		sets = append(sets, "auto_run = ?")
		args = append(args, *update.AutoRun)
	}
	if update.Schedule != nil {
		sets = append(sets, "schedule = ?")
		args = append(args, nullStr(*update.Schedule))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TargetType != "" {
		where = append(where, "target_type = ?")
		args = append(args, string(filter.TargetType))
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.AutoRun != nil {
		where = append(where, "auto_run = ?")
		args = append(args, *filter.AutoRun)
	}
	if filter.DueBefore != nil {
		where = append(where, "(next_run_at IS NULL OR next_run_at <= ?)")
		args = append(args, *filter.DueBefore)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// UpdateWorkflowAggregates applies the post-run counter updates in a single
// atomic statement so concurrent finalizations of the same workflow never
// lose increments.
func (s *LibSQLStore) UpdateWorkflowAggregates(ctx context.Context, workflowID string, status schema.RunStatus) error {
	success := 0
	failure := 0
	switch status {
	case schema.RunStatusCompleted:
		success = 1
	case schema.RunStatusFailed:
		failure = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET
		   run_count = run_count + 1,
		   success_count = success_count + ?,
		   failure_count = failure_count + ?,
		   last_run_at = ?,
		   last_run_status = ?,
		   updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		success, failure, time.Now().UTC(), string(status), workflowID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", workflowID)
}

func (s *LibSQLStore) UpdateNextRun(ctx context.Context, workflowID string, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET next_run_at = ? WHERE id = ?`, nextRunAt, workflowID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", workflowID)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.WorkflowRun) error {
	logJSON, err := marshalOrDefault(run.ExecutionLog, "[]")
	if err != nil {
		return fmt.Errorf("marshal execution_log: %w", err)
	}
	ctxJSON, err := marshalOrDefault(run.Context, "{}")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, status, current_step, total_steps, execution_log, context, error_message, error_step, triggered_by, triggered_by_user, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, string(run.Status), run.CurrentStep, run.TotalSteps,
		logJSON, ctxJSON, nullStr(run.ErrorMessage), nullInt(run.ErrorStep),
		string(run.TriggeredBy), nullStr(run.TriggeredByUser),
		timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	return err
}

const runColumns = `id, workflow_id, status, current_step, total_steps, execution_log, context,
	error_message, error_step, triggered_by, triggered_by_user, started_at, completed_at`

func scanRun(row rowScanner) (*schema.WorkflowRun, error) {
	run := &schema.WorkflowRun{}
	var (
		status, triggeredBy         string
		logJSON, ctxJSON            string
		errorMessage, triggeredUser sql.NullString
		errorStep                   sql.NullInt64
		completedAt                 sql.NullTime
	)
	err := row.Scan(&run.ID, &run.WorkflowID, &status, &run.CurrentStep, &run.TotalSteps,
		&logJSON, &ctxJSON, &errorMessage, &errorStep, &triggeredBy, &triggeredUser,
		&run.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.TriggeredBy = schema.TriggerSource(triggeredBy)
	run.TriggeredByUser = triggeredUser.String
	run.ErrorMessage = errorMessage.String
	if errorStep.Valid {
		step := int(errorStep.Int64)
		run.ErrorStep = &step
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(logJSON), &run.ExecutionLog); err != nil {
		return nil, fmt.Errorf("unmarshal execution_log: %w", err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return run, nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, workflowID string, filter RunFilter) ([]*schema.WorkflowRun, error) {
	where := []string{"workflow_id = ?"}
	args := []any{workflowID}

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(where, " AND ") +
		" ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendStepLog appends one entry to a run's execution log. The log column
// is read and rewritten inside a transaction; with a single write
// connection this keeps the append atomic.
func (s *LibSQLStore) AppendStepLog(ctx context.Context, runID string, entry schema.StepLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var logJSON string
	err = tx.QueryRowContext(ctx, `SELECT execution_log FROM runs WHERE id = ?`, runID).Scan(&logJSON)
	if err == sql.ErrNoRows {
		return storeNotFound("run", runID)
	}
	if err != nil {
		return err
	}

	var log []schema.StepLogEntry
	if err := json.Unmarshal([]byte(logJSON), &log); err != nil {
		return fmt.Errorf("unmarshal execution_log: %w", err)
	}
	log = append(log, entry)

	updated, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal execution_log: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET execution_log = ? WHERE id = ?`, string(updated), runID); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveProgress persists the step cursor and context snapshot. Called after
// every step; a crash mid-run leaves a running record reflecting the last
// completed step.
func (s *LibSQLStore) SaveProgress(ctx context.Context, runID string, currentStep int, runContext map[string]any) error {
	ctxJSON, err := marshalOrDefault(runContext, "{}")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET current_step = ?, context = ? WHERE id = ?`,
		currentStep, ctxJSON, runID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", runID)
}

// FinalizeRun writes the terminal state. Only a running record may be
// finalized; a finalized run is read-only history.
func (s *LibSQLStore) FinalizeRun(ctx context.Context, runID string, final RunFinal) error {
	if !final.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot finalize run %s with non-terminal status %q", runID, final.Status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, error_step = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(final.Status), nullStr(final.ErrorMessage), nullInt(final.ErrorStep),
		timeOrNow(final.CompletedAt), runID, string(schema.RunStatusRunning),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"run %s is not running; cannot finalize", runID)
	}
	return nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeftError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func marshalOrDefault(v any, empty string) (string, error) {
	switch val := v.(type) {
	case []schema.StepLogEntry:
		if len(val) == 0 {
			return empty, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return empty, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ Store = (*LibSQLStore)(nil)
