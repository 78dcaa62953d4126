package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harborview/clinical-copilot/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	org_id          TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	provider_id     TEXT NOT NULL,
	patient_id      TEXT NOT NULL DEFAULT '',
	encounter_id    TEXT NOT NULL DEFAULT '',
	input_text      TEXT NOT NULL,
	idempotency_key TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	intent_type     TEXT NOT NULL DEFAULT '',
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	estimated_cost  REAL NOT NULL DEFAULT 0,
	result_summary  TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at      DATETIME,
	completed_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_idempotency
	ON runs(org_id, idempotency_key) WHERE idempotency_key <> '';
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_org ON runs(org_id);

CREATE TABLE IF NOT EXISTS steps (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	step_number   INTEGER NOT NULL,
	step_type     TEXT NOT NULL,
	tool_name     TEXT NOT NULL DEFAULT '',
	tool_input    TEXT,
	tool_output   TEXT,
	transcript    TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (run_id, step_number)
);

CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);

CREATE TABLE IF NOT EXISTS clarifications (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	question    TEXT NOT NULL,
	context     TEXT NOT NULL DEFAULT '',
	options     TEXT,
	answer      TEXT NOT NULL DEFAULT '',
	answered_by TEXT NOT NULL DEFAULT '',
	answered_at DATETIME,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_clarifications_run_id ON clarifications(run_id);
CREATE INDEX IF NOT EXISTS idx_clarifications_status ON clarifications(status);

CREATE TABLE IF NOT EXISTS proposed_actions (
	id              TEXT PRIMARY KEY,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	action_group_id TEXT NOT NULL,
	action_order    INTEGER NOT NULL,
	action_type     TEXT NOT NULL,
	target_table    TEXT NOT NULL,
	payload         TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	assumptions     TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	committed_by    TEXT NOT NULL DEFAULT '',
	committed_at    DATETIME,
	result_id       TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (action_group_id, action_order)
);

CREATE INDEX IF NOT EXISTS idx_actions_group ON proposed_actions(action_group_id);
CREATE INDEX IF NOT EXISTS idx_actions_run ON proposed_actions(run_id);
CREATE INDEX IF NOT EXISTS idx_actions_status ON proposed_actions(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, org_id, user_id, provider_id, patient_id, encounter_id,
			input_text, idempotency_key, status, intent_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.UserID, run.ProviderID, run.PatientID, run.EncounterID,
		run.InputText, run.IdempotencyKey, string(run.Status), run.IntentType, run.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) GetRunByIdempotencyKey(ctx context.Context, orgID, key string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE org_id = ? AND idempotency_key = ?`, orgID, key)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get run by idempotency key")
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	now := time.Now().UTC()
	var extra string
	args := []any{string(status)}
	switch status {
	case model.RunStatusRunning:
		extra = `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	case model.RunStatusCommitted, model.RunStatusFailed, model.RunStatusRejected:
		extra = `, completed_at = ?`
		args = append(args, now)
	}
	args = append(args, runID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?`+extra+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SetRunError(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set run error %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary string, usage model.TokenUsage, cost float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result_summary = ?, input_tokens = ?,
			output_tokens = ?, estimated_cost = ? WHERE id = ?`,
		string(status), summary, usage.InputTokens, usage.OutputTokens, cost, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.OrgID != "" {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendStep(ctx context.Context, step *model.Step) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(step.ToolInput)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tool input")
	}
	outputJSON, err := json.Marshal(step.ToolOutput)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tool output")
	}
	transcriptJSON, err := json.Marshal(step.Transcript)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal transcript")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (id, run_id, step_number, step_type, tool_name,
			tool_input, tool_output, transcript, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.StepNumber, string(step.StepType), step.ToolName,
		string(inputJSON), string(outputJSON), string(transcriptJSON),
		step.Usage.InputTokens, step.Usage.OutputTokens, step.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert step %d for run %s", step.StepNumber, step.RunID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY step_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps for run %s", runID)
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

func (s *SQLiteStore) LastStep(ctx context.Context, runID string) (*model.Step, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY step_number DESC LIMIT 1`, runID)
	st, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: last step for run %s", runID)
	}
	return st, nil
}

func (s *SQLiteStore) CreateClarifications(ctx context.Context, clars []model.Clarification) error {
	for i := range clars {
		c := &clars[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		if c.Status == "" {
			c.Status = model.ClarificationPending
		}
		optionsJSON, err := json.Marshal(c.Options)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal options")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO clarifications (id, run_id, question, context, options, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.RunID, c.Question, c.Context, string(optionsJSON), string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert clarification for run %s", c.RunID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListClarifications(ctx context.Context, runID string) ([]model.Clarification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clarColumns+` FROM clarifications WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list clarifications for run %s", runID)
	}
	defer rows.Close()

	var clars []model.Clarification
	for rows.Next() {
		c, err := scanClarification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clarification")
		}
		clars = append(clars, *c)
	}
	return clars, eris.Wrap(rows.Err(), "sqlite: list clarifications iterate")
}

func (s *SQLiteStore) GetClarification(ctx context.Context, id string) (*model.Clarification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clarColumns+` FROM clarifications WHERE id = ?`, id)
	c, err := scanClarification(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get clarification %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) AnswerClarification(ctx context.Context, id, answer, answeredBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clarifications SET answer = ?, answered_by = ?, answered_at = ?, status = ?
		 WHERE id = ? AND status = ?`,
		answer, answeredBy, time.Now().UTC(), string(model.ClarificationAnswered),
		id, string(model.ClarificationPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: answer clarification %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("clarification not pending: %s", id)
	}
	return nil
}

func (s *SQLiteStore) ExpireStaleClarifications(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clarifications SET status = ? WHERE status = ? AND created_at < ?`,
		string(model.ClarificationExpired), string(model.ClarificationPending), olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire clarifications")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateActions(ctx context.Context, actions []model.ProposedAction) error {
	for i := range actions {
		a := &actions[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		if a.Status == "" {
			a.Status = model.ActionStatusPending
		}
		payloadJSON, err := json.Marshal(a.Payload)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal payload")
		}
		assumptionsJSON, err := json.Marshal(a.Assumptions)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal assumptions")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO proposed_actions (id, run_id, action_group_id, action_order,
				action_type, target_table, payload, confidence, assumptions, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.ActionGroupID, a.ActionOrder, string(a.ActionType),
			a.TargetTable, string(payloadJSON), a.Confidence, string(assumptionsJSON),
			string(a.Status), a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert action %d for run %s", a.ActionOrder, a.RunID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListActionsByGroup(ctx context.Context, groupID string) ([]model.ProposedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE action_group_id = ? ORDER BY action_order`, groupID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list actions for group %s", groupID)
	}
	defer rows.Close()
	return collectActionRows(rows)
}

func (s *SQLiteStore) ListActionsByRun(ctx context.Context, runID string) ([]model.ProposedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE run_id = ? ORDER BY action_order`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list actions for run %s", runID)
	}
	defer rows.Close()
	return collectActionRows(rows)
}

func collectActionRows(rows *sql.Rows) ([]model.ProposedAction, error) {
	var actions []model.ProposedAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan action")
		}
		actions = append(actions, *a)
	}
	return actions, eris.Wrap(rows.Err(), "sqlite: actions iterate")
}

func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*model.ProposedAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get action %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) MarkActionCommitted(ctx context.Context, id, committedBy, resultID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposed_actions SET status = ?, committed_by = ?, committed_at = ?, result_id = ?
		 WHERE id = ? AND status = ?`,
		string(model.ActionStatusCommitted), committedBy, time.Now().UTC(), resultID,
		id, string(model.ActionStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark action committed %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("action not pending: %s", id)
	}
	return nil
}

func (s *SQLiteStore) MarkActionRejected(ctx context.Context, id, rejectedBy, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposed_actions SET status = ?, committed_by = ?, error = ?
		 WHERE id = ? AND status = ?`,
		string(model.ActionStatusRejected), rejectedBy, reason, id, string(model.ActionStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark action rejected %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("action not pending: %s", id)
	}
	return nil
}

func (s *SQLiteStore) ExpireStaleActions(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposed_actions SET status = ? WHERE status = ? AND created_at < ?`,
		string(model.ActionStatusExpired), string(model.ActionStatusPending), olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire actions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ClaimActionGroup(ctx context.Context, groupID string) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE runs SET status = ?
		 WHERE id = (SELECT run_id FROM proposed_actions WHERE action_group_id = ? LIMIT 1)
		   AND status = ?
		 RETURNING id`,
		string(model.RunStatusCommitting), groupID, string(model.RunStatusReadyToCommit),
	).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", eris.Errorf("action group not claimable: %s", groupID)
		}
		return "", eris.Wrapf(err, "sqlite: claim action group %s", groupID)
	}
	return runID, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
