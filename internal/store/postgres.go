package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harborview/clinical-copilot/internal/db"
	"github.com/harborview/clinical-copilot/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	estimated_cost  DOUBLE PRECISION NOT NULL DEFAULT 0,
	result_summary  TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
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
	tool_input    JSONB,
	tool_output   JSONB,
	transcript    JSONB NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, step_number)
);

CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);

CREATE TABLE IF NOT EXISTS clarifications (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	question    TEXT NOT NULL,
	context     TEXT NOT NULL DEFAULT '',
	options     JSONB,
	answer      TEXT NOT NULL DEFAULT '',
	answered_by TEXT NOT NULL DEFAULT '',
	answered_at TIMESTAMPTZ,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
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
	payload         JSONB NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	assumptions     JSONB,
	status          TEXT NOT NULL DEFAULT 'pending',
	committed_by    TEXT NOT NULL DEFAULT '',
	committed_at    TIMESTAMPTZ,
	result_id       TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (action_group_id, action_order)
);

CREATE INDEX IF NOT EXISTS idx_actions_group ON proposed_actions(action_group_id);
CREATE INDEX IF NOT EXISTS idx_actions_run ON proposed_actions(run_id);
CREATE INDEX IF NOT EXISTS idx_actions_status ON proposed_actions(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const runColumns = `id, org_id, user_id, provider_id, patient_id, encounter_id, input_text,
	idempotency_key, status, intent_type, input_tokens, output_tokens, estimated_cost,
	result_summary, error, created_at, started_at, completed_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, org_id, user_id, provider_id, patient_id, encounter_id,
			input_text, idempotency_key, status, intent_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.OrgID, run.UserID, run.ProviderID, run.PatientID, run.EncounterID,
		run.InputText, run.IdempotencyKey, string(run.Status), run.IntentType, run.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert run")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &r.OrgID, &r.UserID, &r.ProviderID, &r.PatientID, &r.EncounterID,
		&r.InputText, &r.IdempotencyKey, &status, &r.IntentType,
		&r.TotalTokens.InputTokens, &r.TotalTokens.OutputTokens, &r.EstimatedCost,
		&r.ResultSummary, &r.Error, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) GetRunByIdempotencyKey(ctx context.Context, orgID, key string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE org_id = $1 AND idempotency_key = $2`, orgID, key)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get run by idempotency key")
	}
	return r, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	var extra string
	switch status {
	case model.RunStatusRunning:
		extra = `, started_at = COALESCE(started_at, now())`
	case model.RunStatusCommitted, model.RunStatusFailed, model.RunStatusRejected:
		extra = `, completed_at = now()`
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1`+extra+` WHERE id = $2`,
		string(status), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SetRunError(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = now() WHERE id = $3`,
		string(model.RunStatusFailed), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set run error %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary string, usage model.TokenUsage, cost float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result_summary = $2, input_tokens = $3,
			output_tokens = $4, estimated_cost = $5 WHERE id = $6`,
		string(status), summary, usage.InputTokens, usage.OutputTokens, cost, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.OrgID != "" {
		query += fmt.Sprintf(` AND org_id = $%d`, argIdx)
		args = append(args, filter.OrgID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendStep(ctx context.Context, step *model.Step) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(step.ToolInput)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tool input")
	}
	outputJSON, err := json.Marshal(step.ToolOutput)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tool output")
	}
	transcriptJSON, err := json.Marshal(step.Transcript)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal transcript")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO steps (id, run_id, step_number, step_type, tool_name,
			tool_input, tool_output, transcript, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.ID, step.RunID, step.StepNumber, string(step.StepType), step.ToolName,
		inputJSON, outputJSON, transcriptJSON,
		step.Usage.InputTokens, step.Usage.OutputTokens, step.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert step %d for run %s", step.StepNumber, step.RunID)
}

const stepColumns = `id, run_id, step_number, step_type, tool_name, tool_input,
	tool_output, transcript, input_tokens, output_tokens, created_at`

func scanStep(row scannable) (*model.Step, error) {
	var st model.Step
	var stepType string
	var inputJSON, outputJSON, transcriptJSON []byte

	err := row.Scan(&st.ID, &st.RunID, &st.StepNumber, &stepType, &st.ToolName,
		&inputJSON, &outputJSON, &transcriptJSON,
		&st.Usage.InputTokens, &st.Usage.OutputTokens, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.StepType = model.StepType(stepType)
	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &st.ToolInput); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tool input")
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &st.ToolOutput); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tool output")
		}
	}
	if err := json.Unmarshal(transcriptJSON, &st.Transcript); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal transcript")
	}
	return &st, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY step_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps for run %s", runID)
	}
	defer rows.Close()

	var steps []model.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		steps = append(steps, *st)
	}
	return steps, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

func (s *PostgresStore) LastStep(ctx context.Context, runID string) (*model.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY step_number DESC LIMIT 1`, runID)
	st, err := scanStep(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last step for run %s", runID)
	}
	return st, nil
}

func (s *PostgresStore) CreateClarifications(ctx context.Context, clars []model.Clarification) error {
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
			return eris.Wrap(err, "postgres: marshal options")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO clarifications (id, run_id, question, context, options, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.RunID, c.Question, c.Context, optionsJSON, string(c.Status), c.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert clarification for run %s", c.RunID)
		}
	}
	return nil
}

const clarColumns = `id, run_id, question, context, options, answer, answered_by, answered_at, status, created_at`

func scanClarification(row scannable) (*model.Clarification, error) {
	var c model.Clarification
	var status string
	var optionsJSON []byte

	err := row.Scan(&c.ID, &c.RunID, &c.Question, &c.Context, &optionsJSON,
		&c.Answer, &c.AnsweredBy, &c.AnsweredAt, &status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.ClarificationStatus(status)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &c.Options); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal options")
		}
	}
	return &c, nil
}

func (s *PostgresStore) ListClarifications(ctx context.Context, runID string) ([]model.Clarification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clarColumns+` FROM clarifications WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list clarifications for run %s", runID)
	}
	defer rows.Close()

	var clars []model.Clarification
	for rows.Next() {
		c, err := scanClarification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan clarification")
		}
		clars = append(clars, *c)
	}
	return clars, eris.Wrap(rows.Err(), "postgres: list clarifications iterate")
}

func (s *PostgresStore) GetClarification(ctx context.Context, id string) (*model.Clarification, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+clarColumns+` FROM clarifications WHERE id = $1`, id)
	c, err := scanClarification(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get clarification %s", id)
	}
	return c, nil
}

func (s *PostgresStore) AnswerClarification(ctx context.Context, id, answer, answeredBy string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clarifications SET answer = $1, answered_by = $2, answered_at = now(), status = $3
		 WHERE id = $4 AND status = $5`,
		answer, answeredBy, string(model.ClarificationAnswered), id, string(model.ClarificationPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: answer clarification %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("clarification not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) ExpireStaleClarifications(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE clarifications SET status = $1 WHERE status = $2 AND created_at < $3`,
		string(model.ClarificationExpired), string(model.ClarificationPending), olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire clarifications")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateActions(ctx context.Context, actions []model.ProposedAction) error {
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
			return eris.Wrap(err, "postgres: marshal payload")
		}
		assumptionsJSON, err := json.Marshal(a.Assumptions)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal assumptions")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO proposed_actions (id, run_id, action_group_id, action_order,
				action_type, target_table, payload, confidence, assumptions, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, a.RunID, a.ActionGroupID, a.ActionOrder, string(a.ActionType),
			a.TargetTable, payloadJSON, a.Confidence, assumptionsJSON, string(a.Status), a.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert action %d for run %s", a.ActionOrder, a.RunID)
		}
	}
	return nil
}

const actionColumns = `id, run_id, action_group_id, action_order, action_type, target_table,
	payload, confidence, assumptions, status, committed_by, committed_at, result_id, error, created_at`

func scanAction(row scannable) (*model.ProposedAction, error) {
	var a model.ProposedAction
	var actionType, status string
	var payloadJSON, assumptionsJSON []byte

	err := row.Scan(&a.ID, &a.RunID, &a.ActionGroupID, &a.ActionOrder, &actionType,
		&a.TargetTable, &payloadJSON, &a.Confidence, &assumptionsJSON, &status,
		&a.CommittedBy, &a.CommittedAt, &a.ResultID, &a.Error, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ActionType = model.ActionType(actionType)
	a.Status = model.ActionStatus(status)
	if err := json.Unmarshal(payloadJSON, &a.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	if len(assumptionsJSON) > 0 {
		if err := json.Unmarshal(assumptionsJSON, &a.Assumptions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assumptions")
		}
	}
	return &a, nil
}

func (s *PostgresStore) ListActionsByGroup(ctx context.Context, groupID string) ([]model.ProposedAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE action_group_id = $1 ORDER BY action_order`, groupID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list actions for group %s", groupID)
	}
	defer rows.Close()
	return collectActions(rows)
}

func (s *PostgresStore) ListActionsByRun(ctx context.Context, runID string) ([]model.ProposedAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE run_id = $1 ORDER BY action_order`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list actions for run %s", runID)
	}
	defer rows.Close()
	return collectActions(rows)
}

func collectActions(rows pgx.Rows) ([]model.ProposedAction, error) {
	var actions []model.ProposedAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan action")
		}
		actions = append(actions, *a)
	}
	return actions, eris.Wrap(rows.Err(), "postgres: actions iterate")
}

func (s *PostgresStore) GetAction(ctx context.Context, id string) (*model.ProposedAction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM proposed_actions WHERE id = $1`, id)
	a, err := scanAction(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get action %s", id)
	}
	return a, nil
}

func (s *PostgresStore) MarkActionCommitted(ctx context.Context, id, committedBy, resultID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposed_actions SET status = $1, committed_by = $2, committed_at = now(), result_id = $3
		 WHERE id = $4 AND status = $5`,
		string(model.ActionStatusCommitted), committedBy, resultID, id, string(model.ActionStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark action committed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("action not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkActionRejected(ctx context.Context, id, rejectedBy, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposed_actions SET status = $1, committed_by = $2, error = $3
		 WHERE id = $4 AND status = $5`,
		string(model.ActionStatusRejected), rejectedBy, reason, id, string(model.ActionStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark action rejected %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("action not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) ExpireStaleActions(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposed_actions SET status = $1 WHERE status = $2 AND created_at < $3`,
		string(model.ActionStatusExpired), string(model.ActionStatusPending), olderThan,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire actions")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ClaimActionGroup(ctx context.Context, groupID string) (string, error) {
	var runID string
	err := s.pool.QueryRow(ctx,
		`UPDATE runs SET status = $1
		 WHERE id = (SELECT run_id FROM proposed_actions WHERE action_group_id = $2 LIMIT 1)
		   AND status = $3
		 RETURNING id`,
		string(model.RunStatusCommitting), groupID, string(model.RunStatusReadyToCommit),
	).Scan(&runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", eris.Errorf("action group not claimable: %s", groupID)
		}
		return "", eris.Wrapf(err, "postgres: claim action group %s", groupID)
	}
	return runID, nil
}
