package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRunByIdempotencyKey_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM runs WHERE org_id = \$1 AND idempotency_key = \$2`).
		WithArgs("org-1", "no-such-key").
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRunByIdempotencyKey(context.Background(), "org-1", "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "org-1", "user-1", "prov-1", "", "",
			"note for John", "", "pending", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "note for John"}
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusPending, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("running", "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing-run", model.RunStatusRunning)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastStep_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM steps WHERE run_id = \$1 ORDER BY step_number DESC LIMIT 1`).
		WithArgs("run-1").
		WillReturnError(pgx.ErrNoRows)

	step, err := s.LastStep(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, step)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimActionGroup(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE runs SET status = \$1`).
		WithArgs("committing", "grp-1", "ready_to_commit").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("run-1"))

	runID, err := s.ClaimActionGroup(context.Background(), "grp-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimActionGroup_NotClaimable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE runs SET status = \$1`).
		WithArgs("committing", "grp-1", "ready_to_commit").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ClaimActionGroup(context.Background(), "grp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not claimable")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExpireStaleClarifications(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cutoff := time.Now().UTC().Add(-14 * 24 * time.Hour)
	mock.ExpectExec(`UPDATE clarifications SET status = \$1`).
		WithArgs("expired", "pending", cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := s.ExpireStaleClarifications(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
