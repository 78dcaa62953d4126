package records

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PostgresStore implements Store over a single JSONB document table per
// clinical table name.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "records: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "records: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "records: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const recordsMigration = `
CREATE TABLE IF NOT EXISTS clinical_records (
	id         TEXT NOT NULL,
	table_name TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (table_name, id)
);

CREATE INDEX IF NOT EXISTS idx_clinical_records_table ON clinical_records(table_name);
CREATE INDEX IF NOT EXISTS idx_clinical_records_doc ON clinical_records USING GIN (doc);
`

// Migrate creates the document table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, recordsMigration)
	return eris.Wrap(err, "records: migrate")
}

func (s *PostgresStore) Insert(ctx context.Context, table string, doc map[string]any) (string, error) {
	id := uuid.New().String()
	if v, ok := doc["id"].(string); ok && v != "" {
		id = v
	}
	stored := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id

	docJSON, err := json.Marshal(stored)
	if err != nil {
		return "", eris.Wrap(err, "records: marshal doc")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO clinical_records (id, table_name, doc) VALUES ($1, $2, $3)`,
		id, table, docJSON,
	)
	if err != nil {
		return "", eris.Wrapf(err, "records: insert into %s", table)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, table string, id string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "records: marshal fields")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE clinical_records SET doc = doc || $1::jsonb, updated_at = now()
		 WHERE table_name = $2 AND id = $3`,
		fieldsJSON, table, id,
	)
	if err != nil {
		return eris.Wrapf(err, "records: update %s/%s", table, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("records: %s/%s not found", table, id)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, table string, id string) (map[string]any, error) {
	var docJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM clinical_records WHERE table_name = $1 AND id = $2`,
		table, id,
	).Scan(&docJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "records: get %s/%s", table, id)
	}
	var doc map[string]any
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, eris.Wrap(err, "records: unmarshal doc")
	}
	return doc, nil
}

func (s *PostgresStore) Find(ctx context.Context, table string, filter Filter, limit int) ([]map[string]any, error) {
	query := `SELECT doc FROM clinical_records WHERE table_name = $1`
	args := []any{table}
	argIdx := 2

	// Filters are exact-match on the JSONB text projection; fuzzy lookups
	// (patient name search) fold and match in process instead.
	for k, v := range filter {
		query += fmt.Sprintf(` AND doc->>$%d = $%d`, argIdx, argIdx+1)
		args = append(args, k, fmt.Sprint(v))
		argIdx += 2
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "records: find in %s", table)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var docJSON []byte
		if err := rows.Scan(&docJSON); err != nil {
			return nil, eris.Wrap(err, "records: scan doc")
		}
		var doc map[string]any
		if err := json.Unmarshal(docJSON, &doc); err != nil {
			return nil, eris.Wrap(err, "records: unmarshal doc")
		}
		out = append(out, doc)
	}
	return out, eris.Wrap(rows.Err(), "records: find iterate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
