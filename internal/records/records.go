// Package records addresses the clinical system of record as a transactional
// document store keyed by table name and filter. All clinical writes flow
// through the commit pipeline; everything else reads only.
package records

import "context"

// Filter matches documents whose fields exactly equal the given values after
// JSON normalization. Callers wanting fuzzy matching fetch and filter in
// process.
type Filter map[string]any

// Store is the interface to the clinical record tables.
type Store interface {
	Insert(ctx context.Context, table string, doc map[string]any) (string, error)
	Update(ctx context.Context, table string, id string, fields map[string]any) error
	Get(ctx context.Context, table string, id string) (map[string]any, error)
	Find(ctx context.Context, table string, filter Filter, limit int) ([]map[string]any, error)
	Close() error
}
