// Package postgres is a storage engine on PostgreSQL. Conditional puts are
// single statements (INSERT ... ON CONFLICT DO NOTHING, UPDATE guarded by the
// expected revision) so the check is atomic server-side.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

// Config configures the postgres engine.
type Config struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DefaultConfig returns the default configuration. There is no default DSN.
func DefaultConfig() Config {
	return Config{MaxOpenConns: 10}
}

const documentColumns = "collection, partition, doc_id, routing, seq_no, primary_term, version, source, deleted, updated_at"

type engine struct {
	db *sql.DB
}

// NewEngine wraps an open database. The schema must exist, see EnsureSchema.
func NewEngine(db *sql.DB) types.Engine {
	return &engine{db: db}
}

// EnsureSchema creates the document and collection tables if they don't exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS docstore_documents (
    collection      TEXT NOT NULL,
    partition       INTEGER NOT NULL,
    doc_id          TEXT NOT NULL,
    routing         TEXT NOT NULL DEFAULT '',
    seq_no          BIGINT NOT NULL,
    primary_term    BIGINT NOT NULL,
    version         BIGINT NOT NULL,
    source          BYTEA,
    deleted         BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at      BIGINT NOT NULL,
    PRIMARY KEY (collection, partition, doc_id)
);

CREATE INDEX IF NOT EXISTS idx_docstore_documents_live ON docstore_documents(collection, partition, doc_id) WHERE NOT deleted;

CREATE TABLE IF NOT EXISTS docstore_collections (
    name            TEXT PRIMARY KEY,
    shards          INTEGER NOT NULL,
    source_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
    primary_terms   BIGINT[] NOT NULL DEFAULT '{}'
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (*types.StoredDoc, error) {
	var doc types.StoredDoc
	err := row.Scan(
		&doc.Collection, &doc.Partition, &doc.ID, &doc.Routing,
		&doc.SeqNo, &doc.PrimaryTerm, &doc.Version,
		&doc.Source, &doc.Deleted, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.StorageID = types.StorageID(doc.Location())
	return &doc, nil
}

func (e *engine) Get(ctx context.Context, loc types.Location) (*types.StoredDoc, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM docstore_documents WHERE collection = $1 AND partition = $2 AND doc_id = $3`,
		loc.Collection, loc.Partition, loc.ID)
	doc, err := scanDoc(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (e *engine) Put(ctx context.Context, doc *types.StoredDoc, cond types.Condition) (types.ShardInfo, error) {
	var (
		result sql.Result
		err    error
	)
	if cond.Expected == nil {
		result, err = e.db.ExecContext(ctx, `
		INSERT INTO docstore_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (collection, partition, doc_id) DO NOTHING
	`,
			doc.Collection, doc.Partition, doc.ID, doc.Routing,
			doc.SeqNo, doc.PrimaryTerm, doc.Version,
			doc.Source, doc.Deleted, doc.UpdatedAt,
		)
	} else {
		result, err = e.db.ExecContext(ctx, `
		UPDATE docstore_documents SET
			routing = $4, seq_no = $5, primary_term = $6, version = $7,
			source = $8, deleted = $9, updated_at = $10
		WHERE collection = $1 AND partition = $2 AND doc_id = $3
			AND seq_no = $11 AND primary_term = $12
	`,
			doc.Collection, doc.Partition, doc.ID, doc.Routing,
			doc.SeqNo, doc.PrimaryTerm, doc.Version,
			doc.Source, doc.Deleted, doc.UpdatedAt,
			cond.Expected.SeqNo, cond.Expected.PrimaryTerm,
		)
	}
	if err != nil {
		return types.ShardInfo{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return types.ShardInfo{}, err
	}
	if rows == 0 {
		return types.ShardInfo{}, types.ErrPreconditionFailed
	}
	return types.SingleCopy(), nil
}

func (e *engine) Scan(ctx context.Context, req types.ScanRequest) ([]*types.StoredDoc, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + documentColumns + ` FROM docstore_documents WHERE collection = $1 AND NOT deleted`)
	args := []any{req.Collection}

	if len(req.Partitions) > 0 {
		partitions := make([]int64, len(req.Partitions))
		for i, p := range req.Partitions {
			partitions[i] = int64(p)
		}
		args = append(args, pq.Int64Array(partitions))
		fmt.Fprintf(&sb, " AND partition = ANY($%d)", len(args))
	}
	if req.After != nil {
		args = append(args, req.After.Partition, req.After.ID)
		fmt.Fprintf(&sb, " AND (partition, doc_id) > ($%d, $%d)", len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY partition, doc_id")
	if req.Limit > 0 {
		args = append(args, req.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := e.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*types.StoredDoc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (e *engine) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM docstore_documents WHERE collection = $1 AND NOT deleted`, collection).Scan(&count)
	return count, err
}

func (e *engine) PutCollection(ctx context.Context, meta types.CollectionMeta) error {
	terms := meta.PrimaryTerms
	if terms == nil {
		terms = []int64{}
	}
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO docstore_collections (name, shards, source_enabled, primary_terms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			shards = EXCLUDED.shards,
			source_enabled = EXCLUDED.source_enabled,
			primary_terms = EXCLUDED.primary_terms
	`, meta.Name, meta.Shards, meta.SourceEnabled, pq.Int64Array(terms))
	return err
}

func (e *engine) Collections(ctx context.Context) ([]types.CollectionMeta, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name, shards, source_enabled, primary_terms FROM docstore_collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CollectionMeta
	for rows.Next() {
		var (
			meta  types.CollectionMeta
			terms pq.Int64Array
		)
		if err := rows.Scan(&meta.Name, &meta.Shards, &meta.SourceEnabled, &terms); err != nil {
			return nil, err
		}
		meta.PrimaryTerms = []int64(terms)
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (e *engine) Close(_ context.Context) error {
	return e.db.Close()
}
