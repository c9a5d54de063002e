package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Schema creates the documents table used by PostgresStore.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path       TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection)`,
}

var _ DocumentStore = (*PostgresStore)(nil)

// PostgresStore is a PostgreSQL-backed DocumentStore. Merge writes use the
// jsonb concatenation operator, which replaces top-level keys and keeps the rest.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a document store on an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context, path Path) (Fields, error) {
	if err := path.validDocument(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE path = $1`,
		string(path),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	return decodeFields(raw)
}

func (s *PostgresStore) Set(ctx context.Context, path Path, fields Fields) error {
	if err := path.validDocument(); err != nil {
		return err
	}

	data, err := encodeFields(fields)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (path, collection, doc_id, fields, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, NOW())
		 ON CONFLICT (path) DO UPDATE
		 SET fields = documents.fields || EXCLUDED.fields,
		     updated_at = NOW()`,
		string(path),
		string(path.Collection()),
		path.ID(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection Path) (map[string]Fields, error) {
	if err := collection.validCollection(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT doc_id, fields FROM documents WHERE collection = $1 ORDER BY doc_id`,
		string(collection),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Fields)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		out[id] = fields
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return out, nil
}

func encodeFields(fields Fields) ([]byte, error) {
	if fields == nil {
		fields = Fields{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	return data, nil
}

func decodeFields(raw []byte) (Fields, error) {
	fields := Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return fields, nil
}
