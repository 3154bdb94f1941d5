// Package pgstore persists document records in PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/book-expert/picture-pipeline/internal/document"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS picture_documents (
	id         UUID PRIMARY KEY,
	doc_type   TEXT NOT NULL,
	record     JSONB NOT NULL,
	revision   BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`ALTER TABLE picture_documents ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 1`,
}

var _ document.Store = (*Store)(nil)

// DBTX is satisfied by a pool, a connection or a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL document store holding one JSONB record per document.
type Store struct {
	db    DBTX
	codec *document.Codec
}

// New wraps an existing connection.
func New(db DBTX, blobs document.BlobStore) *Store {
	return &Store{db: db, codec: &document.Codec{Blobs: blobs}}
}

// Connect opens a pool and makes sure the table exists.
func Connect(ctx context.Context, url string, blobs document.BlobStore) (*Store, *pgxpool.Pool, error) {
	pool, poolErr := pgxpool.New(ctx, url)
	if poolErr != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", poolErr)
	}

	store := New(pool, blobs)

	schemaErr := store.EnsureSchema(ctx)
	if schemaErr != nil {
		pool.Close()

		return nil, nil, schemaErr
	}

	return store, pool, nil
}

// EnsureSchema creates the documents table when missing and adds the revision column to
// tables created before it existed.
func (store *Store) EnsureSchema(ctx context.Context) error {
	for _, statement := range schema {
		_, execErr := store.db.Exec(ctx, statement)
		if execErr != nil {
			return handlePostgresError("ensure schema", execErr)
		}
	}

	return nil
}

// Get loads and decodes a document.
func (store *Store) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	var (
		record   []byte
		revision int64
	)

	scanErr := store.db.QueryRow(ctx,
		`SELECT record, revision FROM picture_documents WHERE id = $1`, id).Scan(&record, &revision)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", document.ErrNotFound, id)
		}

		return nil, handlePostgresError("get document", scanErr)
	}

	doc, decodeErr := store.codec.Decode(record)
	if decodeErr != nil {
		return nil, decodeErr
	}

	doc.Revision = uint64(revision)

	return doc, nil
}

// Save inserts a new document, or updates the record when the stored revision is still
// doc.Revision. Blobs the previous revision no longer shares are deleted afterwards.
func (store *Store) Save(ctx context.Context, doc *document.Document) error {
	if doc.ID == uuid.Nil {
		return document.ErrMissingID
	}

	record, encodeErr := store.codec.Encode(ctx, doc)
	if encodeErr != nil {
		return encodeErr
	}

	var (
		tag     pgconn.CommandTag
		execErr error
	)

	if doc.Revision == 0 {
		tag, execErr = store.db.Exec(ctx, `
			INSERT INTO picture_documents (id, doc_type, record, revision, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (id) DO NOTHING`,
			doc.ID, doc.Type, record)
	} else {
		tag, execErr = store.db.Exec(ctx, `
			UPDATE picture_documents
			SET doc_type = $2, record = $3, revision = revision + 1, updated_at = NOW()
			WHERE id = $1 AND revision = $4`,
			doc.ID, doc.Type, record, int64(doc.Revision))
	}

	if execErr != nil {
		return handlePostgresError("save document", execErr)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s at revision %d", document.ErrConflict, doc.ID, doc.Revision)
	}

	doc.Revision++

	return store.codec.Prune(ctx, doc)
}

// List returns every document ID ordered by ID.
func (store *Store) List(ctx context.Context) ([]uuid.UUID, error) {
	rows, queryErr := store.db.Query(ctx, `SELECT id FROM picture_documents ORDER BY id`)
	if queryErr != nil {
		return nil, handlePostgresError("list documents", queryErr)
	}

	ids, collectErr := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if collectErr != nil {
		return nil, handlePostgresError("list documents", collectErr)
	}

	return ids, nil
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("duplicate document in %s: %w", operation, err)
		case "23502":
			return fmt.Errorf("required field %s is missing: %w", pgErr.ColumnName, err)
		case "42P01":
			return fmt.Errorf("table does not exist in %s: %w", operation, err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s): %w",
				operation, pgErr.Message, pgErr.Code, err)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}
