package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ashureev/oracle-shell/internal/shared"
	_ "modernc.org/sqlite"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const upsertQuery = `
	INSERT INTO documents (collection, id, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(collection, id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at`

// SQLiteStore implements DocumentStore on a single SQLite table of JSON
// bodies keyed by (collection, id).
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_timestamp
		ON documents(collection, json_extract(body, '$.timestamp'));
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// EnsureCollection registers the collection name. It is idempotent.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("collection name cannot be empty")
	}
	return s.write(ctx, "ensure collection", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO collections (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
			name, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
		return nil
	})
}

// Collections lists registered collection names in creation order.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close collection rows", "error", closeErr)
		}
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return names, nil
}

// FindOne returns the document stored under id.
func (s *SQLiteStore) FindOne(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("find %s/%s: %w", collection, id, err)
	}
	return json.RawMessage(body), nil
}

// Upsert replaces or inserts the document stored under id.
func (s *SQLiteStore) Upsert(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
	}

	return s.write(ctx, "upsert", func(ctx context.Context) error {
		now := time.Now().UnixMilli()
		if _, err := s.db.ExecContext(ctx, upsertQuery, collection, id, string(body), now, now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
		}
		return nil
	})
}

// Merge runs the read of the stored body and the write of the merged one
// in a single transaction.
func (s *SQLiteStore) Merge(ctx context.Context, collection, id string, doc any, apply MergeFunc) (json.RawMessage, error) {
	var persisted []byte
	err := s.write(ctx, "merge", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin merge %s/%s: %w", collection, id, err)
		}
		defer func() { _ = tx.Rollback() }()

		next := doc
		var stored string
		err = tx.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = ? AND id = ?`,
			collection, id).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("find %s/%s: %w", collection, id, err)
		default:
			if next, err = apply(json.RawMessage(stored)); err != nil {
				return err
			}
		}

		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal %s/%s: %w", collection, id, err)
		}
		now := time.Now().UnixMilli()
		if _, err := tx.ExecContext(ctx, upsertQuery, collection, id, string(body), now, now); err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit merge %s/%s: %w", collection, id, err)
		}
		persisted = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(persisted), nil
}

// ListAll returns every document of the collection sorted by sortKey. Ties
// keep insertion order in the requested direction.
func (s *SQLiteStore) ListAll(ctx context.Context, collection, sortKey string, descending bool) ([]json.RawMessage, error) {
	if !fieldPattern.MatchString(sortKey) {
		return nil, fmt.Errorf("invalid sort key %q", sortKey)
	}
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT body FROM documents WHERE collection = ? ORDER BY json_extract(body, ?) %s, rowid %s`,
		dir, dir)

	rows, err := s.db.QueryContext(ctx, query, collection, "$."+sortKey)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close document rows", "collection", collection, "error", closeErr)
		}
	}()

	docs := make([]json.RawMessage, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		docs = append(docs, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return docs, nil
}

// AppendUnique appends value to the array field in a single conditional
// UPDATE, so concurrent appends never overwrite each other.
func (s *SQLiteStore) AppendUnique(ctx context.Context, collection, id, field, value string) (bool, error) {
	if !fieldPattern.MatchString(field) {
		return false, fmt.Errorf("invalid field %q", field)
	}
	path := "$." + field

	query := `
	UPDATE documents
	SET body = json_insert(body, ?, ?), updated_at = ?
	WHERE collection = ? AND id = ?
	  AND NOT EXISTS (SELECT 1 FROM json_each(documents.body, ?) WHERE json_each.value = ?)`

	var appended bool
	err := s.write(ctx, "append", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query,
			path+"[#]", value, time.Now().UnixMilli(),
			collection, id,
			path, value)
		if err != nil {
			return fmt.Errorf("append to %s/%s.%s: %w", collection, id, field, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		appended = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if appended {
		return true, nil
	}

	// Nothing changed: either the value is already linked or id is unknown.
	if _, err := s.FindOne(ctx, collection, id); err != nil {
		return false, err
	}
	return false, nil
}

// Delete removes the document stored under id.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, "delete", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", collection, id, err)
		}
		return nil
	})
}

// write serializes a mutation and retries it on SQLite lock contention.
func (s *SQLiteStore) write(ctx context.Context, name string, op func(context.Context) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return shared.Retry(ctx, shared.BusyRetryPolicy, name, op)
}

var _ DocumentStore = (*SQLiteStore)(nil)
