package selection

import (
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"examcal/internal/model"
)

//go:embed schema.sql
var embeddedSchema embed.FS

// SQLiteStore keeps selections in an SQLite database. Each mutation runs
// in its own transaction that rewrites the token's full id set.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, model.NewStorageError("open", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, model.NewStorageError("open", err)
	}
	// One connection: SQLite serializes writers anyway, and PRAGMAs stick.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := NewSQLite(db)
	if err := s.InitSchema(); err != nil {
		_ = db.Close()
		return nil, model.NewStorageError("init schema", err)
	}
	return s, nil
}

// NewSQLite wraps an already opened database. Call InitSchema before use.
func NewSQLite(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) InitSchema() error {
	if _, err := s.db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return err
	}

	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(strings.TrimSpace(string(b)))
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadOrCreate(token model.Token) (*model.UserSelection, error) {
	return s.mutate("load", token, nil)
}

func (s *SQLiteStore) Get(token model.Token) (*model.UserSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	err := s.db.QueryRow(`SELECT 1 FROM selections WHERE token = ?`, token.String()).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(token)
		}
		return nil, model.NewStorageError("get", err)
	}

	sel, err := readItems(s.db, token)
	if err != nil {
		return nil, model.NewStorageError("get", err)
	}
	return sel, nil
}

func (s *SQLiteStore) Add(token model.Token, examID int) error {
	_, err := s.mutate("add", token, func(sel *model.UserSelection) { sel.Add(examID) })
	return err
}

func (s *SQLiteStore) Remove(token model.Token, examID int) error {
	_, err := s.mutate("remove", token, func(sel *model.UserSelection) { sel.Remove(examID) })
	return err
}

func (s *SQLiteStore) Replace(token model.Token, ids []int) error {
	_, err := s.mutate("replace", token, func(sel *model.UserSelection) {
		clear(sel.IDs)
		for _, id := range ids {
			sel.Add(id)
		}
	})
	return err
}

func (s *SQLiteStore) Count(token model.Token) (int, error) {
	sel, err := s.Get(token)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sel.Count(), nil
}

// mutate creates the token row if needed, reads the current set, applies
// fn and writes the set back, all in one transaction. A nil fn only
// ensures the row exists.
func (s *SQLiteStore) mutate(op string, token model.Token, fn func(*model.UserSelection)) (*model.UserSelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	// No-op once committed.
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO selections(token) VALUES (?) ON CONFLICT(token) DO NOTHING`, token.String()); err != nil {
		return nil, model.NewStorageError(op, err)
	}

	sel, err := readItems(tx, token)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}

	if fn != nil {
		fn(sel)
		if err := writeItems(tx, sel); err != nil {
			return nil, model.NewStorageError(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return sel, nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func readItems(q querier, token model.Token) (*model.UserSelection, error) {
	rows, err := q.Query(`SELECT exam_id FROM selection_items WHERE token = ? ORDER BY exam_id`, token.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sel := model.NewSelection(token)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sel.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sel, nil
}

func writeItems(tx *sql.Tx, sel *model.UserSelection) error {
	key := sel.Token.String()
	if _, err := tx.Exec(`DELETE FROM selection_items WHERE token = ?`, key); err != nil {
		return err
	}
	for _, id := range sel.SortedIDs() {
		if _, err := tx.Exec(`INSERT INTO selection_items(token, exam_id) VALUES (?, ?)`, key, id); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`UPDATE selections SET updated_at = CURRENT_TIMESTAMP WHERE token = ?`, key)
	return err
}
