// Package store is the SQLite persistence layer for surveys. It implements
// remote.API in-process and is what `surveyor serve` exposes over HTTP.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"surveyor/internal/model"
	"surveyor/internal/remote"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const (
	dirName      = ".surveyor"
	dbFileName   = "surveyor.sqlite"
	schemaVerKey = "schema_version"
	schemaVer    = "1"
)

// Store persists surveys in <Dir>/surveyor.sqlite.
type Store struct {
	Dir string

	db       *sql.DB
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time

	// One writer at a time; each write is a single transaction.
	mu sync.Mutex
}

var _ remote.API = (*Store)(nil)

func DiscoverDir(start string) (string, bool) {
	dir := start
	for {
		candidate := filepath.Join(dir, dirName)
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// DefaultDir returns the nearest .surveyor directory above the working
// directory, or ./.surveyor when there is none.
func DefaultDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if found, ok := DiscoverDir(cwd); ok {
		return found, nil
	}
	return filepath.Join(cwd, dirName), nil
}

func Open(ctx context.Context, dir string, log *slog.Logger) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: empty dir")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn(filepath.Join(dir, dbFileName)))
	if err != nil {
		return nil, err
	}
	s := &Store{
		Dir:      dir,
		db:       db,
		log:      log.With("store", dir),
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dsn sets the pragmas on every pooled connection. WAL gives one writer and
// many readers; busy_timeout avoids "database is locked" under CLI + server
// use of the same file.
func dsn(path string) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
		"busy_timeout(5000)",
	}
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return filepath.Join(s.Dir, dbFileName) }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		);`,
		// One id sequence shared by every entity kind.
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS surveys (
			id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at_unixms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS survey_groups (
			id INTEGER PRIMARY KEY,
			survey_id INTEGER NOT NULL REFERENCES surveys(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			position INTEGER NOT NULL,
			version INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_groups_survey ON survey_groups(survey_id, position);`,
		`CREATE TABLE IF NOT EXISTS questions (
			id INTEGER PRIMARY KEY,
			group_id INTEGER NOT NULL REFERENCES survey_groups(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			text TEXT NOT NULL,
			help_text TEXT NOT NULL,
			type TEXT NOT NULL,
			position INTEGER NOT NULL,
			max_length INTEGER,
			points INTEGER,
			version INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_group ON questions(group_id, position);`,
		`CREATE TABLE IF NOT EXISTS options (
			id INTEGER PRIMARY KEY,
			question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			position INTEGER NOT NULL,
			is_subquestion INTEGER NOT NULL,
			image TEXT,
			is_correct INTEGER,
			version INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_options_question ON options(question_id, position);`,
		`CREATE TABLE IF NOT EXISTS settings (
			question_id INTEGER PRIMARY KEY REFERENCES questions(id) ON DELETE CASCADE,
			json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			survey_id INTEGER NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			payload_json TEXT NOT NULL,
			created_at_unixms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_survey ON events(survey_id, seq);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(k, v) VALUES(?, ?)`, schemaVerKey, schemaVer); err != nil {
		return err
	}
	_, err := s.ensureMetaUUID(ctx, "store_id")
	return err
}

func (s *Store) ensureMetaUUID(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, key).Scan(&v)
	if err == nil && strings.TrimSpace(v) != "" {
		return v, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(k, v) VALUES(?, ?)`, key, id); err != nil {
		return "", err
	}
	return id, nil
}

// ID returns the store's stable identity.
func (s *Store) ID(ctx context.Context) (string, error) {
	return s.ensureMetaUUID(ctx, "store_id")
}

// write runs fn in a transaction under the writer lock.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		if _, ok := remote.AsError(err); ok {
			return err
		}
		return unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return remote.NewUnavailableError(fmt.Sprintf("%s: %v", op, err))
}

// nextID allocates an id from the shared sequence.
func (s *Store) nextID(ctx context.Context, tx *sql.Tx, kind string) (model.ID, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO entities(kind, created_at_unixms) VALUES(?, ?)`, kind, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return model.ID(id), err
}

func (s *Store) touchSurvey(ctx context.Context, tx *sql.Tx, surveyID model.ID) error {
	_, err := tx.ExecContext(ctx, `UPDATE surveys SET updated_at_unixms = ? WHERE id = ?`, s.now().UnixMilli(), surveyID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
