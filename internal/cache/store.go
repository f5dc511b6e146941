package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"
)

// DefaultMaxRows is the retention cap applied when Options.MaxRows is zero.
const DefaultMaxRows = 20

// timeLayout is fixed-width so that lexical order of created_at equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound is returned when no eligible row exists.
	ErrNotFound = errors.New("cache: no eligible response")
	// ErrEmptyResponse is returned when Insert is asked to persist empty text.
	ErrEmptyResponse = errors.New("cache: empty response text")
)

// Response is one persisted upstream reply.
type Response struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	Text      string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Options tunes a Store. Zero values select defaults.
type Options struct {
	MaxRows int
	// StrictPerms restricts the database directory to 0700 and the file to
	// 0600, since cached replies may echo user prompts.
	StrictPerms bool
	// Now overrides the clock used for created_at; tests pin it.
	Now func() time.Time
}

// Store is a bounded log of upstream replies backed by a SQLite file.
type Store struct {
	db      *sql.DB
	maxRows int
	now     func() time.Time
}

const createResponsesTable = `
CREATE TABLE IF NOT EXISTS responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	prompt TEXT NOT NULL,
	response_text TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS responses_created_at ON responses (created_at, id);
`

// Open opens (creating if needed) the database at path and initializes the schema.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache: db path not configured")
	}
	if err := ensureDir(filepath.Dir(path), opts.StrictPerms); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps insert+retention serialized across requests.
	db.SetMaxOpenConns(1)

	s := New(db, opts)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if opts.StrictPerms {
		if err := os.Chmod(path, 0o600); err != nil {
			db.Close()
			return nil, fmt.Errorf("restrict db perms: %w", err)
		}
	}
	return s, nil
}

func ensureDir(dir string, strict bool) error {
	if dir == "." || dir == "" {
		return nil
	}
	perm := os.FileMode(0o755)
	if strict {
		perm = 0o700
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	// Tighten a directory that already existed.
	if strict {
		if info, err := os.Stat(dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(dir, 0o700)
		}
	}
	return nil
}

// New wraps an already opened database. Call Init before use.
func New(db *sql.DB, opts Options) *Store {
	s := &Store{db: db, maxRows: opts.MaxRows, now: opts.Now}
	if s.maxRows <= 0 {
		s.maxRows = DefaultMaxRows
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Init creates the responses table if it does not exist. Safe to call on every start.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createResponsesTable); err != nil {
		return fmt.Errorf("migrate db: %w", err)
	}
	return nil
}

// MaxRows reports the retention cap.
func (s *Store) MaxRows() int { return s.maxRows }

// Insert appends a row and then trims the table to the newest MaxRows rows.
func (s *Store) Insert(ctx context.Context, prompt, text string) (Response, error) {
	if strings.TrimSpace(text) == "" {
		return Response{}, ErrEmptyResponse
	}
	r := Response{
		Prompt:    normalizePrompt(prompt),
		Text:      text,
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Response{}, fmt.Errorf("begin insert: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO responses (prompt, response_text, created_at) VALUES (?, ?, ?)",
		r.Prompt, r.Text, r.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		_ = tx.Rollback()
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		_ = tx.Rollback()
		return Response{}, fmt.Errorf("insert response: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM responses WHERE id IN (
			SELECT id FROM responses ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`,
		s.maxRows,
	); err != nil {
		_ = tx.Rollback()
		return Response{}, fmt.Errorf("enforce retention: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Response{}, fmt.Errorf("commit insert: %w", err)
	}
	return r, nil
}

// SampleExcluding returns one uniformly random row whose id is not in excluded.
func (s *Store) SampleExcluding(ctx context.Context, excluded []int64) (Response, error) {
	q := "SELECT id, prompt, response_text, created_at FROM responses"
	args := make([]any, 0, len(excluded))
	if len(excluded) > 0 {
		q += " WHERE id NOT IN (?" + strings.Repeat(", ?", len(excluded)-1) + ")"
		for _, id := range excluded {
			args = append(args, id)
		}
	}
	q += " ORDER BY RANDOM() LIMIT 1"
	return s.queryOne(ctx, q, args...)
}

// Latest returns the most recently inserted row.
func (s *Store) Latest(ctx context.Context) (Response, error) {
	return s.queryOne(ctx,
		"SELECT id, prompt, response_text, created_at FROM responses ORDER BY created_at DESC, id DESC LIMIT 1")
}

// List returns up to limit rows, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Response, error) {
	if limit <= 0 || limit > s.maxRows {
		limit = s.maxRows
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, prompt, response_text, created_at FROM responses ORDER BY created_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	items := []Response{}
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return items, nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryOne(ctx context.Context, q string, args ...any) (Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResponse(row scanner) (Response, error) {
	var (
		r       Response
		created string
	)
	if err := row.Scan(&r.ID, &r.Prompt, &r.Text, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("scan response: %w", err)
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return Response{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	return r, nil
}

// normalizePrompt trims and NFC-normalizes so visually equal prompts are stored identically.
func normalizePrompt(p string) string {
	return norm.NFC.String(strings.TrimSpace(p))
}
