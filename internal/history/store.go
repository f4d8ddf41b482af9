// Package history records the outcome of every turn in a local SQLite database so later
// prompts can reference recent progress.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/animus-coder/scribe/internal/todo"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Entry is one recorded turn outcome.
type Entry struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Status        string      `json:"status"`
	Summary       string      `json:"summary"`
	Prompt        string      `json:"prompt,omitempty"`
	Todos         []todo.Item `json:"todos"`
	DurationMS    *int64      `json:"duration_ms,omitempty"`
	APIDurationMS *int64      `json:"duration_api_ms,omitempty"`
	CostUSD       *float64    `json:"cost_usd,omitempty"`
}

// Store persists entries with modernc.org/sqlite (pure Go, no CGO).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath and applies pending migrations.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// One writer at a time; the pool serialises access.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

func newULID(t time.Time) string {
	entropy := rand.New(rand.NewSource(t.UnixNano()))
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(entropy, 0)).String()
}

// Append records an entry, filling in ID and Timestamp when they are unset.
func (s *Store) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if e.ID == "" {
		e.ID = newULID(e.Timestamp)
	}
	if e.Todos == nil {
		e.Todos = []todo.Item{}
	}
	todos, err := json.Marshal(e.Todos)
	if err != nil {
		return Entry{}, fmt.Errorf("encode todos: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO history_entries
		(id, created_at, status, summary, prompt, todos, duration_ms, api_duration_ms, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Status, e.Summary, nullString(e.Prompt), string(todos),
		nullInt(e.DurationMS), nullInt(e.APIDurationMS), nullFloat(e.CostUSD))
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, status, summary, prompt, todos, duration_ms, api_duration_ms, cost_usd
		FROM history_entries ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PromptBlock renders recent entries as a markdown list for inclusion in the system prompt.
func (s *Store) PromptBlock(ctx context.Context, limit int) (string, error) {
	entries, err := s.Recent(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No prior history.", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", e.Status, e.Summary, e.Timestamp.UTC().Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n"), nil
}

// LatestTodos returns the todo list recorded with the most recent entry.
func (s *Store) LatestTodos(ctx context.Context) ([]todo.Item, error) {
	entries, err := s.Recent(ctx, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0].Todos, nil
}

// Clear deletes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM history_entries"); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		prompt   sql.NullString
		todosRaw string
		dur, api sql.NullInt64
		cost     sql.NullFloat64
	)
	if err := row.Scan(&e.ID, &e.Timestamp, &e.Status, &e.Summary, &prompt, &todosRaw, &dur, &api, &cost); err != nil {
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	e.Prompt = prompt.String
	if err := json.Unmarshal([]byte(todosRaw), &e.Todos); err != nil {
		return Entry{}, fmt.Errorf("decode todos for %s: %w", e.ID, err)
	}
	if dur.Valid {
		e.DurationMS = &dur.Int64
	}
	if api.Valid {
		e.APIDurationMS = &api.Int64
	}
	if cost.Valid {
		e.CostUSD = &cost.Float64
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
