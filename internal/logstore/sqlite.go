package logstore

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the persistent LogStore backing: a WAL-mode SQLite
// database holding one append-only table of FIX message log entries per
// session ID.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed log store at dsn and
// applies any pending migrations.
func Open(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			return fmt.Errorf("record migration %s: %w", f, err)
		}
	}
	return nil
}

// Write appends entry to the per-session-id stream. If entry.MetaJSON is
// empty, a UUID correlation id is generated and stored so later tooling
// can cross-reference this write with other logs.
func (s *SQLiteStore) Write(entry LogEntry) error {
	meta := entry.MetaJSON
	if meta == "" {
		meta = fmt.Sprintf(`{"corr":%q}`, uuid.NewString())
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO fix_log (session_id, seq_num, direction, msg_type, raw, meta_json, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.SeqNum, entry.Direction.String(), entry.MsgType, entry.Raw, meta, ts,
	)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Replay enumerates all entries for sessionID in append order, calling
// visitor for each until it returns false or the entries are exhausted.
func (s *SQLiteStore) Replay(sessionID string, visitor Visitor) error {
	rows, err := s.db.Query(
		`SELECT seq_num, direction, msg_type, raw, meta_json, timestamp
		 FROM fix_log WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return fmt.Errorf("replay query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e LogEntry
		var direction, meta string
		e.SessionID = sessionID
		if err := rows.Scan(&e.SeqNum, &direction, &e.MsgType, &e.Raw, &meta, &e.Timestamp); err != nil {
			return fmt.Errorf("scan log entry: %w", err)
		}
		e.MetaJSON = meta
		if direction == "OUTBOUND" {
			e.Direction = Outbound
		} else {
			e.Direction = Inbound
		}
		if !visitor(e) {
			break
		}
	}
	return rows.Err()
}

var _ LogStore = (*SQLiteStore)(nil)
