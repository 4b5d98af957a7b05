package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/domain"
)

// SQLiteStore implements domain.HistoryStore on SQLite. Retention is
// enforced in the same transaction as the insert.
type SQLiteStore struct {
	db       *sql.DB
	maxTurns int
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration. A database that cannot be opened or
// migrated is moved aside to dbPath.corrupt-<ulid> and recreated empty.
func NewSQLiteStore(dbPath string, maxTurns int, logger *slog.Logger) (*SQLiteStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	db, err := openSQLite(dbPath)
	if err != nil {
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, err
		}
		aside := dbPath + ".corrupt-" + domain.NewID(time.Now())
		logger.Warn("history db unusable, starting empty", "path", dbPath, "moved_to", aside, "error", err)
		if mvErr := os.Rename(dbPath, aside); mvErr != nil {
			return nil, fmt.Errorf("%w (move aside: %v)", err, mvErr)
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			_ = os.Rename(dbPath+suffix, aside+suffix)
		}
		if db, err = openSQLite(dbPath); err != nil {
			return nil, err
		}
	}
	return &SQLiteStore{db: db, maxTurns: maxTurns}, nil
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single connection keeps insert+trim transactions strictly ordered.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turns (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			ts              TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			session_handle  TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS turns_conversation ON turns (conversation_id, seq)")
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, t domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("history.append", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO turns (id, role, content, ts, conversation_id, session_handle) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.Role, t.Content, t.Timestamp.UTC().Format(time.RFC3339Nano), t.ConversationID, string(t.SessionHandle),
	); err != nil {
		return persistErr("history.append", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM turns WHERE seq NOT IN (SELECT seq FROM turns ORDER BY seq DESC LIMIT ?)", s.maxTurns,
	); err != nil {
		return persistErr("history.trim", err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("history.append", err)
	}
	return nil
}

func (s *SQLiteStore) MostRecentSessionHandle(ctx context.Context, conversationID string) (domain.SessionHandle, bool, error) {
	var handle string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_handle FROM turns WHERE conversation_id = ? AND session_handle != '' ORDER BY seq DESC LIMIT 1",
		conversationID,
	).Scan(&handle)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr("history.lookup", err)
	}
	return domain.SessionHandle(handle), true, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = s.maxTurns
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, ts, conversation_id, session_handle FROM (
			SELECT * FROM turns ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, persistErr("history.recent", err)
	}
	defer rows.Close()

	var out []domain.Turn
	for rows.Next() {
		var (
			t      domain.Turn
			ts     string
			handle string
		)
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &ts, &t.ConversationID, &handle); err != nil {
			return nil, persistErr("history.recent", err)
		}
		t.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		t.SessionHandle = domain.SessionHandle(handle)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("history.recent", err)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns").Scan(&n); err != nil {
		return 0, persistErr("history.count", err)
	}
	return n, nil
}

func persistErr(op string, err error) error {
	return domain.WrapOp(op, fmt.Errorf("%w: %v", domain.ErrPersistence, err))
}
