// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent presence, activity log, and screenshot persistence

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			name       TEXT PRIMARY KEY,
			address    TEXT NOT NULL DEFAULT '',
			cpu        REAL NOT NULL DEFAULT 0,
			memory     REAL NOT NULL DEFAULT 0,
			state      TEXT NOT NULL DEFAULT 'offline',
			last_seen  DATETIME NOT NULL,
			group_id   INTEGER,

			CHECK (state IN ('online', 'offline'))
		);

		CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(state);
		CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);

		CREATE TABLE IF NOT EXISTS activity_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name TEXT NOT NULL,
			user       TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			details    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity_log(agent_name, created_at);

		CREATE TABLE IF NOT EXISTS screenshots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_name  TEXT NOT NULL,
			filename    TEXT NOT NULL,
			data        BLOB NOT NULL,
			captured_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_screenshots_agent ON screenshots(agent_name, captured_at DESC);

		CREATE TABLE IF NOT EXISTS admin_users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'viewer',
			created_at    DATETIME NOT NULL,

			CHECK (role IN ('admin', 'viewer'))
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// resolveNameCollision decides what happens when an agent registers a
// name that already exists. The default policy is last-writer-wins: the
// new registration silently overwrites the prior record. Swap this out
// for reject-on-conflict or a generation counter if name squatting
// becomes a problem.
func resolveNameCollision() string {
	return `
		INSERT INTO agents (name, address, cpu, memory, state, last_seen)
		VALUES (?, ?, ?, ?, 'online', ?)
		ON CONFLICT(name) DO UPDATE SET
			address   = excluded.address,
			cpu       = excluded.cpu,
			memory    = excluded.memory,
			state     = 'online',
			last_seen = excluded.last_seen
	`
}

// UpsertAgent records a registration or heartbeat: the agent becomes
// online and its last_seen advances to now. Group assignment is carried
// through untouched.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, name, address string, m Metrics) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}

	_, err := s.db.ExecContext(ctx, resolveNameCollision(),
		name, address, m.CPU, m.Memory, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting agent %q: %w", name, err)
	}
	return nil
}

// MarkOffline demotes a single agent to offline. Returns true if the
// record existed and was actually online.
func (s *SQLiteStore) MarkOffline(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET state = 'offline' WHERE name = ? AND state = 'online'`, name)
	if err != nil {
		return false, fmt.Errorf("marking %q offline: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkStale batch-demotes every online agent whose last_seen is older
// than the cutoff, returning the names that changed. This is the only
// write path that may flip state to offline.
func (s *SQLiteStore) MarkStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning stale sweep: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT name FROM agents WHERE state = 'online' AND last_seen < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying stale agents: %w", err)
	}

	var stale []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning stale agent: %w", err)
		}
		stale = append(stale, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating stale agents: %w", err)
	}
	rows.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE agents SET state = 'offline' WHERE state = 'online' AND last_seen < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("demoting stale agents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stale sweep: %w", err)
	}
	return stale, nil
}

// GetAgent retrieves a single agent record by name.
func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, address, cpu, memory, state, last_seen, group_id FROM agents WHERE name = ?`, name)

	rec, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent %q: %w", name, err)
	}
	return rec, nil
}

// ListAgents returns all agent records ordered by name.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, address, cpu, memory, state, last_seen, group_id FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// Stats returns the aggregate fleet counts in a single query.
func (s *SQLiteStore) Stats(ctx context.Context) (*FleetStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN state = 'online' THEN 1 ELSE 0 END), 0)
		FROM agents`)

	var stats FleetStats
	if err := row.Scan(&stats.Total, &stats.Online); err != nil {
		return nil, fmt.Errorf("scanning stats: %w", err)
	}
	stats.Offline = stats.Total - stats.Online
	return &stats, nil
}

// SetAgentGroup assigns or clears the policy group for an agent.
func (s *SQLiteStore) SetAgentGroup(ctx context.Context, name string, groupID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET group_id = ? WHERE name = ?`, groupID, name)
	if err != nil {
		return fmt.Errorf("setting group for %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendActivity appends one entry to the activity trail.
func (s *SQLiteStore) AppendActivity(ctx context.Context, entry *ActivityEntry) error {
	at := entry.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (agent_name, user, kind, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.AgentName, entry.User, entry.Kind, entry.Details, at)
	if err != nil {
		return fmt.Errorf("appending activity: %w", err)
	}
	return nil
}

// ListActivity returns recent activity, newest first. An empty
// agentName returns entries for the whole fleet.
func (s *SQLiteStore) ListActivity(ctx context.Context, agentName string, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, agent_name, user, kind, details, created_at FROM activity_log`
	args := []any{}
	if agentName != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agentName)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	var entries []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.AgentName, &e.User, &e.Kind, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity: %w", err)
	}
	return entries, nil
}

// SaveScreenshot persists a captured screenshot.
func (s *SQLiteStore) SaveScreenshot(ctx context.Context, shot *Screenshot) error {
	at := shot.CapturedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshots (agent_name, filename, data, captured_at) VALUES (?, ?, ?, ?)`,
		shot.AgentName, shot.Filename, shot.Data, at)
	if err != nil {
		return fmt.Errorf("saving screenshot: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		shot.ID = id
	}
	return nil
}

// ListScreenshots returns recent screenshots for an agent, newest first.
func (s *SQLiteStore) ListScreenshots(ctx context.Context, agentName string, limit int) ([]*Screenshot, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_name, filename, data, captured_at FROM screenshots
		 WHERE agent_name = ? ORDER BY captured_at DESC, id DESC LIMIT ?`,
		agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("listing screenshots: %w", err)
	}
	defer rows.Close()

	var shots []*Screenshot
	for rows.Next() {
		var sc Screenshot
		if err := rows.Scan(&sc.ID, &sc.AgentName, &sc.Filename, &sc.Data, &sc.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning screenshot: %w", err)
		}
		shots = append(shots, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating screenshots: %w", err)
	}
	return shots, nil
}

// CreateAdminUser inserts a dashboard operator account.
func (s *SQLiteStore) CreateAdminUser(ctx context.Context, username, passwordHash, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), username, passwordHash, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating admin user %q: %w", username, err)
	}
	return nil
}

// GetAdminUser fetches an operator account by username.
func (s *SQLiteStore) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM admin_users WHERE username = ?`,
		username)

	var u AdminUser
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting admin user %q: %w", username, err)
	}
	return &u, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanAgent.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*AgentRecord, error) {
	var rec AgentRecord
	var groupID sql.NullInt64
	err := row.Scan(&rec.Name, &rec.Address, &rec.Metrics.CPU, &rec.Metrics.Memory,
		&rec.State, &rec.LastSeen, &groupID)
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		rec.GroupID = &groupID.Int64
	}
	return &rec, nil
}
