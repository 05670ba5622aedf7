// Package history keeps an audit trail of successful feed refreshes in a SQL
// database. SQLite is used for single-host deployments and PostgreSQL when
// several dashboard instances share one trail.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"fixturefeed/config"
	"fixturefeed/logger"
	"fixturefeed/models"
)

// Run is one recorded refresh.
type Run struct {
	RunID         string    `json:"run_id"`
	Token         int64     `json:"token"`
	RefreshedAt   time.Time `json:"refreshed_at"`
	Rows          int       `json:"rows"`
	Skipped       int       `json:"skipped"`
	Dropped       int       `json:"dropped"`
	Issues        int       `json:"issues"`
	SchemaVersion string    `json:"schema_version"`
}

// Store writes and reads refresh runs.
type Store struct {
	db     *sql.DB
	driver string
	retain int
	log    *logger.Log
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS refresh_runs (
	run_id TEXT PRIMARY KEY,
	token BIGINT NOT NULL,
	refreshed_at_ms BIGINT NOT NULL,
	rows_count INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	dropped INTEGER NOT NULL,
	issues INTEGER NOT NULL,
	schema_version TEXT NOT NULL
)`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_refresh_runs_refreshed_at ON refresh_runs(refreshed_at_ms)`

// Open connects to the configured database and makes sure the table exists.
func Open(ctx context.Context, cfg config.HistoryConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history dsn is required")
	}

	var driver string
	switch cfg.Driver {
	case "sqlite", "":
		driver = "sqlite"
	case "postgres":
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer at a time; sqlite serialises writes anyway.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, retain: cfg.Retain, log: logger.GetLogger()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.log.WithComponent("history").WithFields(logger.Fields{
		"driver": driver,
		"retain": cfg.Retain,
	}).Info("refresh history initialized")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create refresh_runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		s.log.WithComponent("history").WithError(err).Warn("failed to create refresh_runs index")
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Record stores entry and prunes the trail down to the retention limit.
// Recording the same run twice is a no-op.
func (s *Store) Record(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Table == nil {
		return nil
	}

	insert := s.rebind(`INSERT INTO refresh_runs
		(run_id, token, refreshed_at_ms, rows_count, skipped, dropped, issues, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING`)
	_, err := s.db.ExecContext(ctx, insert,
		entry.RunID,
		entry.Token,
		entry.CreatedAt.UnixMilli(),
		entry.Table.Len(),
		entry.Table.Skipped,
		entry.Table.Dropped,
		len(entry.Table.Issues),
		entry.Table.Schema.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to record refresh %s: %w", entry.RunID, err)
	}

	if s.retain > 0 {
		prune := s.rebind(`DELETE FROM refresh_runs WHERE run_id NOT IN (
			SELECT run_id FROM refresh_runs ORDER BY refreshed_at_ms DESC LIMIT ?)`)
		if _, err := s.db.ExecContext(ctx, prune, s.retain); err != nil {
			return fmt.Errorf("failed to prune refresh history: %w", err)
		}
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT run_id, token, refreshed_at_ms, rows_count, skipped, dropped, issues, schema_version
		FROM refresh_runs ORDER BY refreshed_at_ms DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh history: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Token, &ms, &r.Rows, &r.Skipped, &r.Dropped, &r.Issues, &r.SchemaVersion); err != nil {
			return nil, fmt.Errorf("failed to scan refresh run: %w", err)
		}
		r.RefreshedAt = time.UnixMilli(ms).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Observe matches the cache fill hook. Failures are logged only.
func (s *Store) Observe(entry *models.CacheEntry) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Record(ctx, entry); err != nil {
		s.log.WithComponent("history").WithError(err).Warn("refresh not recorded")
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
