// Package history keeps an audit log of completed segments in SQLite. The
// log is write-mostly and never feeds back into student state.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type db struct {
	conn *sql.DB
	// serializes writers; SQLite allows one at a time
	writeMu sync.Mutex
}

// connect opens path in WAL mode with a single connection
func connect(ctx context.Context, path string) (*db, error) {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &db{conn: conn}
	if err := d.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	slog.Info("Connected to history database", "path", path)
	return d, nil
}

func (d *db) ensureSchema(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
