// Package postgres is a Directory that keeps every index file as a row of
// the index_files table, so several hosts can share one index.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/store"
	pgclient "github.com/Adithya-Monish-Kumar-K/termindex/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_files (
	index_name TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	data       BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (index_name, name)
)`

// Directory scopes all rows to one index name. A row upsert is a single
// statement, which gives Write its per-file atomicity.
type Directory struct {
	client    *pgclient.Client
	indexName string
}

func New(client *pgclient.Client, indexName string) *Directory {
	return &Directory{client: client, indexName: indexName}
}

// EnsureSchema creates the index_files table when it does not exist.
func (d *Directory) EnsureSchema(ctx context.Context) error {
	return d.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("creating index_files table: %w", err)
		}
		return nil
	})
}

func (d *Directory) Read(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := d.client.DB.QueryRowContext(ctx,
		`SELECT data FROM index_files WHERE index_name = $1 AND name = $2`,
		d.indexName, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func (d *Directory) Write(ctx context.Context, name string, data []byte) error {
	_, err := d.client.DB.ExecContext(ctx,
		`INSERT INTO index_files (index_name, name, data, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (index_name, name)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		d.indexName, name, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (d *Directory) Delete(ctx context.Context, name string) error {
	_, err := d.client.DB.ExecContext(ctx,
		`DELETE FROM index_files WHERE index_name = $1 AND name = $2`,
		d.indexName, name,
	)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", name, err)
	}
	return nil
}

func (d *Directory) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.client.DB.QueryContext(ctx,
		`SELECT name FROM index_files
		 WHERE index_name = $1 AND left(name, length($2)) = $2
		 ORDER BY name`,
		d.indexName, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("listing index files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning file name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index files: %w", err)
	}
	return names, nil
}

// Lock takes a session-level advisory lock keyed by index and lock name on a
// connection reserved for the holder. Postgres drops the lock if that
// session dies, so a crashed holder never blocks the next one.
func (d *Directory) Lock(ctx context.Context, name string) (io.Closer, error) {
	key := d.indexName + "/" + name
	conn, err := d.client.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserving connection for lock %s: %w", name, err)
	}
	var acquired bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&acquired)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("taking lock %s: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return nil, store.LockHeld(name)
	}
	return &advisoryLock{conn: conn, key: key}, nil
}

type advisoryLock struct {
	conn *sql.Conn
	key  string
}

// Close unlocks and returns the connection to the pool. If the unlock
// fails the connection is discarded instead, which ends the session and
// with it the lock.
func (l *advisoryLock) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var released bool
	err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key).Scan(&released)
	if err != nil || !released {
		slog.Default().Warn("advisory unlock failed, dropping session",
			"component", "postgres-directory", "lock", l.key, "error", err)
		// Raw returns the ErrBadConn itself; it only marks the conn for discard.
		l.conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	return l.conn.Close()
}

// Close releases the connection pool.
func (d *Directory) Close() error {
	return d.client.Close()
}

var _ store.Directory = (*Directory)(nil)
