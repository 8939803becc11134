// Package policy persists the node-local replication policy — followed
// peers, seeded repositories, and per-repository visibility overrides —
// in Postgres, grounded on the teacher's pkg/database connection-pool
// and embedded-migration pattern.
package policy

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" sql driver

	"github.com/radicle-collab/heartwood/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client is a pooled connection to the policy database.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// NewClient opens a pooled connection to cfg.PolicyDatabaseURL.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.PolicyDatabaseURL == "" {
		return nil, fmt.Errorf("policy: HEARTWOOD_POLICY_DATABASE_URL is not set")
	}
	db, err := sql.Open("postgres", cfg.PolicyDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("policy: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("policy: ping database: %w", err)
	}

	return &Client{db: db, logger: log.New(log.Writer(), "[policy] ", log.LstdFlags)}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

type migration struct {
	version string
	sql     string
}

// MigrateUp applies every embedded migration not already recorded in
// schema_migrations.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := c.loadMigrations()
	if err != nil {
		return fmt.Errorf("policy: load migrations: %w", err)
	}
	applied, err := c.appliedVersions(ctx)
	if err != nil && !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("policy: read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("policy: apply migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		c.logger.Printf("applied migration %s", m.version)
	}
	return nil
}

func (c *Client) loadMigrations() ([]migration, error) {
	var out []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return err
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, migration{version: strings.TrimSuffix(d.Name(), ".sql"), sql: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (c *Client) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
