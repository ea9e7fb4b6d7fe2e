// Package store persists resources in sqlite. The daemon owns a single
// store; mutation handlers write here first, then publish the matching
// event to the bus.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Resource is a stored row. The wire representation lives in
// internal/event; the server converts between the two.
type Resource struct {
	ID        string
	Name      string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resources_name ON resources(name);
`

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle, applying the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all resources ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, body, created_at, updated_at FROM resources ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.Body, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (Resource, error) {
	var r Resource
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, body, created_at, updated_at FROM resources WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Body, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("get resource %s: %w", id, err)
	}
	return r, nil
}

func (s *Store) Create(ctx context.Context, name, body string) (Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resource{}, fmt.Errorf("resource name is required")
	}

	now := time.Now().UTC()
	r := Resource{
		ID:        uuid.NewString(),
		Name:      name,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (id, name, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Body, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return Resource{}, fmt.Errorf("create resource: %w", err)
	}
	return r, nil
}

func (s *Store) Update(ctx context.Context, id, name, body string) (Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resource{}, fmt.Errorf("resource name is required")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE resources SET name = ?, body = ?, updated_at = ? WHERE id = ?`,
		name, body, now, id)
	if err != nil {
		return Resource{}, fmt.Errorf("update resource %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Resource{}, fmt.Errorf("update resource %s: %w", id, err)
	}
	if affected == 0 {
		return Resource{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count reports the number of stored resources.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}
