// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb/migrations"
)

// SQLiteStore keeps records in a SQLite file.
//
// Each row stores the full record as JSON in body. The indexed columns
// duplicate the fields used for filtering.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database file at path and applies
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("docdb: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer avoids SQLITE_BUSY on read-modify-write transactions.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertContract(ctx context.Context, db execer, c *datatypes.Contract) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling contract: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO contracts (contract_id, user_id, status, uploaded_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			user_id = excluded.user_id,
			status = excluded.status,
			uploaded_at = excluded.uploaded_at,
			updated_at = excluded.updated_at,
			body = excluded.body
	`, c.ContractID, c.UserID, string(c.Status), c.UploadedAt.UTC(), c.UpdatedAt.UTC(), string(body))
	return err
}

// PutContract implements Store.
func (s *SQLiteStore) PutContract(ctx context.Context, c *datatypes.Contract) error {
	if c == nil || c.ContractID == "" {
		return errors.New("docdb: contract id is required")
	}
	if err := upsertContract(ctx, s.db, c); err != nil {
		return fmt.Errorf("docdb: put contract %s: %w", c.ContractID, err)
	}
	return nil
}

// GetContract implements Store.
func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*datatypes.Contract, error) {
	var body string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM contracts WHERE contract_id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docdb: get contract %s: %w", id, err)
	}
	var c datatypes.Contract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("docdb: decode contract %s: %w", id, err)
	}
	return &c, nil
}

// UpdateContract implements Store.
func (s *SQLiteStore) UpdateContract(ctx context.Context, id string, fn MutateFunc) (*datatypes.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("docdb: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var body string
	err = tx.QueryRowContext(ctx, "SELECT body FROM contracts WHERE contract_id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docdb: get contract %s: %w", id, err)
	}
	var c datatypes.Contract
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return nil, fmt.Errorf("docdb: decode contract %s: %w", id, err)
	}
	if err := fn(&c); err != nil {
		return nil, err
	}
	c.ContractID = id
	if err := upsertContract(ctx, tx, &c); err != nil {
		return nil, fmt.Errorf("docdb: update contract %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docdb: commit %s: %w", id, err)
	}
	return &c, nil
}

// ListContracts implements Store.
func (s *SQLiteStore) ListContracts(ctx context.Context) ([]datatypes.Contract, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM contracts")
	if err != nil {
		return nil, fmt.Errorf("docdb: list contracts: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Contract
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("docdb: scan contract: %w", err)
		}
		var c datatypes.Contract
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("docdb: decode contract: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutClause implements Store.
func (s *SQLiteStore) PutClause(ctx context.Context, cl datatypes.Clause) error {
	body, err := json.Marshal(cl)
	if err != nil {
		return fmt.Errorf("marshalling clause: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clauses (clause_id, contract_id, body) VALUES (?, ?, ?)
		ON CONFLICT(clause_id) DO UPDATE SET
			contract_id = excluded.contract_id,
			body = excluded.body
	`, cl.ClauseID, cl.ContractID, string(body))
	if err != nil {
		return fmt.Errorf("docdb: put clause %s: %w", cl.ClauseID, err)
	}
	return nil
}

// ListClauses implements Store.
func (s *SQLiteStore) ListClauses(ctx context.Context, contractID string) ([]datatypes.Clause, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT body FROM clauses WHERE contract_id = ? ORDER BY clause_id", contractID)
	if err != nil {
		return nil, fmt.Errorf("docdb: list clauses %s: %w", contractID, err)
	}
	defer rows.Close()

	var out []datatypes.Clause
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("docdb: scan clause: %w", err)
		}
		var cl datatypes.Clause
		if err := json.Unmarshal([]byte(body), &cl); err != nil {
			return nil, fmt.Errorf("docdb: decode clause: %w", err)
		}
		out = append(out, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortClauses(out)
	return out, nil
}
