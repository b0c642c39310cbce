package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

// Table stores the records of one kind. Every write rewrites the kind's
// JSONL file before returning.
type Table struct {
	backend *Backend
	kind    string
	schema  *schema.Schema
}

// Kind returns the table's entity kind.
func (t *Table) Kind() string {
	return t.kind
}

// Schema returns the field schema of the table's kind.
func (t *Table) Schema() *schema.Schema {
	return t.schema
}

func (t *Table) db() (*sql.DB, error) {
	if !t.backend.attached {
		return nil, types.ErrNotAttached
	}
	return t.backend.db, nil
}

// Get returns the record with id.
func (t *Table) Get(id string) (Body, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()

	db, err := t.db()
	if err != nil {
		return nil, err
	}
	return t.getLocked(db, id)
}

func (t *Table) getLocked(db *sql.DB, id string) (Body, error) {
	var raw string
	err := db.QueryRow("SELECT body FROM records WHERE kind = ? AND id = ?", t.kind, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", types.ErrNotFound, t.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s %s: %w", t.kind, id, err)
	}
	return decodeBody([]byte(raw))
}

// Fetch returns every record in insertion order.
func (t *Table) Fetch() ([]Body, error) {
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()

	db, err := t.db()
	if err != nil {
		return nil, err
	}
	return t.query(db, "SELECT body FROM records WHERE kind = ? ORDER BY rowid", t.kind)
}

// FindBy returns the records whose top-level field equals value.
func (t *Table) FindBy(field string, value any) ([]Body, error) {
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()

	db, err := t.db()
	if err != nil {
		return nil, err
	}
	return t.query(db,
		"SELECT body FROM records WHERE kind = ? AND json_extract(body, ?) = ? ORDER BY rowid",
		t.kind, "$."+field, value)
}

func (t *Table) query(db *sql.DB, q string, args ...any) ([]Body, error) {
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.kind, err)
	}
	defer rows.Close()

	out := []Body{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", t.kind, err)
		}
		b, err := decodeBody([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Count returns the number of records.
func (t *Table) Count() (int, error) {
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()

	db, err := t.db()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM records WHERE kind = ?", t.kind).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t.kind, err)
	}
	return n, nil
}

// Create stores body under a new UUID v7 and returns the stored record.
// created and edited are set when the kind has them.
func (t *Table) Create(body Body) (Body, error) {
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	return t.createLocked(body, time.Now().UTC())
}

func (t *Table) createLocked(body Body, now time.Time) (Body, error) {
	db, err := t.db()
	if err != nil {
		return nil, err
	}

	rec := body.Clone()
	rec[fieldID] = generateID()
	t.stamp(rec, fieldCreated, now)
	t.stamp(rec, fieldEdited, now)
	raw, err := encodeBody(rec)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(
		"INSERT INTO records (kind, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		t.kind, rec.ID(), string(raw), formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("creating %s: %w", t.kind, err)
	}
	return rec, t.persistLocked(db)
}

// Update merges body into the record with id and returns the result. The id
// and created fields cannot be changed.
func (t *Table) Update(id string, body Body) (Body, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()

	db, err := t.db()
	if err != nil {
		return nil, err
	}
	rec, err := t.getLocked(db, id)
	if err != nil {
		return nil, err
	}
	for k, v := range body {
		if k == fieldID || k == fieldCreated {
			continue
		}
		rec[k] = v
	}
	now := time.Now().UTC()
	t.stamp(rec, fieldEdited, now)
	raw, err := encodeBody(rec)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(
		"UPDATE records SET body = ?, updated_at = ? WHERE kind = ? AND id = ?",
		string(raw), formatTime(now), t.kind, id,
	); err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", t.kind, id, err)
	}
	return rec, t.persistLocked(db)
}

// Delete removes the record with id.
func (t *Table) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()

	db, err := t.db()
	if err != nil {
		return err
	}
	res, err := db.Exec("DELETE FROM records WHERE kind = ? AND id = ?", t.kind, id)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", t.kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s %s", types.ErrNotFound, t.kind, id)
	}
	return t.persistLocked(db)
}

func (t *Table) stamp(rec Body, field string, now time.Time) {
	if _, ok := t.schema.Field(field); ok {
		rec[field] = formatTime(now)
	}
}

// persistLocked rewrites the kind's JSONL file from the database.
func (t *Table) persistLocked(db *sql.DB) error {
	rows, err := db.Query("SELECT body FROM records WHERE kind = ? ORDER BY rowid", t.kind)
	if err != nil {
		return fmt.Errorf("reading %s for JSONL: %w", t.kind, err)
	}
	defer rows.Close()

	var lines []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scanning %s for JSONL: %w", t.kind, err)
		}
		lines = append(lines, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	return writeJSONL(jsonlPath(t.backend.dataDir, t.kind), lines)
}
