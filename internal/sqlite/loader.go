package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// loadAll reads each kind's JSONL file into the records table in one
// transaction: either every file loads or the database stays empty.
// Malformed lines, lines without an id, and repeated ids are skipped.
func loadAll(db *sql.DB, dataDir string, kinds []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO records (kind, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, kind := range kinds {
		lines, err := readJSONL(jsonlPath(dataDir, kind))
		if err != nil {
			return err
		}
		for _, line := range lines {
			body, err := decodeBody(line)
			if err != nil || body.ID() == "" {
				continue
			}
			created := timestampOf(body, fieldCreated, now)
			edited := timestampOf(body, fieldEdited, created)
			if _, err := stmt.Exec(kind, body.ID(), string(line), formatTime(created), formatTime(edited)); err != nil {
				return fmt.Errorf("loading %s %s: %w", kind, body.ID(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}
