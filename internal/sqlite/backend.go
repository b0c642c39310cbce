// Package sqlite is the storage of the development backend. Each kind's
// records live in <data_dir>/<kind>.jsonl, the source of truth; SQLite is the
// query engine, rebuilt from those files on every Attach.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/assetdesk/internal/schema"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const dbFileName = "assetdesk.db"

// Backend owns the SQLite database and one Table per registered kind.
type Backend struct {
	registry *schema.Registry

	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB
	tables   map[string]*Table
}

// NewBackend creates a detached backend for the kinds in reg.
func NewBackend(reg *schema.Registry) *Backend {
	return &Backend{
		registry: reg,
		tables:   make(map[string]*Table),
	}
}

// Attach opens the database in dataDir, creating the directory if needed,
// loads every kind's JSONL file and seeds a fresh data directory.
func (b *Backend) Attach(dataDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if dataDir == "" {
		return types.ErrDataDirEmpty
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// The database is a cache of the JSONL files; start from an empty one.
	dbPath := filepath.Join(dataDir, dbFileName)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	kinds := b.registry.Kinds()
	if err := loadAll(db, dataDir, kinds); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	for _, kind := range kinds {
		s, _ := b.registry.Kind(kind)
		b.tables[kind] = &Table{backend: b, kind: kind, schema: s}
	}
	b.attached = true

	seeded, err := b.seedLocked()
	if err != nil {
		b.detachLocked()
		return fmt.Errorf("seeding: %w", err)
	}
	if seeded {
		glog.Infof("sqlite: seeded new data directory %s", dataDir)
	}
	glog.V(1).Infof("sqlite: attached %s", dataDir)
	return nil
}

// Detach closes the database. It is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.detachLocked()
}

func (b *Backend) detachLocked() error {
	if !b.attached {
		return nil
	}
	b.attached = false
	b.tables = make(map[string]*Table)
	db := b.db
	b.db = nil
	return db.Close()
}

// Table returns the table for kind.
func (b *Backend) Table(kind string) (*Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrNotAttached
	}
	t, ok := b.tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownKind, kind)
	}
	return t, nil
}

// generateID returns a new UUID v7, falling back to v4.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
