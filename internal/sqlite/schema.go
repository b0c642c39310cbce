package sqlite

// Schema DDL. Every kind shares one records table; body holds the record's
// JSON exactly as the API serves it before reference expansion.
const (
	createRecords = `CREATE TABLE records (
    kind TEXT NOT NULL,
    id TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (kind, id)
);`

	idxRecordsKindCreated = `CREATE INDEX idx_records_kind_created ON records(kind, created_at);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createRecords,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxRecordsKindCreated,
}
