package store

// schema contains the statements that create the kernelscan report schema.
// They are executed one by one and must stay portable between SQLite and
// PostgreSQL: no AUTOINCREMENT, booleans as integers, timestamps as text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id                TEXT PRIMARY KEY,
    started_at        TEXT NOT NULL,
    duration_ms       INTEGER NOT NULL,
    backend           TEXT NOT NULL,
    inputs            TEXT NOT NULL,
    kernel_count      INTEGER NOT NULL,
    class_count       INTEGER NOT NULL,
    method_count      INTEGER NOT NULL,
    edge_count        INTEGER NOT NULL,
    unavailable_count INTEGER NOT NULL,
    diagnostic_count  INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

	// Classes the run touched, with their final level and disposition.
	`CREATE TABLE IF NOT EXISTS classes (
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    name        TEXT NOT NULL,
    level       TEXT NOT NULL,
    disposition TEXT NOT NULL,
    application INTEGER NOT NULL,
    runtime     INTEGER NOT NULL,
    reason      TEXT,
    PRIMARY KEY (run_id, name)
)`,
	`CREATE INDEX IF NOT EXISTS idx_classes_disposition ON classes(run_id, disposition)`,

	// Reachable methods in visit order.
	`CREATE TABLE IF NOT EXISTS methods (
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    signature   TEXT NOT NULL,
    class       TEXT NOT NULL,
    name        TEXT NOT NULL,
    params      TEXT NOT NULL,
    return_type TEXT NOT NULL,
    PRIMARY KEY (run_id, signature)
)`,
	`CREATE INDEX IF NOT EXISTS idx_methods_class ON methods(run_id, class)`,

	`CREATE TABLE IF NOT EXISTS call_edges (
    run_id          TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    caller          TEXT NOT NULL,
    target          TEXT NOT NULL,
    callee          TEXT NOT NULL,
    call_kind       TEXT NOT NULL,
    bytecode_offset INTEGER NOT NULL,
    status          TEXT NOT NULL,
    reason          TEXT,
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_call_edges_caller ON call_edges(run_id, caller)`,
	`CREATE INDEX IF NOT EXISTS idx_call_edges_status ON call_edges(run_id, status)`,

	`CREATE TABLE IF NOT EXISTS entrypoints (
    run_id TEXT NOT NULL,
    seq    INTEGER NOT NULL,
    method TEXT NOT NULL,
    class  TEXT NOT NULL,
    kind   TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,

	`CREATE TABLE IF NOT EXISTS kernels (
    run_id TEXT NOT NULL,
    seq    INTEGER NOT NULL,
    class  TEXT NOT NULL,
    PRIMARY KEY (run_id, class)
)`,

	`CREATE TABLE IF NOT EXISTS diagnostics (
    run_id  TEXT NOT NULL,
    seq     INTEGER NOT NULL,
    kind    TEXT NOT NULL,
    subject TEXT NOT NULL,
    message TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,

	// Metadata table for store info
	`CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
)`,
}

// runTables lists every per-run table, children first.
var runTables = []string{"diagnostics", "kernels", "entrypoints", "call_edges", "methods", "classes", "runs"}
