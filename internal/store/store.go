package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store handles persistence of analysis reports to SQLite or PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect dialect
	dbPath  string // empty for PostgreSQL
	baseDir string // where report.json is written
}

// Open creates or opens a kernelscan report database.
// Reports are stored at report.db inside dir, which is created if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "report.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	s := &Store{db: db, dialect: dialectSQLite, dbPath: dbPath, baseDir: dir}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDSN opens PostgreSQL when dsn is a postgres:// URL and falls back to
// SQLite under dir otherwise. dir is still used for report.json.
func OpenDSN(dir, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if !IsPostgresDSN(dsn) {
		return Open(dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &Store{db: db, dialect: dialectPostgres, baseDir: dir}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (s *Store) createSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path to the database file, or "" for PostgreSQL.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Dir returns the directory report.json is written to.
func (s *Store) Dir() string {
	return s.baseDir
}

// Driver names the database backend in use.
func (s *Store) Driver() string {
	if s.dialect == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Clear removes every stored run.
func (s *Store) Clear() error {
	for _, table := range append(runTables, "metadata") {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing table %s: %w", table, err)
		}
	}
	return nil
}

// SetMetadata stores a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(s.rebind(upsertMetadata), key, value)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(s.rebind("SELECT value FROM metadata WHERE key = ?"), key).Scan(&value)
	return value, err
}

const upsertMetadata = `
	INSERT INTO metadata (key, value)
	VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
`

// SaveRun persists a complete report in one transaction. An empty run ID is
// replaced by a fresh one; the ID used is returned.
func (s *Store) SaveRun(ctx context.Context, rep *Report) (RunID, error) {
	if rep.Run.ID == "" {
		rep.Run.ID = NewRunID()
	}
	if rep.Run.StartedAt.IsZero() {
		rep.Run.StartedAt = time.Now()
	}

	batch, err := s.BeginBatch(ctx)
	if err != nil {
		return "", err
	}
	defer batch.Rollback()

	id := rep.Run.ID
	if err := batch.InsertRun(&rep.Run); err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	for i, k := range rep.Kernels {
		if err := batch.exec(`INSERT INTO kernels (run_id, seq, class) VALUES (?, ?, ?)`, id, i, k); err != nil {
			return "", fmt.Errorf("inserting kernel %s: %w", k, err)
		}
	}
	for i, ep := range rep.Entrypoints {
		if err := batch.exec(`
			INSERT INTO entrypoints (run_id, seq, method, class, kind)
			VALUES (?, ?, ?, ?, ?)
		`, id, i, ep.Method, ep.Class, ep.Kind); err != nil {
			return "", fmt.Errorf("inserting entrypoint %s: %w", ep.Method, err)
		}
	}
	for i := range rep.Classes {
		if err := batch.InsertClass(id, i, &rep.Classes[i]); err != nil {
			return "", fmt.Errorf("inserting class %s: %w", rep.Classes[i].Name, err)
		}
	}
	for i := range rep.Methods {
		if err := batch.InsertMethod(id, i, &rep.Methods[i]); err != nil {
			return "", fmt.Errorf("inserting method %s: %w", rep.Methods[i].Signature, err)
		}
	}
	for i := range rep.Edges {
		if err := batch.InsertCallEdge(id, i, &rep.Edges[i]); err != nil {
			return "", fmt.Errorf("inserting call edge: %w", err)
		}
	}
	for i, d := range rep.Diagnostics {
		if err := batch.exec(`
			INSERT INTO diagnostics (run_id, seq, kind, subject, message)
			VALUES (?, ?, ?, ?, ?)
		`, id, i, d.Kind, d.Subject, d.Message); err != nil {
			return "", fmt.Errorf("inserting diagnostic: %w", err)
		}
	}
	if err := batch.exec(upsertMetadata, "last_run_id", string(id)); err != nil {
		return "", err
	}
	if err := batch.exec(upsertMetadata, "last_run_at", formatTime(rep.Run.StartedAt)); err != nil {
		return "", err
	}
	return id, batch.Commit()
}

// Stats holds statistics about the stored reports.
type Stats struct {
	RunCount    int       `json:"run_count"`
	KernelCount int       `json:"kernel_count"`
	ClassCount  int       `json:"class_count"`
	MethodCount int       `json:"method_count"`
	EdgeCount   int       `json:"edge_count"`
	LastRunID   RunID     `json:"last_run_id,omitempty"`
	LastRunAt   time.Time `json:"last_run_at"`
}

// GetStats returns statistics about the stored reports.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	rows := []struct {
		table string
		dest  *int
	}{
		{"runs", &stats.RunCount},
		{"kernels", &stats.KernelCount},
		{"classes", &stats.ClassCount},
		{"methods", &stats.MethodCount},
		{"call_edges", &stats.EdgeCount},
	}

	for _, r := range rows {
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + r.table).Scan(r.dest)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", r.table, err)
		}
	}

	if id, err := s.GetMetadata("last_run_id"); err == nil {
		stats.LastRunID = RunID(id)
	}
	if ts, err := s.GetMetadata("last_run_at"); err == nil {
		stats.LastRunAt, _ = time.Parse(timeLayout, ts)
	}

	return stats, nil
}

const runColumns = `id, started_at, duration_ms, backend, inputs, kernel_count, class_count,
	method_count, edge_count, unavailable_count, diagnostic_count`

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	q := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, id"
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	return queryAll(s, q, scanRun, args...)
}

// GetRun returns one run or ErrRunNotFound.
func (s *Store) GetRun(id RunID) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(s.rebind("SELECT "+runColumns+" FROM runs WHERE id = ?"), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// Kernels returns the kernel classes of a run in discovery order.
func (s *Store) Kernels(id RunID) ([]string, error) {
	return queryAll(s, "SELECT class FROM kernels WHERE run_id = ? ORDER BY seq",
		func(r scanner) (string, error) {
			var c string
			return c, r.Scan(&c)
		}, string(id))
}

// Entrypoints returns the entry methods of a run.
func (s *Store) Entrypoints(id RunID) ([]Entrypoint, error) {
	return queryAll(s, "SELECT method, class, kind FROM entrypoints WHERE run_id = ? ORDER BY seq",
		func(r scanner) (Entrypoint, error) {
			var ep Entrypoint
			return ep, r.Scan(&ep.Method, &ep.Class, &ep.Kind)
		}, string(id))
}

// Classes returns the classified classes of a run, optionally restricted to
// one disposition.
func (s *Store) Classes(id RunID, disposition string) ([]Class, error) {
	q := "SELECT name, level, disposition, application, runtime, reason FROM classes WHERE run_id = ?"
	args := []any{string(id)}
	if disposition != "" {
		q += " AND disposition = ?"
		args = append(args, disposition)
	}
	q += " ORDER BY seq"
	return queryAll(s, q, func(r scanner) (Class, error) {
		var (
			c       Class
			app, rt int
			reason  sql.NullString
		)
		err := r.Scan(&c.Name, &c.Level, &c.Disposition, &app, &rt, &reason)
		c.Application, c.Runtime, c.Reason = app != 0, rt != 0, reason.String
		return c, err
	}, args...)
}

// Methods returns the reachable methods of a run in visit order.
func (s *Store) Methods(id RunID) ([]Method, error) {
	return queryAll(s, "SELECT signature, class, name, params, return_type FROM methods WHERE run_id = ? ORDER BY seq",
		func(r scanner) (Method, error) {
			var m Method
			return m, r.Scan(&m.Signature, &m.Class, &m.Name, &m.Params, &m.Return)
		}, string(id))
}

// Edges returns the call edges of a run, optionally restricted to one status.
func (s *Store) Edges(id RunID, status string) ([]CallEdge, error) {
	q := `SELECT caller, target, callee, call_kind, bytecode_offset, status, reason
		FROM call_edges WHERE run_id = ?`
	args := []any{string(id)}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	q += " ORDER BY seq"
	return queryAll(s, q, func(r scanner) (CallEdge, error) {
		var (
			e      CallEdge
			reason sql.NullString
		)
		err := r.Scan(&e.Caller, &e.Target, &e.Callee, &e.Kind, &e.Offset, &e.Status, &reason)
		e.Reason = reason.String
		return e, err
	}, args...)
}

// Diagnostics returns the diagnostics of a run.
func (s *Store) Diagnostics(id RunID) ([]Diagnostic, error) {
	return queryAll(s, "SELECT kind, subject, message FROM diagnostics WHERE run_id = ? ORDER BY seq",
		func(r scanner) (Diagnostic, error) {
			var d Diagnostic
			return d, r.Scan(&d.Kind, &d.Subject, &d.Message)
		}, string(id))
}

// Report loads everything stored for a run.
func (s *Store) Report(id RunID) (*Report, error) {
	run, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}
	rep := &Report{Run: *run}
	if rep.Kernels, err = s.Kernels(id); err != nil {
		return nil, fmt.Errorf("loading kernels: %w", err)
	}
	if rep.Entrypoints, err = s.Entrypoints(id); err != nil {
		return nil, fmt.Errorf("loading entrypoints: %w", err)
	}
	if rep.Classes, err = s.Classes(id, ""); err != nil {
		return nil, fmt.Errorf("loading classes: %w", err)
	}
	if rep.Methods, err = s.Methods(id); err != nil {
		return nil, fmt.Errorf("loading methods: %w", err)
	}
	if rep.Edges, err = s.Edges(id, ""); err != nil {
		return nil, fmt.Errorf("loading edges: %w", err)
	}
	if rep.Diagnostics, err = s.Diagnostics(id); err != nil {
		return nil, fmt.Errorf("loading diagnostics: %w", err)
	}
	return rep, nil
}

// WriteReportJSON writes the report of a run to report.json in the store
// directory and returns the file path.
func (s *Store) WriteReportJSON(id RunID) (string, error) {
	rep, err := s.Report(id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling report.json: %w", err)
	}

	reportPath := filepath.Join(s.baseDir, "report.json")
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing report.json: %w", err)
	}

	return reportPath, nil
}

// DB returns the underlying database for advanced queries.
// Use with caution - prefer adding methods to Store instead.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginBatch starts a transaction for batch inserts.
// Call Commit() when done, or Rollback() on error.
func (s *Store) BeginBatch(ctx context.Context) (*BatchTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &BatchTx{ctx: ctx, tx: tx, s: s}, nil
}

// BatchTx wraps a transaction for batch operations.
type BatchTx struct {
	ctx context.Context
	tx  *sql.Tx
	s   *Store
}

// Commit commits the batch transaction.
func (b *BatchTx) Commit() error {
	return b.tx.Commit()
}

// Rollback rolls back the batch transaction. It is a no-op after Commit.
func (b *BatchTx) Rollback() error {
	return b.tx.Rollback()
}

func (b *BatchTx) exec(query string, args ...any) error {
	_, err := b.tx.ExecContext(b.ctx, b.s.rebind(query), args...)
	return err
}

// InsertRun inserts the summary row of a run within the batch.
func (b *BatchTx) InsertRun(run *Run) error {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return err
	}
	return b.exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(run.ID), formatTime(run.StartedAt), run.DurationMS, run.Backend, string(inputs),
		run.KernelCount, run.ClassCount, run.MethodCount, run.EdgeCount,
		run.UnavailableCount, run.DiagnosticCount)
}

// InsertClass inserts a classified class within the batch.
func (b *BatchTx) InsertClass(id RunID, seq int, c *Class) error {
	return b.exec(`
		INSERT INTO classes (run_id, seq, name, level, disposition, application, runtime, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(id), seq, c.Name, c.Level, c.Disposition, boolInt(c.Application), boolInt(c.Runtime), c.Reason)
}

// InsertMethod inserts a reachable method within the batch.
func (b *BatchTx) InsertMethod(id RunID, seq int, m *Method) error {
	return b.exec(`
		INSERT INTO methods (run_id, seq, signature, class, name, params, return_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(id), seq, m.Signature, m.Class, m.Name, m.Params, m.Return)
}

// InsertCallEdge inserts a call edge within the batch.
func (b *BatchTx) InsertCallEdge(id RunID, seq int, e *CallEdge) error {
	return b.exec(`
		INSERT INTO call_edges (run_id, seq, caller, target, callee, call_kind, bytecode_offset, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(id), seq, e.Caller, e.Target, e.Callee, e.Kind, e.Offset, e.Status, e.Reason)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func queryAll[T any](s *Store, query string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRun(r scanner) (Run, error) {
	var (
		run            Run
		id, ts, inputs string
	)
	err := r.Scan(&id, &ts, &run.DurationMS, &run.Backend, &inputs,
		&run.KernelCount, &run.ClassCount, &run.MethodCount, &run.EdgeCount,
		&run.UnavailableCount, &run.DiagnosticCount)
	if err != nil {
		return Run{}, err
	}
	run.ID = RunID(id)
	if run.StartedAt, err = time.Parse(timeLayout, ts); err != nil {
		return Run{}, fmt.Errorf("run %s: bad timestamp %q: %w", id, ts, err)
	}
	if err := json.Unmarshal([]byte(inputs), &run.Inputs); err != nil {
		return Run{}, fmt.Errorf("run %s: bad inputs: %w", id, err)
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
