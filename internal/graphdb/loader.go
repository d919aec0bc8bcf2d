// Package graphdb exports stored analysis runs into Neo4j as a call graph.
package graphdb

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/abramin/kernelscan/internal/store"
)

// DefaultBatchSize bounds the rows sent per UNWIND statement.
const DefaultBatchSize = 500

// Options configure the Neo4j connection.
type Options struct {
	URI       string
	User      string
	Password  string
	Database  string // empty uses the server default
	BatchSize int
}

type execFunc func(ctx context.Context, cypher string, params map[string]any) error

// Loader loads analysis reports into a Neo4j database using batch UNWIND
// queries. Every node carries the run ID so several runs can share a graph.
type Loader struct {
	driver    neo4j.DriverWithContext
	exec      execFunc
	batchSize int
	log       *log.Logger
}

// NewLoader connects to Neo4j and returns a ready-to-use loader.
func NewLoader(ctx context.Context, opts Options, logger *log.Logger) (*Loader, error) {
	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to %s: %w", opts.URI, err)
	}

	var cfg []neo4j.ExecuteQueryConfigurationOption
	if opts.Database != "" {
		cfg = append(cfg, neo4j.ExecuteQueryWithDatabase(opts.Database))
	}
	exec := func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, cfg...)
		return err
	}

	l := newLoader(exec, opts.BatchSize, logger)
	l.driver = driver
	return l, nil
}

func newLoader(exec execFunc, batchSize int, logger *log.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loader{exec: exec, batchSize: batchSize, log: logger}
}

// Close releases the underlying Neo4j driver resources.
func (l *Loader) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

// runBatched runs cypher once per chunk of rows, bound to $batch.
func (l *Loader) runBatched(ctx context.Context, cypher string, rows []map[string]any) error {
	for chunk := range slices.Chunk(rows, l.batchSize) {
		if err := l.exec(ctx, cypher, map[string]any{"batch": chunk}); err != nil {
			return err
		}
	}
	return nil
}

// CleanGraph removes every previously exported node and relationship.
func (l *Loader) CleanGraph(ctx context.Context) error {
	l.log.Println("Cleaning existing call-graph data...")
	queries := []string{
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH ()-[r:DECLARES]->() DELETE r",
		"MATCH (n:JavaMethod) DETACH DELETE n",
		"MATCH (n:JavaClass) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := l.exec(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndexes ensures the required Neo4j indexes exist.
func (l *Loader) CreateIndexes(ctx context.Context) error {
	l.log.Println("Creating indexes...")
	indexes := []string{
		"CREATE INDEX java_class_key IF NOT EXISTS FOR (n:JavaClass) ON (n.run_id, n.name)",
		"CREATE INDEX java_method_key IF NOT EXISTS FOR (n:JavaMethod) ON (n.run_id, n.signature)",
	}
	for _, q := range indexes {
		if err := l.exec(ctx, q, nil); err != nil {
			return err
		}
	}
	return nil
}

// Export writes one run: classes, reachable methods, call edges, and the
// kernel and entry-point labels.
func (l *Loader) Export(ctx context.Context, rep *store.Report) error {
	run := string(rep.Run.ID)
	steps := []struct {
		what string
		fn   func(context.Context, string, *store.Report) error
	}{
		{"classes", l.loadClasses},
		{"methods", l.loadMethods},
		{"calls", l.loadCalls},
		{"kernels", l.markKernels},
		{"entry points", l.markEntrypoints},
	}
	for _, step := range steps {
		if err := step.fn(ctx, run, rep); err != nil {
			return fmt.Errorf("exporting %s: %w", step.what, err)
		}
	}
	return nil
}

func (l *Loader) loadClasses(ctx context.Context, run string, rep *store.Report) error {
	l.log.Printf("Loading %d classes...", len(rep.Classes))
	return l.runBatched(ctx,
		`UNWIND $batch AS row
		 MERGE (c:JavaClass {run_id: row.run, name: row.name})
		 SET c.level = row.level, c.disposition = row.disposition,
		     c.application = row.application, c.runtime = row.runtime,
		     c.reason = row.reason`,
		classRows(run, rep.Classes),
	)
}

func (l *Loader) loadMethods(ctx context.Context, run string, rep *store.Report) error {
	l.log.Printf("Loading %d methods...", len(rep.Methods))
	return l.runBatched(ctx,
		`UNWIND $batch AS row
		 MERGE (m:JavaMethod {run_id: row.run, signature: row.signature})
		 SET m.name = row.name, m.class = row.class, m.params = row.params,
		     m.return_type = row.return_type, m.reached = true
		 WITH m, row
		 MATCH (c:JavaClass {run_id: row.run, name: row.class})
		 MERGE (c)-[:DECLARES]->(m)`,
		methodRows(run, rep.Methods),
	)
}

func (l *Loader) loadCalls(ctx context.Context, run string, rep *store.Report) error {
	rows := callRows(run, rep.Edges)
	l.log.Printf("Loading %d call edges (%d call sites)...", len(rows), len(rep.Edges))
	return l.runBatched(ctx,
		`UNWIND $batch AS row
		 MERGE (caller:JavaMethod {run_id: row.run, signature: row.caller})
		 MERGE (callee:JavaMethod {run_id: row.run, signature: row.callee})
		 MERGE (caller)-[r:CALLS]->(callee)
		 SET r.kind = row.kind, r.status = row.status, r.reason = row.reason,
		     r.offsets = row.offsets`,
		rows,
	)
}

func (l *Loader) markKernels(ctx context.Context, run string, rep *store.Report) error {
	rows := make([]map[string]any, 0, len(rep.Kernels))
	for _, k := range rep.Kernels {
		rows = append(rows, map[string]any{"run": run, "name": k})
	}
	return l.runBatched(ctx,
		`UNWIND $batch AS row
		 MATCH (c:JavaClass {run_id: row.run, name: row.name})
		 SET c:Kernel`,
		rows,
	)
}

func (l *Loader) markEntrypoints(ctx context.Context, run string, rep *store.Report) error {
	rows := make([]map[string]any, 0, len(rep.Entrypoints))
	for _, ep := range rep.Entrypoints {
		rows = append(rows, map[string]any{"run": run, "signature": ep.Method, "kind": ep.Kind})
	}
	return l.runBatched(ctx,
		`UNWIND $batch AS row
		 MATCH (m:JavaMethod {run_id: row.run, signature: row.signature})
		 SET m:EntryPoint, m.entry_kind = row.kind`,
		rows,
	)
}

func classRows(run string, classes []store.Class) []map[string]any {
	rows := make([]map[string]any, 0, len(classes))
	for _, c := range classes {
		rows = append(rows, map[string]any{
			"run": run, "name": c.Name, "level": c.Level,
			"disposition": c.Disposition, "application": c.Application,
			"runtime": c.Runtime, "reason": c.Reason,
		})
	}
	return rows
}

func methodRows(run string, methods []store.Method) []map[string]any {
	rows := make([]map[string]any, 0, len(methods))
	for _, m := range methods {
		rows = append(rows, map[string]any{
			"run": run, "signature": m.Signature, "name": m.Name,
			"class": m.Class, "params": m.Params, "return_type": m.Return,
		})
	}
	return rows
}

// callRows collapses call sites between the same pair of methods into one
// relationship carrying every bytecode offset.
func callRows(run string, edges []store.CallEdge) []map[string]any {
	type key struct{ caller, callee string }
	index := make(map[key]int)
	var rows []map[string]any
	for _, e := range edges {
		k := key{e.Caller, e.Callee}
		if i, ok := index[k]; ok {
			rows[i]["offsets"] = append(rows[i]["offsets"].([]int64), int64(e.Offset))
			continue
		}
		index[k] = len(rows)
		rows = append(rows, map[string]any{
			"run": run, "caller": e.Caller, "callee": e.Callee,
			"kind": e.Kind, "status": e.Status, "reason": e.Reason,
			"offsets": []int64{int64(e.Offset)},
		})
	}
	return rows
}
