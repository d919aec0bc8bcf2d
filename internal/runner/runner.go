// Package runner drives one analysis run end to end: stage the inputs,
// catalog and analyze them, and persist the report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/abramin/kernelscan/internal/analysis"
	"github.com/abramin/kernelscan/internal/backend"
	"github.com/abramin/kernelscan/internal/classfile"
	"github.com/abramin/kernelscan/internal/config"
	"github.com/abramin/kernelscan/internal/jvm"
	"github.com/abramin/kernelscan/internal/stage"
	"github.com/abramin/kernelscan/internal/store"
)

// ErrNoInputs is returned when neither the config nor the command line names
// anything to analyze.
var ErrNoInputs = errors.New("no inputs to analyze")

// Options tune a run beyond the configuration file.
type Options struct {
	Verbose bool
	Fresh   bool      // drop previously stored runs first
	Out     io.Writer // progress output; nil means stdout
}

// Runner coordinates the analysis pipeline.
type Runner struct {
	cfg  *config.Config
	opts Options
	out  io.Writer
	log  *log.Logger
}

// New creates a runner for cfg.
func New(cfg *config.Config, opts Options) *Runner {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		cfg:  cfg,
		opts: opts,
		out:  out,
		log:  log.New(out, "", 0),
	}
}

// Result holds the results of an analysis run.
type Result struct {
	RunID      store.RunID
	Backend    backend.Kind
	Analysis   *analysis.Result
	Staged     *stage.Summary
	ClassPath  classfile.Stats
	Duration   time.Duration
	DBPath     string
	ReportPath string
}

// Run executes the pipeline.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	if len(r.cfg.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	kind, _ := backend.ParseKind(r.cfg.Backend)
	opts, err := AnalysisOptions(r.cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger = r.log
	opts.Verbose = r.opts.Verbose

	libs, err := ClassPathEntries(r.cfg)
	if err != nil {
		return nil, err
	}

	// Stage inputs
	r.printf("Staging %d inputs into %s...\n", len(r.cfg.Inputs), r.cfg.StagingDir)
	stager, err := stage.NewStager(r.cfg.StagingDir, r.log)
	if err != nil {
		return nil, err
	}
	staged, err := stager.Stage(ctx, stage.Walk(r.cfg.Inputs))
	if err != nil {
		return nil, fmt.Errorf("staging inputs: %w", err)
	}
	r.printf("Staged %s files (%s classes, %s), %d failed\n",
		humanize.Comma(int64(staged.Files)), humanize.Comma(int64(staged.Classes)),
		humanize.Bytes(uint64(staged.Bytes)), staged.Failed)

	// Staged classes shadow the library class path
	cp, err := classfile.OpenClassPath(append([]string{stager.Root()}, libs...), r.cfg.ClassCacheSize)
	if err != nil {
		return nil, fmt.Errorf("opening class path: %w", err)
	}
	defer cp.Close()

	session := analysis.NewSession(cp, opts)
	n := session.Ingest(staged.Paths())
	r.printf("Cataloged %s application classes (%s ignored)\n",
		humanize.Comma(int64(n)), humanize.Comma(int64(len(session.Catalog().Ignored()))))

	r.printf("Building call graph...\n")
	res, err := session.FindKernelClasses(ctx)
	if err != nil {
		return nil, err
	}
	r.printf("Found %d kernel classes, %s reachable methods, %s call edges (%d unavailable)\n",
		len(res.KernelClasses), humanize.Comma(int64(res.Stats.Scanned)),
		humanize.Comma(int64(res.Stats.Edges)), res.Stats.Unavailable)

	// Persist
	st, err := store.OpenDSN(r.cfg.Store.Dir, r.cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	if r.opts.Fresh {
		if err := st.Clear(); err != nil {
			return nil, fmt.Errorf("clearing store: %w", err)
		}
	}

	rep := BuildReport(res, RunInfo{
		StartedAt: start,
		Duration:  time.Since(start),
		Backend:   kind,
		Inputs:    r.cfg.Inputs,
	})
	id, err := st.SaveRun(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}
	reportPath, err := st.WriteReportJSON(id)
	if err != nil {
		return nil, fmt.Errorf("writing report.json: %w", err)
	}

	return &Result{
		RunID:      id,
		Backend:    kind,
		Analysis:   res,
		Staged:     staged,
		ClassPath:  cp.Stats(),
		Duration:   time.Since(start),
		DBPath:     st.DBPath(),
		ReportPath: reportPath,
	}, nil
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// AnalysisOptions converts the configured filter, marker and built-ins.
// An empty built-ins list selects analysis.DefaultBuiltins.
func AnalysisOptions(cfg *config.Config) (analysis.Options, error) {
	opts := analysis.Options{
		Rules: analysis.Rules{
			RuntimeClasses: cfg.RuntimeClasses,
			KeepPrefixes:   cfg.KeepPackages,
			IgnorePrefixes: cfg.IgnorePackages,
		},
		MarkerInterface: jvm.ClassName(cfg.MarkerInterface),
		EntryMethod:     cfg.EntryMethod,
		Builtins:        analysis.DefaultBuiltins(),
	}
	if len(cfg.Builtins) > 0 {
		opts.Builtins = make([]analysis.Builtin, 0, len(cfg.Builtins))
		for _, b := range cfg.Builtins {
			level, err := jvm.ParseLevel(b.Level)
			if err != nil {
				return analysis.Options{}, fmt.Errorf("builtin %s: %w", b.Class, err)
			}
			opts.Builtins = append(opts.Builtins, analysis.Builtin{
				Class: jvm.ClassName(strings.TrimSpace(b.Class)),
				Level: level,
			})
		}
	}
	return opts, nil
}

// ClassPathEntries returns the explicit class path followed by every jar
// found under the configured class-path folders.
func ClassPathEntries(cfg *config.Config) ([]string, error) {
	entries := append([]string(nil), cfg.ClassPath...)
	for _, dir := range cfg.ClassPathDirs {
		jars, err := classfile.JarsUnder(dir)
		if err != nil {
			return nil, err
		}
		entries = append(entries, jars...)
	}
	return entries, nil
}
