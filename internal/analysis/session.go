package analysis

import (
	"context"
	"fmt"
	"iter"
	"log"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Default entry-point convention.
const (
	DefaultMarkerInterface jvm.ClassName = "edu.syr.pcpratts.rootbeer.runtime.Kernel"
	DefaultEntryMethod                   = "gpuMethod"
)

// Builtin is a platform class resolved before traversal so that type and
// exception information is always present.
type Builtin struct {
	Class jvm.ClassName
	Level jvm.Level
}

// DefaultBuiltins lists the JDK classes every generated kernel depends on.
func DefaultBuiltins() []Builtin {
	h, s := jvm.LevelHierarchy, jvm.LevelSignatures
	return []Builtin{
		{"java.lang.Object", h},
		{"java.lang.Class", s},
		{"java.lang.Void", s},
		{"java.lang.Boolean", s},
		{"java.lang.Byte", s},
		{"java.lang.Character", s},
		{"java.lang.Short", s},
		{"java.lang.Integer", s},
		{"java.lang.Long", s},
		{"java.lang.Float", s},
		{"java.lang.Double", s},
		{"java.lang.String", h},
		{"java.lang.StringBuffer", s},
		{"java.lang.Error", h},
		{"java.lang.AssertionError", s},
		{"java.lang.Throwable", s},
		{"java.lang.NoClassDefFoundError", s},
		{"java.lang.ExceptionInInitializerError", h},
		{"java.lang.RuntimeException", h},
		{"java.lang.ClassNotFoundException", h},
		{"java.lang.ArithmeticException", h},
		{"java.lang.ArrayStoreException", h},
		{"java.lang.ClassCastException", h},
		{"java.lang.IllegalMonitorStateException", h},
		{"java.lang.IndexOutOfBoundsException", h},
		{"java.lang.ArrayIndexOutOfBoundsException", h},
		{"java.lang.NegativeArraySizeException", h},
		{"java.lang.NullPointerException", h},
		{"java.lang.InstantiationError", h},
		{"java.lang.InternalError", h},
		{"java.lang.OutOfMemoryError", h},
		{"java.lang.StackOverflowError", h},
		{"java.lang.UnknownError", h},
		{"java.lang.ThreadDeath", h},
		{"java.lang.ClassCircularityError", h},
		{"java.lang.ClassFormatError", h},
		{"java.lang.IllegalAccessError", h},
		{"java.lang.IncompatibleClassChangeError", h},
		{"java.lang.LinkageError", h},
		{"java.lang.VerifyError", h},
		{"java.lang.NoSuchFieldError", h},
		{"java.lang.AbstractMethodError", h},
		{"java.lang.NoSuchMethodError", h},
		{"java.lang.UnsatisfiedLinkError", h},
		{"java.lang.Thread", h},
		{"java.lang.Runnable", h},
		{"java.lang.Cloneable", h},
		{"java.io.Serializable", h},
		{"java.lang.ref.Finalizer", h},
	}
}

// Options configure one analysis session.
type Options struct {
	Rules           Rules
	MarkerInterface jvm.ClassName
	EntryMethod     string
	Builtins        []Builtin

	// Logger receives warnings; nil discards them. Verbose also routes
	// per-class and per-method progress to it.
	Logger  *log.Logger
	Verbose bool
}

// DiagnosticKind groups non-fatal conditions.
type DiagnosticKind string

const (
	DiagIngest     DiagnosticKind = "ingest"
	DiagResolve    DiagnosticKind = "resolve"
	DiagEntryPoint DiagnosticKind = "entrypoint"
	DiagBuiltin    DiagnosticKind = "builtin"
	DiagScan       DiagnosticKind = "scan"
)

// Diagnostic is a non-fatal condition absorbed during the run.
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Subject string         `json:"subject"`
	Message string         `json:"message"`
}

// Session is the state of one analysis run: catalog, resolver, entry points
// and the call-graph traversal. Phases run strictly one after another and a
// session is not safe for concurrent use.
type Session struct {
	opts     Options
	filter   *Filter
	catalog  *Catalog
	resolver *Resolver
	entries  EntryPoints

	// classes resolved to signatures from the catalog, in catalog order
	loaded []*jvm.Class

	bodies   orderedSet[jvm.ClassName]
	work     queue[jvm.MethodSignature]
	visited  orderedSet[jvm.MethodSignature]
	scanned  orderedSet[jvm.MethodSignature]
	resolved map[jvm.MethodSignature]resolution
	edges    []CallEdge
	diags    []Diagnostic

	signaturesLoaded bool
}

// NewSession creates a session reading classes from p.
func NewSession(p Provider, opts Options) *Session {
	if opts.MarkerInterface == "" {
		opts.MarkerInterface = DefaultMarkerInterface
	}
	if opts.EntryMethod == "" {
		opts.EntryMethod = DefaultEntryMethod
	}
	var debug *log.Logger
	if opts.Verbose {
		debug = opts.Logger
	}
	filter := NewFilter(opts.Rules)
	return &Session{
		opts:     opts,
		filter:   filter,
		catalog:  NewCatalog(filter, opts.Rules.RuntimeClasses),
		resolver: NewResolver(p, debug),
		resolved: make(map[jvm.MethodSignature]resolution),
	}
}

func (s *Session) Catalog() *Catalog   { return s.catalog }
func (s *Session) Resolver() *Resolver { return s.resolver }
func (s *Session) Filter() *Filter     { return s.filter }

// EntryPoints returns the entry points found so far.
func (s *Session) EntryPoints() []EntryPoint { return s.entries.All() }

// Diagnostics returns every non-fatal condition recorded so far.
func (s *Session) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), s.diags...)
}

// Ingest adds the staged files named by paths (relative to the staging
// root) to the catalog. Entries that carry an error are recorded and
// skipped; non-class paths are ignored. It returns the number of classes
// admitted.
func (s *Session) Ingest(paths iter.Seq2[string, error]) int {
	var n int
	for rel, err := range paths {
		if err != nil {
			s.diag(DiagIngest, rel, err)
			continue
		}
		name, ok := ClassNameFromPath(rel)
		if !ok {
			continue
		}
		if s.catalog.Add(name) == Include {
			n++
		} else {
			s.debugf("ignoring %s", name)
		}
	}
	return n
}

// LoadSignatures resolves every application class to signatures. Classes
// the provider cannot produce are recorded and left out.
func (s *Session) LoadSignatures() error {
	s.signaturesLoaded = true
	for _, name := range s.catalog.Application() {
		s.debugf("loading class to signatures: %s", name)
		cls, err := s.resolver.ResolveClass(name, jvm.LevelSignatures)
		if err != nil {
			if !jvm.IsUnavailable(err) {
				return err
			}
			s.diag(DiagResolve, string(name), err)
			continue
		}
		s.loaded = append(s.loaded, cls)
	}
	return nil
}

// DetectEntryPoints records the entry method of every loaded class that
// directly implements the marker interface.
func (s *Session) DetectEntryPoints() {
	for _, cls := range s.loaded {
		m, found := detectKernel(cls, s.opts.MarkerInterface, s.opts.EntryMethod)
		if !found {
			continue
		}
		if m == nil {
			s.diag(DiagEntryPoint, string(cls.Name),
				fmt.Errorf("implements %s but declares no %s method", s.opts.MarkerInterface, s.opts.EntryMethod))
			continue
		}
		s.entries.Add(m.Signature, EntryKernel)
	}
}

// LoadBuiltins resolves the configured platform classes.
func (s *Session) LoadBuiltins() error {
	for _, b := range s.opts.Builtins {
		if _, err := s.resolver.ResolveClass(b.Class, b.Level); err != nil {
			if !jvm.IsUnavailable(err) {
				return err
			}
			s.diag(DiagBuiltin, string(b.Class), err)
		}
	}
	return nil
}

// AugmentEntryPoints adds the constructors and static initializers of every
// application class that the traversal resolved to bodies.
func (s *Session) AugmentEntryPoints() {
	for _, loaded := range s.loaded {
		cls, ok := s.resolver.Class(loaded.Name)
		if !ok || cls.Level != jvm.LevelBodies {
			continue
		}
		for _, ep := range initializers(cls) {
			s.entries.Add(ep.Method, ep.Kind)
		}
	}
}

// KernelClasses returns the distinct declaring classes of all entry points.
func (s *Session) KernelClasses() []jvm.ClassName {
	return s.entries.KernelClasses()
}

// FindKernelClasses runs every phase after ingestion and returns the report.
// Only fatal provider errors and cancellation are returned as errors.
func (s *Session) FindKernelClasses(ctx context.Context) (*Result, error) {
	if !s.signaturesLoaded {
		if err := s.LoadSignatures(); err != nil {
			return nil, fmt.Errorf("loading signatures: %w", err)
		}
	}
	s.DetectEntryPoints()
	if err := s.LoadBuiltins(); err != nil {
		return nil, fmt.Errorf("loading built-in classes: %w", err)
	}
	if err := s.Traverse(ctx); err != nil {
		return nil, fmt.Errorf("building call graph: %w", err)
	}
	s.AugmentEntryPoints()
	return s.Result(), nil
}

func (s *Session) diag(kind DiagnosticKind, subject string, err error) {
	s.diags = append(s.diags, Diagnostic{Kind: kind, Subject: subject, Message: err.Error()})
	if s.opts.Logger != nil {
		s.opts.Logger.Printf("warning: %s %s: %v", kind, subject, err)
	}
}

func (s *Session) debugf(format string, args ...any) {
	if s.opts.Verbose && s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}
