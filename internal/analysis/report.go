package analysis

import "github.com/abramin/kernelscan/internal/jvm"

// Disposition is what code generation has to do with a class.
type Disposition string

const (
	// DispositionEmit classes have reachable bodies and must be generated.
	DispositionEmit Disposition = "emit"
	// DispositionHierarchy classes are needed for type information only.
	DispositionHierarchy Disposition = "hierarchy"
	// DispositionIgnored classes were filtered out or could not be resolved.
	DispositionIgnored Disposition = "ignored"
)

// ClassReport is the classification of one class the run touched.
type ClassReport struct {
	Name        jvm.ClassName
	Level       jvm.Level
	Disposition Disposition
	Application bool
	Runtime     bool
	Reason      string
}

// Stats summarizes one run.
type Stats struct {
	Resolver      ResolverStats
	Application   int
	Ignored       int
	EntryPoints   int
	Visited       int
	Scanned       int
	Edges         int
	Unavailable   int
	BodiesClasses int
}

// Result is the observable output of one analysis run.
type Result struct {
	KernelClasses      []jvm.ClassName
	EntryPoints        []EntryPoint
	ApplicationClasses []jvm.ClassName
	BodiesClasses      []jvm.ClassName
	// Reachable lists every method whose body was scanned, in visit order.
	Reachable   []jvm.MethodSignature
	Edges       []CallEdge
	Classes     []ClassReport
	Diagnostics []Diagnostic
	Stats       Stats
}

// Reached reports whether sig's body was scanned.
func (r *Result) Reached(sig jvm.MethodSignature) bool {
	for _, m := range r.Reachable {
		if m == sig {
			return true
		}
	}
	return false
}

// Result snapshots the session.
func (s *Session) Result() *Result {
	res := &Result{
		KernelClasses:      s.KernelClasses(),
		EntryPoints:        s.entries.All(),
		ApplicationClasses: s.catalog.Application(),
		BodiesClasses:      s.bodies.Items(),
		Reachable:          s.scanned.Items(),
		Edges:              append([]CallEdge(nil), s.edges...),
		Classes:            s.Classify(),
		Diagnostics:        s.Diagnostics(),
	}
	res.Stats = Stats{
		Resolver:      s.resolver.Stats(),
		Application:   len(res.ApplicationClasses),
		Ignored:       len(s.catalog.Ignored()),
		EntryPoints:   len(res.EntryPoints),
		Visited:       s.visited.Len(),
		Scanned:       s.scanned.Len(),
		Edges:         len(res.Edges),
		BodiesClasses: len(res.BodiesClasses),
	}
	for _, e := range res.Edges {
		if e.Status == EdgeUnavailable {
			res.Stats.Unavailable++
		}
	}
	return res
}

// Classify reports every class the run touched: first the staged classes
// the filter excluded and nothing referenced, then every class requested
// from the resolver in first-request order.
func (s *Session) Classify() []ClassReport {
	kernels := make(map[jvm.ClassName]bool)
	for _, name := range s.KernelClasses() {
		kernels[name] = true
	}
	declaring := make(map[jvm.ClassName]bool)
	for _, sig := range s.scanned.items {
		declaring[sig.Class] = true
	}

	var out []ClassReport
	for _, name := range s.catalog.Ignored() {
		if s.resolver.order.Has(name) {
			// Referenced anyway; classified by what resolution found.
			continue
		}
		out = append(out, ClassReport{
			Name:        name,
			Disposition: DispositionIgnored,
			Reason:      "excluded by package filter",
		})
	}
	for _, name := range s.resolver.Requested() {
		r := ClassReport{
			Name:        name,
			Level:       s.resolver.Level(name),
			Application: s.catalog.IsApplication(name),
			Runtime:     s.filter.IsRuntime(name),
		}
		switch {
		case r.Level == jvm.LevelNone:
			r.Disposition = DispositionIgnored
			if err := s.resolver.Unavailable(name); err != nil {
				r.Reason = err.Error()
			}
		case kernels[name] || (r.Level == jvm.LevelBodies && declaring[name]):
			r.Disposition = DispositionEmit
		default:
			r.Disposition = DispositionHierarchy
		}
		out = append(out, r)
	}
	return out
}
