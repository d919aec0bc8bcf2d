package analysis

import (
	"fmt"
	"log"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Provider is the class-model frontend the resolver reads from.
// classfile.ClassPath is the production implementation.
type Provider interface {
	// Resolve materializes name to exactly level. A class the provider does
	// not have, or cannot decode, is reported with an error for which
	// jvm.IsUnavailable is true; every other error is fatal.
	Resolve(name jvm.ClassName, level jvm.Level) (*jvm.Class, error)
	// RetrieveBody returns the executable body of a method of a class
	// resolved to bodies, or jvm.ErrNoBody.
	RetrieveBody(m *jvm.Method) (jvm.Body, error)
}

// ResolverStats counts resolver work.
type ResolverStats struct {
	Lookups   int // provider calls
	CacheHits int // requests served from the cache, positive or negative
	Upgrades  int // lookups that raised an already cached class
	Misses    int // lookups that came back unavailable
}

type miss struct {
	level jvm.Level
	err   error
}

// Resolver is the single owner of resolved class state for one analysis
// run. Every class is kept at the highest level ever requested; levels never
// go down. Unavailable results are cached as well, so a missing class costs
// one provider lookup per run.
type Resolver struct {
	provider Provider
	log      *log.Logger

	classes map[jvm.ClassName]*jvm.Class
	misses  map[jvm.ClassName]miss
	order   orderedSet[jvm.ClassName]
	stats   ResolverStats
}

// NewResolver creates an empty resolver. A nil logger discards output.
func NewResolver(p Provider, logger *log.Logger) *Resolver {
	return &Resolver{
		provider: p,
		log:      logger,
		classes:  make(map[jvm.ClassName]*jvm.Class),
		misses:   make(map[jvm.ClassName]miss),
	}
}

// ResolveClass returns name resolved to at least level. A cached entry at
// that level or above is returned unchanged; a lower one is upgraded in
// place.
func (r *Resolver) ResolveClass(name jvm.ClassName, level jvm.Level) (*jvm.Class, error) {
	r.order.Add(name)
	cached := r.classes[name]
	if cached != nil && cached.Level >= level {
		r.stats.CacheHits++
		return cached, nil
	}
	if m, ok := r.misses[name]; ok && level >= m.level {
		r.stats.CacheHits++
		return nil, m.err
	}

	r.stats.Lookups++
	if cached != nil {
		r.stats.Upgrades++
	}
	r.debugf("resolving %s to %s", name, level)
	cls, err := r.provider.Resolve(name, level)
	if err != nil {
		if !jvm.IsUnavailable(err) {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		r.stats.Misses++
		r.misses[name] = miss{level: level, err: err}
		return nil, err
	}
	if cls.Level < level {
		return nil, fmt.Errorf("resolving %s: provider returned %s, want %s", name, cls.Level, level)
	}
	r.classes[name] = cls
	return cls, nil
}

// ForceResolveBodies makes sure the executable bodies of name are loaded,
// even when its method table is already known.
func (r *Resolver) ForceResolveBodies(name jvm.ClassName) (*jvm.Class, error) {
	return r.ResolveClass(name, jvm.LevelBodies)
}

// ResolveMethod finds the method sig refers to: declared by sig.Class or
// inherited from its superclass chain. The declaring class must already be
// at signatures level; superclasses are raised to signatures as needed.
// Bodies are never loaded here.
func (r *Resolver) ResolveMethod(sig jvm.MethodSignature) (*jvm.Method, error) {
	cls := r.classes[sig.Class]
	if cls == nil || cls.Level < jvm.LevelSignatures {
		return nil, fmt.Errorf("%s: %w", sig, jvm.ErrLevelTooLow)
	}
	seen := map[jvm.ClassName]bool{cls.Name: true}
	for {
		if m := cls.Method(sig); m != nil {
			return m, nil
		}
		if cls.Super == "" || seen[cls.Super] {
			return nil, fmt.Errorf("%s: %w", sig, jvm.ErrMethodNotFound)
		}
		seen[cls.Super] = true
		super, err := r.ResolveClass(cls.Super, jvm.LevelSignatures)
		if err != nil {
			if jvm.IsUnavailable(err) {
				return nil, fmt.Errorf("%s: %w: superclass %s unavailable", sig, jvm.ErrMethodNotFound, cls.Super)
			}
			return nil, err
		}
		cls = super
	}
}

// Body returns the executable body of m.
func (r *Resolver) Body(m *jvm.Method) (jvm.Body, error) {
	return r.provider.RetrieveBody(m)
}

// Class returns the cached entry for name, if any.
func (r *Resolver) Class(name jvm.ClassName) (*jvm.Class, bool) {
	cls, ok := r.classes[name]
	return cls, ok
}

// Level returns the level name has been resolved to, or LevelNone.
func (r *Resolver) Level(name jvm.ClassName) jvm.Level {
	if cls, ok := r.classes[name]; ok {
		return cls.Level
	}
	return jvm.LevelNone
}

// Unavailable returns the cached miss for name, or nil.
func (r *Resolver) Unavailable(name jvm.ClassName) error {
	return r.misses[name].err
}

// Requested returns every class name ever asked for, in first-request order.
func (r *Resolver) Requested() []jvm.ClassName { return r.order.Items() }

// Classes returns every successfully resolved class in first-request order.
func (r *Resolver) Classes() []*jvm.Class {
	out := make([]*jvm.Class, 0, len(r.classes))
	for _, name := range r.order.items {
		if cls, ok := r.classes[name]; ok {
			out = append(out, cls)
		}
	}
	return out
}

func (r *Resolver) Stats() ResolverStats { return r.stats }

func (r *Resolver) debugf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}
