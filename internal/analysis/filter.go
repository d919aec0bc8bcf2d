// Package analysis implements selective whole-program reachability over a
// bytecode corpus: which classes and methods a GPU kernel can reach, and how
// much of each class has to be materialized to find out.
package analysis

import (
	"strings"

	"github.com/abramin/kernelscan/internal/jvm"
)

// Decision is the package filter's verdict for a class name.
type Decision int

const (
	Include Decision = iota
	Exclude
)

func (d Decision) String() string {
	if d == Exclude {
		return "exclude"
	}
	return "include"
}

// Rules are the package filter inputs. RuntimeClasses are exact class names;
// the other two lists are plain string prefixes (conventionally ending in a
// dot).
type Rules struct {
	RuntimeClasses []string
	KeepPrefixes   []string
	IgnorePrefixes []string
}

// Filter decides which classes enter the catalog. It is immutable once built
// and safe for concurrent use.
type Filter struct {
	runtime map[jvm.ClassName]struct{}
	keep    []string
	ignore  []string
}

// NewFilter copies the rule lists into a filter.
func NewFilter(r Rules) *Filter {
	f := &Filter{
		runtime: make(map[jvm.ClassName]struct{}, len(r.RuntimeClasses)),
		keep:    append([]string(nil), r.KeepPrefixes...),
		ignore:  append([]string(nil), r.IgnorePrefixes...),
	}
	for _, name := range r.RuntimeClasses {
		f.runtime[jvm.ClassName(name)] = struct{}{}
	}
	return f
}

// Classify applies, first match wins: runtime class, keep prefix, ignore
// prefix. Anything unmatched is included.
func (f *Filter) Classify(name jvm.ClassName) Decision {
	if _, ok := f.runtime[name]; ok {
		return Include
	}
	s := string(name)
	for _, p := range f.keep {
		if strings.HasPrefix(s, p) {
			return Include
		}
	}
	for _, p := range f.ignore {
		if strings.HasPrefix(s, p) {
			return Exclude
		}
	}
	return Include
}

// IsRuntime reports whether name is on the runtime whitelist.
func (f *Filter) IsRuntime(name jvm.ClassName) bool {
	_, ok := f.runtime[name]
	return ok
}
