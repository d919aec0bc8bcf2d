package analysis

import "github.com/abramin/kernelscan/internal/jvm"

// EntryKind says why a method is an entry point.
type EntryKind string

const (
	EntryKernel            EntryKind = "kernel"
	EntryConstructor       EntryKind = "constructor"
	EntryStaticInitializer EntryKind = "static-init"
)

// EntryPoint is a method reachable from outside the analyzed program.
type EntryPoint struct {
	Method jvm.MethodSignature
	Kind   EntryKind
}

// Class returns the declaring class of the entry method.
func (e EntryPoint) Class() jvm.ClassName { return e.Method.Class }

// EntryPoints is an insertion-ordered set keyed by method signature.
type EntryPoints struct {
	list []EntryPoint
	seen map[jvm.MethodSignature]struct{}
}

// Add records sig unless it is already present.
func (e *EntryPoints) Add(sig jvm.MethodSignature, kind EntryKind) bool {
	if e.seen == nil {
		e.seen = make(map[jvm.MethodSignature]struct{})
	}
	if _, ok := e.seen[sig]; ok {
		return false
	}
	e.seen[sig] = struct{}{}
	e.list = append(e.list, EntryPoint{Method: sig, Kind: kind})
	return true
}

func (e *EntryPoints) Len() int { return len(e.list) }

// All returns the entry points in discovery order.
func (e *EntryPoints) All() []EntryPoint {
	return append([]EntryPoint(nil), e.list...)
}

// KernelClasses returns the distinct declaring classes of all entry points,
// first-seen order.
func (e *EntryPoints) KernelClasses() []jvm.ClassName {
	var set orderedSet[jvm.ClassName]
	for _, ep := range e.list {
		set.Add(ep.Class())
	}
	return set.Items()
}

// detectKernel returns the entry method of cls if it directly declares the
// marker interface. found is false when the class is not a kernel at all;
// a kernel without the entry method yields found and a nil method.
func detectKernel(cls *jvm.Class, marker jvm.ClassName, entryMethod string) (m *jvm.Method, found bool) {
	if !cls.Implements(marker) {
		return nil, false
	}
	return cls.MethodByName(entryMethod), true
}

// initializers returns the constructors and static initializers of cls in
// declaration order.
func initializers(cls *jvm.Class) []EntryPoint {
	var out []EntryPoint
	for _, m := range cls.Methods {
		switch {
		case m.Signature.IsConstructor():
			out = append(out, EntryPoint{Method: m.Signature, Kind: EntryConstructor})
		case m.Signature.IsStaticInitializer():
			out = append(out, EntryPoint{Method: m.Signature, Kind: EntryStaticInitializer})
		}
	}
	return out
}
