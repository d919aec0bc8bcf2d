package analysis

import (
	"context"
	"fmt"

	"github.com/abramin/kernelscan/internal/jvm"
)

// EdgeStatus records whether a call edge was followed.
type EdgeStatus string

const (
	EdgeFollowed    EdgeStatus = "followed"
	EdgeUnavailable EdgeStatus = "unavailable"
)

// CallEdge is one invocation site found while scanning a body. Target is the
// statically declared reference; Callee is the concrete method it resolved
// to, or Target itself when the edge is unavailable.
type CallEdge struct {
	Caller jvm.MethodSignature
	Target jvm.MethodSignature
	Callee jvm.MethodSignature
	Kind   jvm.InvokeKind
	Offset int
	Status EdgeStatus
	Reason string
}

// resolution memoizes the outcome of fully resolving one referenced
// signature. err is always an unavailable error; fatal errors are never
// memoized.
type resolution struct {
	method *jvm.Method
	err    error
}

// Traverse runs the call-graph worklist to its fixpoint. It seeds every
// method of every bodies-eligible class (application and runtime classes
// plus the declaring classes of the current entry points), then processes
// the queue in FIFO order, visiting each signature at most once. ctx is
// checked between steps.
func (s *Session) Traverse(ctx context.Context) error {
	if err := s.seed(); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sig, ok := s.work.Pop()
		if !ok {
			return nil
		}
		if !s.visited.Add(sig) {
			continue
		}
		if err := s.step(sig); err != nil {
			return err
		}
	}
}

func (s *Session) seed() error {
	for _, name := range s.catalog.Application() {
		s.bodies.Add(name)
	}
	for _, name := range s.catalog.Runtime() {
		s.bodies.Add(name)
	}
	for _, ep := range s.entries.All() {
		s.bodies.Add(ep.Class())
	}
	for _, name := range s.bodies.Items() {
		cls, err := s.resolver.ResolveClass(name, jvm.LevelSignatures)
		if err != nil {
			if !jvm.IsUnavailable(err) {
				return err
			}
			if !s.catalog.IsApplication(name) {
				// Application misses were already reported while loading
				// signatures.
				s.diag(DiagResolve, string(name), err)
			}
			continue
		}
		for _, m := range cls.Methods {
			s.work.Push(m.Signature)
		}
	}
	return nil
}

// step resolves one dequeued signature and scans its body.
func (s *Session) step(sig jvm.MethodSignature) error {
	m, err := s.fullyResolve(sig)
	if err != nil {
		if !jvm.IsUnavailable(err) {
			return err
		}
		s.debugf("unable to find a concrete body for %s: %v", sig, err)
		return nil
	}
	// An inherited method reached through a subclass is the same node as
	// the method itself.
	if m.Signature != sig && !s.visited.Add(m.Signature) {
		return nil
	}
	body, err := s.resolver.Body(m)
	if err != nil {
		if !jvm.IsUnavailable(err) {
			return err
		}
		s.debugf("cannot find body for method %s", m.Signature)
		return nil
	}
	s.debugf("call graph: %s", m.Signature)
	s.scanned.Add(m.Signature)
	return s.scan(m.Signature, body)
}

// scan records every invocation in body and enqueues the targets that have
// a retrievable body. A decoding error abandons the rest of the body.
func (s *Session) scan(caller jvm.MethodSignature, body jvm.Body) error {
	for ins, err := range body.Instructions() {
		if err != nil {
			s.diag(DiagScan, caller.String(), err)
			return nil
		}
		if ins.Invoke == nil {
			continue
		}
		target := ins.Invoke.Target
		s.bodies.Add(target.Class)
		edge := CallEdge{Caller: caller, Target: target, Callee: target, Kind: ins.Invoke.Kind, Offset: ins.Offset}

		callee, err := s.fullyResolve(target)
		if err == nil {
			_, err = s.resolver.Body(callee)
		}
		if err != nil {
			if !jvm.IsUnavailable(err) {
				return err
			}
			edge.Status, edge.Reason = EdgeUnavailable, err.Error()
			s.edges = append(s.edges, edge)
			continue
		}
		edge.Callee, edge.Status = callee.Signature, EdgeFollowed
		s.edges = append(s.edges, edge)
		s.work.Push(callee.Signature)
	}
	return nil
}

// fullyResolve raises the declaring class of sig to bodies and returns the
// concrete method the reference lands on. When that method is inherited,
// its own declaring class is raised to bodies too. Unavailable outcomes are
// memoized per referenced signature.
func (s *Session) fullyResolve(sig jvm.MethodSignature) (*jvm.Method, error) {
	if r, ok := s.resolved[sig]; ok {
		return r.method, r.err
	}
	m, err := s.resolveToBody(sig)
	if err != nil && !jvm.IsUnavailable(err) {
		return nil, err
	}
	s.resolved[sig] = resolution{method: m, err: err}
	return m, err
}

func (s *Session) resolveToBody(sig jvm.MethodSignature) (*jvm.Method, error) {
	s.debugf("resolving to bodies: %s", sig.Class)
	if _, err := s.resolver.ForceResolveBodies(sig.Class); err != nil {
		return nil, err
	}
	m, err := s.resolver.ResolveMethod(sig)
	if err != nil {
		return nil, err
	}
	if !m.IsConcrete() {
		return nil, fmt.Errorf("%s: %w", m.Signature, jvm.ErrNoBody)
	}
	if owner := m.Signature.Class; owner != sig.Class {
		if _, err := s.resolver.ForceResolveBodies(owner); err != nil {
			return nil, err
		}
		// The upgrade replaced the class, so look the method up again.
		if m, err = s.resolver.ResolveMethod(m.Signature); err != nil {
			return nil, err
		}
	}
	return m, nil
}
