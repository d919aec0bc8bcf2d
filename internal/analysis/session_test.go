package analysis

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/kernelscan/internal/jvm"
)

var testRules = Rules{
	RuntimeClasses: []string{"runtime.Math"},
	KeepPrefixes:   []string{"runtime.keep."},
	IgnorePrefixes: []string{"runtime.", "soot."},
}

func newTestSession(p *fakeProvider, staged ...jvm.ClassName) *Session {
	s := NewSession(p, Options{
		Rules:           testRules,
		MarkerInterface: testMarker,
		EntryMethod:     "run",
	})
	s.Ingest(stagedPaths(staged...))
	return s
}

func findEdges(res *Result, caller, target jvm.MethodSignature) []CallEdge {
	var out []CallEdge
	for _, e := range res.Edges {
		if e.Caller == caller && e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

func assertScannedOnce(t *testing.T, p *fakeProvider) {
	t.Helper()
	for sig, n := range p.scans {
		assert.Equal(t, 1, n, "%s scanned %d times", sig, n)
	}
}

func TestKernelReachesHelperAndRuntime(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).
			method("<init>", sig(jvm.ObjectClass, "<init>")).
			method("run", sig("app.Helper", "compute")),
		newClass("app.Helper").method("compute", sig("runtime.Math", "sqrt")),
		newClass("runtime.Math").method("sqrt"),
	)
	s := newTestSession(p, "app.K", "app.Helper")

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []jvm.ClassName{"app.K"}, res.KernelClasses)
	for _, m := range []jvm.MethodSignature{
		sig("app.K", "run"),
		sig("app.K", "<init>"),
		sig("app.Helper", "compute"),
		sig("runtime.Math", "sqrt"),
	} {
		assert.True(t, res.Reached(m), "%s should be reachable", m)
	}

	assert.Equal(t, []EntryPoint{
		{Method: sig("app.K", "run"), Kind: EntryKernel},
		{Method: sig("app.K", "<init>"), Kind: EntryConstructor},
	}, res.EntryPoints)

	edges := findEdges(res, sig("app.K", "run"), sig("app.Helper", "compute"))
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeFollowed, edges[0].Status)

	// Object is not on the class path: the super constructor call is a leaf.
	edges = findEdges(res, sig("app.K", "<init>"), sig(jvm.ObjectClass, "<init>"))
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeUnavailable, edges[0].Status)

	assert.Equal(t, jvm.LevelBodies, s.Resolver().Level("app.Helper"))
	assert.Equal(t, jvm.LevelBodies, s.Resolver().Level("runtime.Math"))
	assertScannedOnce(t, p)
}

func TestAbstractInterfaceTargetIsUnavailable(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).method("run", sig("app.Shape", "area")),
		newInterface("app.Shape").abstract("area"),
		newClass("app.Square").implements("app.Shape").abstract("area"),
	)
	s := newTestSession(p, "app.K", "app.Shape", "app.Square")

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	edges := findEdges(res, sig("app.K", "run"), sig("app.Shape", "area"))
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeUnavailable, edges[0].Status)
	assert.Contains(t, edges[0].Reason, jvm.ErrNoBody.Error())
	assert.False(t, res.Reached(sig("app.Shape", "area")))
	assert.Equal(t, []jvm.ClassName{"app.K"}, res.KernelClasses)
}

func TestSharedUtilityScannedOnce(t *testing.T) {
	shared := sig("app.Util", "shared")
	p := newFakeProvider(
		newClass("app.K1").implements(testMarker).method("run", shared),
		newClass("app.K2").implements(testMarker).method("run", shared),
		newClass("app.Util").method("shared"),
	)
	s := newTestSession(p, "app.K1", "app.K2", "app.Util")

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, p.scans[shared])
	for _, caller := range []jvm.ClassName{"app.K1", "app.K2"} {
		edges := findEdges(res, sig(caller, "run"), shared)
		require.Len(t, edges, 1)
		assert.Equal(t, shared, edges[0].Callee)
	}
	assert.Equal(t, []jvm.ClassName{"app.K1", "app.K2"}, res.KernelClasses)
}

func TestRecursionTerminates(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).method("run", sig("app.R", "a")),
		newClass("app.R").
			method("a", sig("app.R", "b"), sig("app.R", "a")).
			method("b", sig("app.R", "a")),
	)
	// app.R is not staged: it is only reached through the call graph.
	s := newTestSession(p, "app.K")

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Reached(sig("app.R", "a")))
	assert.True(t, res.Reached(sig("app.R", "b")))
	assert.Contains(t, res.BodiesClasses, jvm.ClassName("app.R"))
	assertScannedOnce(t, p)
}

func TestInheritedMethodIsOneNode(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).
			method("run", sig("app.Sub", "work"), sig("app.Other", "work")),
		newClass("app.Base").method("work"),
		newClass("app.Sub").extends("app.Base"),
		newClass("app.Other").extends("app.Base"),
	)
	s := newTestSession(p, "app.K")

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	base := sig("app.Base", "work")
	assert.Equal(t, 1, p.scans[base])
	for _, target := range []jvm.MethodSignature{sig("app.Sub", "work"), sig("app.Other", "work")} {
		edges := findEdges(res, sig("app.K", "run"), target)
		require.Len(t, edges, 1)
		assert.Equal(t, base, edges[0].Callee)
	}
	assert.Equal(t, jvm.LevelBodies, s.Resolver().Level("app.Base"))
}

func TestScanErrorAbandonsOnlyThatMethod(t *testing.T) {
	var logs bytes.Buffer
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).
			broken("run", sig("app.Helper", "before")).
			method("other", sig("app.Helper", "after")),
		newClass("app.Helper").method("before").method("after"),
	)
	s := NewSession(p, Options{
		Rules:           testRules,
		MarkerInterface: testMarker,
		EntryMethod:     "run",
		Logger:          log.New(&logs, "", 0),
	})
	s.Ingest(stagedPaths("app.K"))

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Reached(sig("app.Helper", "before")), "calls decoded before the error are kept")
	assert.True(t, res.Reached(sig("app.Helper", "after")), "traversal continues after a scan error")

	var scanDiags []Diagnostic
	for _, d := range res.Diagnostics {
		if d.Kind == DiagScan {
			scanDiags = append(scanDiags, d)
		}
	}
	require.Len(t, scanDiags, 1)
	assert.Equal(t, sig("app.K", "run").String(), scanDiags[0].Subject)
	assert.Contains(t, logs.String(), "warning: scan")
}

func TestFatalProviderErrorAborts(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).method("run", sig("app.Boom", "go")),
		newClass("app.Boom").method("go"),
	)
	p.fatal["app.Boom"] = errDiskOnFire
	s := newTestSession(p, "app.K")

	_, err := s.FindKernelClasses(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDiskOnFire))
}

func TestTraverseHonorsCancellation(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements(testMarker).method("run"),
	)
	s := newTestSession(p, "app.K")
	require.NoError(t, s.LoadSignatures())
	s.DetectEntryPoints()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Traverse(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.scans)
}

func TestEntryPointDetection(t *testing.T) {
	p := newFakeProvider(
		newClass("app.K").implements("app.Other", testMarker).
			method("<clinit>").
			method("<init>").
			method("run"),
		newClass("app.NoRun").implements(testMarker).method("walk"),
		newClass("app.Sub").extends("app.K").method("<init>"),
		newClass("app.Plain").method("<init>"),
	)
	s := newTestSession(p, "app.K", "app.NoRun", "app.Sub", "app.Plain")

	require.NoError(t, s.LoadSignatures())
	s.DetectEntryPoints()
	// Only direct implementors count, and a kernel without the entry
	// method is reported rather than recorded.
	assert.Equal(t, []EntryPoint{{Method: sig("app.K", "run"), Kind: EntryKernel}}, s.EntryPoints())
	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, DiagEntryPoint, s.Diagnostics()[0].Kind)

	require.NoError(t, s.Traverse(context.Background()))
	s.AugmentEntryPoints()

	eps := s.EntryPoints()
	assert.Contains(t, eps, EntryPoint{Method: sig("app.K", "<clinit>"), Kind: EntryStaticInitializer})
	assert.Contains(t, eps, EntryPoint{Method: sig("app.K", "<init>"), Kind: EntryConstructor})
	// Every application class that reached bodies contributes its
	// initializers; each declaring class is still listed once.
	assert.Equal(t, []jvm.ClassName{"app.K", "app.Sub", "app.Plain"}, s.KernelClasses())

	s.AugmentEntryPoints()
	assert.Len(t, s.EntryPoints(), len(eps), "augmentation is idempotent")
}

func TestIngestAppliesFilterAndRecordsErrors(t *testing.T) {
	p := newFakeProvider(newClass("app.K"))
	s := NewSession(p, Options{Rules: testRules})

	paths := func(yield func(string, error) bool) {
		for _, e := range []struct {
			path string
			err  error
		}{
			{"/app/K.class", nil},
			{"/soot/Scene.class", nil},
			{"/runtime/Math.class", nil},
			{"/runtime/keep/Pinned.class", nil},
			{"/META-INF/MANIFEST.MF", nil},
			{"/app/Broken.class", errors.New("unexpected EOF")},
		} {
			if !yield(e.path, e.err) {
				return
			}
		}
	}
	n := s.Ingest(paths)

	assert.Equal(t, 3, n)
	assert.Equal(t, []jvm.ClassName{"app.K", "runtime.Math", "runtime.keep.Pinned"}, s.Catalog().Application())
	assert.Equal(t, []jvm.ClassName{"soot.Scene"}, s.Catalog().Ignored())
	require.Len(t, s.Diagnostics(), 1)
	assert.Equal(t, DiagIngest, s.Diagnostics()[0].Kind)
	assert.Equal(t, "/app/Broken.class", s.Diagnostics()[0].Subject)
}

func TestBuiltinsAndClassification(t *testing.T) {
	p := newFakeProvider(
		newClass(jvm.ObjectClass).extends(""),
		newClass("java.lang.Integer").method("valueOf"),
		newClass("app.K").implements(testMarker).method("run", sig("app.Helper", "compute")),
		newClass("app.Helper").method("compute"),
		newClass("app.Unused").abstract("nothing"),
	)
	s := NewSession(p, Options{
		Rules:           testRules,
		MarkerInterface: testMarker,
		EntryMethod:     "run",
		Builtins: []Builtin{
			{jvm.ObjectClass, jvm.LevelHierarchy},
			{"java.lang.Integer", jvm.LevelSignatures},
			{"java.lang.Missing", jvm.LevelHierarchy},
		},
	})
	s.Ingest(stagedPaths("app.K", "app.Helper", "app.Unused", "soot.Scene"))

	res, err := s.FindKernelClasses(context.Background())
	require.NoError(t, err)

	got := make(map[jvm.ClassName]ClassReport)
	for _, c := range res.Classes {
		got[c.Name] = c
	}
	assert.Equal(t, DispositionEmit, got["app.K"].Disposition)
	assert.Equal(t, DispositionEmit, got["app.Helper"].Disposition)
	assert.Equal(t, DispositionHierarchy, got["java.lang.Integer"].Disposition)
	assert.Equal(t, jvm.LevelSignatures, got["java.lang.Integer"].Level)
	assert.Equal(t, DispositionIgnored, got["java.lang.Missing"].Disposition)
	assert.Equal(t, DispositionIgnored, got["soot.Scene"].Disposition)
	assert.Equal(t, DispositionIgnored, got["runtime.Math"].Disposition, "runtime class absent from the class path")
	// Seeded to bodies but nothing in it had a body to scan.
	assert.Equal(t, DispositionHierarchy, got["app.Unused"].Disposition)
	assert.Equal(t, "soot.Scene", string(res.Classes[0].Name))

	var builtinDiags int
	for _, d := range res.Diagnostics {
		if d.Kind == DiagBuiltin {
			builtinDiags++
		}
	}
	assert.Equal(t, 1, builtinDiags)
	assert.Equal(t, 3, res.Stats.Application)
	assert.Equal(t, 1, res.Stats.Ignored)
}

func TestRunsAreDeterministic(t *testing.T) {
	build := func() *Result {
		p := newFakeProvider(
			newClass("app.K1").implements(testMarker).method("run", sig("app.A", "x"), sig("app.B", "y")),
			newClass("app.K2").implements(testMarker).method("run", sig("app.B", "y"), sig("app.A", "x")),
			newClass("app.A").method("x", sig("app.B", "y")),
			newClass("app.B").method("y", sig("app.A", "x")),
		)
		s := newTestSession(p, "app.K2", "app.K1", "app.A", "app.B")
		res, err := s.FindKernelClasses(context.Background())
		require.NoError(t, err)
		return res
	}
	first, second := build(), build()
	assert.Equal(t, first.Reachable, second.Reachable)
	assert.Equal(t, first.Edges, second.Edges)
	assert.Equal(t, first.KernelClasses, second.KernelClasses)
	assert.Equal(t, first.Classes, second.Classes)
	assert.Equal(t, []jvm.ClassName{"app.K2", "app.K1"}, first.KernelClasses)
}
