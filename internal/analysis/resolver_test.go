package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/kernelscan/internal/jvm"
)

func resolverFixture() *fakeProvider {
	return newFakeProvider(
		newClass("app.Base").method("run").method("<init>"),
		newClass("app.Sub").extends("app.Base").method("own"),
		newClass("app.Orphan").extends("app.Gone").method("x"),
		newInterface("app.Shape").abstract("area"),
	)
}

func signatures(cls *jvm.Class) []jvm.MethodSignature {
	var out []jvm.MethodSignature
	for _, m := range cls.Methods {
		out = append(out, m.Signature)
	}
	return out
}

func TestResolveClassIsIdempotentAcrossLevels(t *testing.T) {
	levels := []jvm.Level{jvm.LevelHierarchy, jvm.LevelSignatures, jvm.LevelBodies}
	for _, low := range levels {
		for _, high := range levels {
			if high < low {
				continue
			}
			stepped := NewResolver(resolverFixture(), nil)
			_, err := stepped.ResolveClass("app.Sub", low)
			require.NoError(t, err)
			got, err := stepped.ResolveClass("app.Sub", high)
			require.NoError(t, err)

			direct, err := NewResolver(resolverFixture(), nil).ResolveClass("app.Sub", high)
			require.NoError(t, err)

			assert.Equal(t, direct.Level, got.Level, "%s then %s", low, high)
			assert.Equal(t, direct.Super, got.Super)
			assert.Equal(t, direct.Interfaces, got.Interfaces)
			assert.Equal(t, signatures(direct), signatures(got))
		}
	}
}

func TestResolveClassLooksUpOncePerLevel(t *testing.T) {
	p := resolverFixture()
	r := NewResolver(p, nil)

	for i := 0; i < 3; i++ {
		_, err := r.ResolveClass("app.Base", jvm.LevelSignatures)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.lookups[lookupKey{"app.Base", jvm.LevelSignatures}])
	assert.Equal(t, 2, r.Stats().CacheHits)

	// Lower requests are served by the higher cached entry.
	cls, err := r.ResolveClass("app.Base", jvm.LevelHierarchy)
	require.NoError(t, err)
	assert.Equal(t, jvm.LevelSignatures, cls.Level)
	assert.Zero(t, p.lookups[lookupKey{"app.Base", jvm.LevelHierarchy}])
}

func TestResolveClassNeverRegresses(t *testing.T) {
	p := resolverFixture()
	r := NewResolver(p, nil)

	_, err := r.ForceResolveBodies("app.Base")
	require.NoError(t, err)
	cls, err := r.ResolveClass("app.Base", jvm.LevelSignatures)
	require.NoError(t, err)
	assert.Equal(t, jvm.LevelBodies, cls.Level)
	assert.Equal(t, jvm.LevelBodies, r.Level("app.Base"))
	assert.NotNil(t, cls.Method(sig("app.Base", "run")).Body)
}

func TestResolveClassUpgradeCountsAsLookup(t *testing.T) {
	p := resolverFixture()
	r := NewResolver(p, nil)

	_, err := r.ResolveClass("app.Base", jvm.LevelHierarchy)
	require.NoError(t, err)
	_, err = r.ResolveClass("app.Base", jvm.LevelBodies)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Lookups)
	assert.Equal(t, 1, stats.Upgrades)
}

func TestResolveClassCachesMisses(t *testing.T) {
	p := resolverFixture()
	r := NewResolver(p, nil)

	for _, level := range []jvm.Level{jvm.LevelHierarchy, jvm.LevelBodies} {
		_, err := r.ResolveClass("app.Missing", level)
		assert.True(t, jvm.IsUnavailable(err))
	}
	assert.Equal(t, 1, p.totalLookups("app.Missing"))
	assert.ErrorIs(t, r.Unavailable("app.Missing"), jvm.ErrClassNotFound)
	assert.Equal(t, jvm.LevelNone, r.Level("app.Missing"))
}

func TestResolveClassFatalErrorPropagates(t *testing.T) {
	p := resolverFixture()
	p.fatal["app.Base"] = errDiskOnFire
	r := NewResolver(p, nil)

	_, err := r.ResolveClass("app.Base", jvm.LevelHierarchy)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDiskOnFire))
	assert.False(t, jvm.IsUnavailable(err))
	assert.NoError(t, r.Unavailable("app.Base"), "fatal errors are not cached as misses")
}

func TestResolveMethod(t *testing.T) {
	r := NewResolver(resolverFixture(), nil)

	_, err := r.ResolveClass("app.Sub", jvm.LevelHierarchy)
	require.NoError(t, err)
	_, err = r.ResolveMethod(sig("app.Sub", "own"))
	assert.ErrorIs(t, err, jvm.ErrLevelTooLow, "hierarchy-only class must be upgraded first")

	_, err = r.ResolveClass("app.Sub", jvm.LevelSignatures)
	require.NoError(t, err)

	m, err := r.ResolveMethod(sig("app.Sub", "own"))
	require.NoError(t, err)
	assert.Equal(t, sig("app.Sub", "own"), m.Signature)
	assert.Nil(t, m.Body, "method resolution does not load bodies")

	inherited, err := r.ResolveMethod(sig("app.Sub", "run"))
	require.NoError(t, err)
	assert.Equal(t, sig("app.Base", "run"), inherited.Signature)
	assert.Equal(t, jvm.LevelSignatures, r.Level("app.Base"))

	_, err = r.ResolveMethod(sig("app.Sub", "nope"))
	assert.ErrorIs(t, err, jvm.ErrMethodNotFound)
}

func TestResolveMethodWithMissingSuperclass(t *testing.T) {
	r := NewResolver(resolverFixture(), nil)
	_, err := r.ResolveClass("app.Orphan", jvm.LevelSignatures)
	require.NoError(t, err)

	_, err = r.ResolveMethod(sig("app.Orphan", "inherited"))
	assert.ErrorIs(t, err, jvm.ErrMethodNotFound)
	assert.True(t, jvm.IsUnavailable(err))
}

func TestResolveMethodSkipsInterfaceDefaults(t *testing.T) {
	r := NewResolver(newFakeProvider(
		newInterface("app.Greeter").method("hello"),
		newClass("app.Impl").implements("app.Greeter"),
	), nil)
	_, err := r.ResolveClass("app.Impl", jvm.LevelSignatures)
	require.NoError(t, err)

	_, err = r.ResolveMethod(sig("app.Impl", "hello"))
	assert.ErrorIs(t, err, jvm.ErrMethodNotFound, "only the superclass chain is searched")

	_, err = r.ResolveClass("app.Greeter", jvm.LevelSignatures)
	require.NoError(t, err)
	m, err := r.ResolveMethod(sig("app.Greeter", "hello"))
	require.NoError(t, err)
	assert.Equal(t, sig("app.Greeter", "hello"), m.Signature)
}

func TestResolverClassesKeepRequestOrder(t *testing.T) {
	r := NewResolver(resolverFixture(), nil)
	for _, name := range []jvm.ClassName{"app.Shape", "app.Missing", "app.Base", "app.Shape"} {
		_, _ = r.ResolveClass(name, jvm.LevelHierarchy)
	}
	assert.Equal(t, []jvm.ClassName{"app.Shape", "app.Missing", "app.Base"}, r.Requested())

	var names []jvm.ClassName
	for _, cls := range r.Classes() {
		names = append(names, cls.Name)
	}
	assert.Equal(t, []jvm.ClassName{"app.Shape", "app.Base"}, names)
}
