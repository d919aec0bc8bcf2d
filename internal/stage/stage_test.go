package stage

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func writeZip(t *testing.T, path string, files ...[2]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, file := range files {
		w, err := zw.Create(file[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(file[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

type walked struct {
	path string
	data string
	err  bool
}

func collect(inputs ...string) []walked {
	var out []walked
	for e, err := range Walk(inputs) {
		out = append(out, walked{path: e.Path, data: string(e.Data), err: err != nil})
	}
	return out
}

func TestWalkDirectoryIsLexical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "B.class"), "b")
	writeFile(t, filepath.Join(dir, "a", "Z.class"), "z")
	writeFile(t, filepath.Join(dir, "a", "A.class"), "a")
	writeFile(t, filepath.Join(dir, "res.txt"), "r")

	assert.Equal(t, []walked{
		{path: "a/A.class", data: "a"},
		{path: "a/Z.class", data: "z"},
		{path: "b/B.class", data: "b"},
		{path: "res.txt", data: "r"},
	}, collect(dir))
}

func TestWalkArchive(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "app.jar")
	writeZip(t, jar,
		[2]string{"META-INF/MANIFEST.MF", "m"},
		[2]string{"app/K.class", "k"},
		[2]string{"../evil.class", "x"},
	)

	got := collect(jar)
	require.Len(t, got, 3)
	assert.Equal(t, walked{path: "META-INF/MANIFEST.MF", data: "m"}, got[0])
	assert.Equal(t, walked{path: "app/K.class", data: "k"}, got[1])
	assert.True(t, got[2].err, "entries escaping the root are errors")
}

func TestWalkContinuesPastBadInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app", "K.class"), "k")
	notZip := filepath.Join(t.TempDir(), "broken.jar")
	writeFile(t, notZip, "not a zip")

	got := collect(filepath.Join(dir, "missing"), notZip, dir)
	require.Len(t, got, 3)
	assert.True(t, got[0].err)
	assert.True(t, got[1].err)
	assert.Equal(t, walked{path: "app/K.class", data: "k"}, got[2])
}

func TestWalkStopsWhenConsumerStops(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"A", "B", "C"} {
		writeFile(t, filepath.Join(dir, name+".class"), name)
	}
	var n int
	for range Walk([]string{dir, dir}) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStagerCopiesEntries(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "app", "K.class"), "kk")
	jar := filepath.Join(t.TempDir(), "lib.jar")
	writeZip(t, jar, [2]string{"lib/L.class", "lll"}, [2]string{"lib/data.bin", "d"})

	root := filepath.Join(t.TempDir(), "jar-contents")
	st, err := NewStager(root, nil)
	require.NoError(t, err)

	sum, err := st.Stage(context.Background(), Walk([]string{src, jar, filepath.Join(src, "nope")}))
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 2, sum.Classes)
	assert.Equal(t, int64(6), sum.Bytes)
	assert.Equal(t, 1, sum.Failed)

	data, err := os.ReadFile(filepath.Join(root, "lib", "L.class"))
	require.NoError(t, err)
	assert.Equal(t, "lll", string(data))
	_, err = os.Stat(filepath.Join(root, "lib", "data.bin"))
	assert.NoError(t, err, "resources are staged too")

	var paths []string
	var errs int
	for p, err := range sum.Paths() {
		if err != nil {
			errs++
			continue
		}
		paths = append(paths, p)
	}
	assert.Equal(t, []string{"app/K.class", "lib/L.class", "lib/data.bin"}, paths)
	assert.Equal(t, 1, errs)
}

func TestStagerLaterInputWins(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.jar")
	second := filepath.Join(dir, "b.jar")
	writeZip(t, first, [2]string{"app/K.class", strings.Repeat("A", 4<<20)})
	writeZip(t, second, [2]string{"app/K.class", strings.Repeat("B", 1<<10)})

	for i := 0; i < 20; i++ {
		root := filepath.Join(t.TempDir(), "jar-contents")
		st, err := NewStager(root, nil)
		require.NoError(t, err)

		sum, err := st.Stage(context.Background(), Walk([]string{first, second}))
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Files)

		data, err := os.ReadFile(filepath.Join(root, "app", "K.class"))
		require.NoError(t, err)
		require.Equal(t, strings.Repeat("B", 1<<10), string(data), "run %d", i)
	}
}

func TestStagerHonorsCancellation(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "A.class"), "a")
	st, err := NewStager(t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = st.Stage(ctx, Walk([]string{src}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewStagerRequiresRoot(t *testing.T) {
	_, err := NewStager("", nil)
	assert.Error(t, err)
}
