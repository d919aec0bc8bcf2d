package classfile

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/abramin/kernelscan/internal/jvm"
)

// DefaultCacheSize bounds the raw class-bytes cache when no size is configured.
const DefaultCacheSize = 4096

// source is one class-path entry.
type source interface {
	read(name jvm.ClassName) ([]byte, bool, error)
	close() error
	String() string
}

// Stats counts provider work for one analysis run.
type Stats struct {
	Reads     int `json:"reads"`      // class bytes read from a class-path entry
	CacheHits int `json:"cache_hits"` // class bytes served from the cache
	Parses    int `json:"parses"`     // class files decoded
	Misses    int `json:"misses"`     // lookups that found nothing
}

// ClassPath resolves classes from an ordered list of directories and
// archives. The first entry that contains a class wins. Raw bytes are kept in
// a bounded LRU so that upgrading a class to a higher level does not touch
// the disk again.
type ClassPath struct {
	sources []source
	cache   *lru.Cache[jvm.ClassName, []byte]
	stats   Stats
}

// OpenClassPath opens every entry up front. Archives are indexed once so that
// lookups never scan them. A missing or unreadable entry is an error.
func OpenClassPath(paths []string, cacheSize int) (*ClassPath, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[jvm.ClassName, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating class cache: %w", err)
	}
	cp := &ClassPath{cache: cache}
	for _, p := range paths {
		src, err := openSource(p)
		if err != nil {
			cp.Close()
			return nil, err
		}
		cp.sources = append(cp.sources, src)
	}
	return cp, nil
}

func openSource(path string) (source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("class path entry %s: %w", path, err)
	}
	if info.IsDir() {
		return dirSource{root: path}, nil
	}
	return openJar(path)
}

// Close releases all open archives.
func (cp *ClassPath) Close() error {
	var errs []error
	for _, src := range cp.sources {
		if err := src.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the work counters accumulated so far.
func (cp *ClassPath) Stats() Stats {
	return cp.stats
}

// Entries returns the class-path entries in lookup order.
func (cp *ClassPath) Entries() []string {
	out := make([]string, len(cp.sources))
	for i, src := range cp.sources {
		out[i] = src.String()
	}
	return out
}

// Resolve loads and parses name to the requested level. A class absent from
// every entry yields jvm.ErrClassNotFound and an undecodable one
// jvm.ErrMalformedClass; I/O failures are returned as-is.
func (cp *ClassPath) Resolve(name jvm.ClassName, level jvm.Level) (*jvm.Class, error) {
	data, err := cp.bytes(name)
	if err != nil {
		return nil, err
	}
	cp.stats.Parses++
	cls, err := Parse(data, level)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if cls.Name != name {
		return nil, fmt.Errorf("%s: %w: file declares %s", name, jvm.ErrMalformedClass, cls.Name)
	}
	return cls, nil
}

// RetrieveBody returns the body attached when the declaring class was
// resolved to bodies. Abstract and native methods never have one.
func (cp *ClassPath) RetrieveBody(m *jvm.Method) (jvm.Body, error) {
	if m == nil || !m.IsConcrete() || m.Body == nil {
		return nil, jvm.ErrNoBody
	}
	return m.Body, nil
}

func (cp *ClassPath) bytes(name jvm.ClassName) ([]byte, error) {
	if data, ok := cp.cache.Get(name); ok {
		cp.stats.CacheHits++
		return data, nil
	}
	for _, src := range cp.sources {
		data, ok, err := src.read(name)
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", name, src, err)
		}
		if ok {
			cp.stats.Reads++
			cp.cache.Add(name, data)
			return data, nil
		}
	}
	cp.stats.Misses++
	return nil, fmt.Errorf("%s: %w", name, jvm.ErrClassNotFound)
}

func classFileName(name jvm.ClassName) string {
	return name.InternalName() + ".class"
}

type dirSource struct {
	root string
}

func (d dirSource) read(name jvm.ClassName) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(classFileName(name))))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (d dirSource) close() error   { return nil }
func (d dirSource) String() string { return d.root }

type jarSource struct {
	path  string
	zr    *zip.ReadCloser
	index map[string]*zip.File
}

func openJar(path string) (*jarSource, error) {
	zr, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	index := make(map[string]*zip.File)
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".class") {
			index[strings.TrimPrefix(f.Name, "/")] = f
		}
	}
	return &jarSource{path: path, zr: zr, index: index}, nil
}

func (j *jarSource) read(name jvm.ClassName) ([]byte, bool, error) {
	f, ok := j.index[classFileName(name)]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (j *jarSource) close() error   { return j.zr.Close() }
func (j *jarSource) String() string { return j.path }

// JarsUnder returns every non-hidden .jar below dir, recursively, in lexical
// order. A missing dir is an error.
func JarsUnder(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("class path folder %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("class path folder %s: not a directory", dir)
	}
	var jars []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".jar") {
			return nil
		}
		jars = append(jars, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jars, nil
}
