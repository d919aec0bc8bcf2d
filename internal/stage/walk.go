// Package stage enumerates analysis inputs (class directories and jar
// archives) and copies their contents into a staging directory.
package stage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Entry is one file found under an input. Path is slash-separated and
// relative to the input directory or archive root.
type Entry struct {
	Path   string
	Source string
	Data   []byte
}

// IsClass reports whether the entry looks like a compiled class file.
func (e Entry) IsClass() bool {
	return strings.HasSuffix(e.Path, ".class")
}

// Walk yields every regular file under each input in order. Directories are
// walked in lexical order and archives in their central-directory order.
// Failures are yielded per entry, or per input when the input itself cannot
// be opened, and the walk carries on with what remains.
func Walk(inputs []string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, input := range inputs {
			info, err := os.Stat(input)
			if err != nil {
				if !yield(Entry{Source: input}, fmt.Errorf("input %s: %w", input, err)) {
					return
				}
				continue
			}
			var ok bool
			if info.IsDir() {
				ok = walkDir(input, yield)
			} else {
				ok = walkArchive(input, yield)
			}
			if !ok {
				return
			}
		}
	}
}

func walkDir(root string, yield func(Entry, error) bool) bool {
	stopped := false
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		rel, _ := filepath.Rel(root, p)
		rel = filepath.ToSlash(rel)
		if err != nil {
			if !yield(Entry{Path: rel, Source: root}, err) {
				stopped = true
				return filepath.SkipAll
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if !yield(Entry{Path: rel, Source: root, Data: data}, err) {
			stopped = true
			return filepath.SkipAll
		}
		return nil
	})
	return !stopped
}

func walkArchive(archive string, yield func(Entry, error) bool) bool {
	zr, err := zip.OpenReader(archive)
	// Insecure names still come with a usable reader; they are rejected
	// entry by entry below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return yield(Entry{Source: archive}, fmt.Errorf("opening archive %s: %w", archive, err))
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(f.Name, "/")
		e := Entry{Path: name, Source: archive}
		if !localPath(name) {
			if !yield(e, fmt.Errorf("archive entry %q escapes the staging root", f.Name)) {
				return false
			}
			continue
		}
		e.Data, err = readZipFile(f)
		if !yield(e, err) {
			return false
		}
	}
	return true
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// localPath rejects absolute paths and parent references.
func localPath(name string) bool {
	if name == "" || strings.Contains(name, "\\") {
		return false
	}
	clean := path.Clean(name)
	return clean != ".." && !strings.HasPrefix(clean, "../") && !path.IsAbs(clean)
}
