package stage

import (
	"context"
	"fmt"
	"iter"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent file writes.
const DefaultWorkers = 8

// Stager copies walked entries under a staging root, keeping each entry's
// relative path.
type Stager struct {
	root    string
	workers int
	log     *log.Logger
}

// NewStager creates root if needed. A nil logger discards warnings.
func NewStager(root string, logger *log.Logger) (*Stager, error) {
	if root == "" {
		return nil, fmt.Errorf("staging directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Stager{root: root, workers: DefaultWorkers, log: logger}, nil
}

// Root returns the staging directory.
func (s *Stager) Root() string { return s.root }

// Staged is the outcome for one walked entry.
type Staged struct {
	Path   string
	Source string
	Size   int
	Err    error
}

// Summary lists every walked entry in walk order.
type Summary struct {
	Entries []*Staged
	Files   int
	Classes int
	Bytes   int64
	Failed  int
}

// Paths yields the relative path of every walked entry together with its
// read or write error, if any. Inputs that failed as a whole are reported
// by source.
func (s *Summary) Paths() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, e := range s.Entries {
			p := e.Path
			if p == "" {
				p = e.Source
			}
			if !yield(p, e.Err) {
				return
			}
		}
	}
}

// Stage writes every entry into the staging root. When several inputs hold
// the same path, the entry walked last is the one left on disk. Per-entry
// read and write failures are logged and recorded on the summary; only
// cancellation stops the run early.
func (s *Stager) Stage(ctx context.Context, entries iter.Seq2[Entry, error]) (*Summary, error) {
	sum := &Summary{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	// Writes to one destination run in walk order so the last input wins.
	pending := make(map[string]chan struct{})

	for e, err := range entries {
		if gctx.Err() != nil {
			break
		}
		st := &Staged{Path: e.Path, Source: e.Source, Size: len(e.Data), Err: err}
		sum.Entries = append(sum.Entries, st)
		if err != nil {
			s.warnf("unable to read %s from %s: %v", e.Path, e.Source, err)
			continue
		}
		prev := pending[e.Path]
		done := make(chan struct{})
		pending[e.Path] = done
		g.Go(func() error {
			defer close(done)
			if prev != nil {
				<-prev
			}
			if err := s.write(e); err != nil {
				s.warnf("unable to stage %s: %v", e.Path, err)
				st.Err = err
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, st := range sum.Entries {
		if st.Err != nil {
			sum.Failed++
			continue
		}
		sum.Files++
		sum.Bytes += int64(st.Size)
		if (Entry{Path: st.Path}).IsClass() {
			sum.Classes++
		}
	}
	return sum, nil
}

func (s *Stager) write(e Entry) error {
	dest := filepath.Join(s.root, filepath.FromSlash(e.Path))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, e.Data, 0o644)
}

func (s *Stager) warnf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf("warning: "+format, args...)
	}
}
