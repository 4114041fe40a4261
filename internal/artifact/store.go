// Package artifact manages generations of persisted index artifacts on disk.
//
// Each build is written into its own generation directory and published by
// atomically replacing a CURRENT pointer file, so readers only ever see a
// complete index/metadata pair.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shirabe/internal/apperr"
)

const (
	// IndexFile is the vector index file name inside a generation.
	IndexFile = "index.bin"
	// MetadataFile is the metadata file name inside a generation.
	MetadataFile = "metadata.json"

	currentFile = "CURRENT"
	genPrefix   = "gen-"
)

// Generation is one published artifact directory.
type Generation struct {
	Name string
	Path string
}

// IndexPath returns the index file inside the generation.
func (g Generation) IndexPath() string { return filepath.Join(g.Path, IndexFile) }

// MetadataPath returns the metadata file inside the generation.
func (g Generation) MetadataPath() string { return filepath.Join(g.Path, MetadataFile) }

// Store owns the artifact directory of one metric.
type Store struct {
	root   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore returns a store rooted at dir (typically <index_dir>/<metric>).
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{root: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Write creates a fresh generation, lets write populate it, then publishes
// it. On failure the new generation is removed and the current one stays
// live. Superseded generations are removed after a successful publish.
func (s *Store) Write(write func(dir string) error) (Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Generation{}, fmt.Errorf("create artifact dir: %w", err)
	}
	gen := Generation{Name: genPrefix + uuid.NewString()}
	gen.Path = filepath.Join(s.root, gen.Name)
	if err := os.Mkdir(gen.Path, 0o755); err != nil {
		return Generation{}, fmt.Errorf("create generation: %w", err)
	}

	if err := s.populate(gen, write); err != nil {
		if rmErr := os.RemoveAll(gen.Path); rmErr != nil {
			s.logger.Warn("failed to remove abandoned generation", zap.String("path", gen.Path), zap.Error(rmErr))
		}
		return Generation{}, err
	}

	s.logger.Info("artifact published", zap.String("generation", gen.Name), zap.String("dir", s.root))
	s.prune(gen.Name)
	return gen, nil
}

func (s *Store) populate(gen Generation, write func(dir string) error) error {
	if err := write(gen.Path); err != nil {
		return err
	}
	for _, name := range []string{IndexFile, MetadataFile} {
		if _, err := os.Stat(filepath.Join(gen.Path, name)); err != nil {
			return apperr.Wrap(apperr.ErrCorruptArtifact, apperr.StageArtifact, name, err)
		}
	}
	if err := syncDir(gen.Path); err != nil {
		return err
	}

	tmp := filepath.Join(s.root, currentFile+".tmp")
	if err := writeSynced(tmp, []byte(gen.Name+"\n")); err != nil {
		return fmt.Errorf("write pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish generation: %w", err)
	}
	return syncDir(s.root)
}

// prune removes every generation other than keep.
func (s *Store) prune(keep string) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("failed to list generations", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), genPrefix) || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			s.logger.Warn("failed to remove old generation", zap.String("generation", e.Name()), zap.Error(err))
			continue
		}
		s.logger.Debug("removed old generation", zap.String("generation", e.Name()))
	}
}

// Current returns the published generation, or ErrNoArtifact when nothing
// has been built yet.
func (s *Store) Current() (Generation, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Generation{}, apperr.Wrap(apperr.ErrNoArtifact, apperr.StageArtifact, s.root, err)
		}
		return Generation{}, fmt.Errorf("read pointer: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if !strings.HasPrefix(name, genPrefix) || strings.ContainsAny(name, `/\`) {
		return Generation{}, apperr.Newf(apperr.ErrCorruptArtifact, apperr.StageArtifact, "invalid pointer %q", name)
	}
	gen := Generation{Name: name, Path: filepath.Join(s.root, name)}
	if _, err := os.Stat(gen.Path); err != nil {
		return Generation{}, apperr.Wrap(apperr.ErrNoArtifact, apperr.StageArtifact, gen.Path, err)
	}
	return gen, nil
}

// Reset removes every generation and the pointer.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove artifacts: %w", err)
	}
	s.logger.Info("artifacts removed", zap.String("dir", s.root))
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return nil
}
