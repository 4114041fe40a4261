package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shirabe/internal/apperr"
)

func writePair(content string) func(dir string) error {
	return func(dir string) error {
		if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte(content), 0o644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, MetadataFile), []byte(content), 0o644)
	}
}

func generations(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), genPrefix) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestCurrent_Empty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "l2"))
	_, err := s.Current()
	assert.ErrorIs(t, err, apperr.ErrNoArtifact)
}

func TestWrite_PublishesAndPrunes(t *testing.T) {
	root := filepath.Join(t.TempDir(), "l2")
	s := NewStore(root)

	first, err := s.Write(writePair("one"))
	require.NoError(t, err)
	cur, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, first, cur)

	second, err := s.Write(writePair("two"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name)

	cur, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, second.Name, cur.Name)
	data, err := os.ReadFile(cur.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	assert.Equal(t, []string{second.Name}, generations(t, root))
	_, err = os.Stat(filepath.Join(root, currentFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_FailureKeepsPrevious(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cosine")
	s := NewStore(root)

	good, err := s.Write(writePair("good"))
	require.NoError(t, err)

	boom := errors.New("embedding exploded")
	_, err = s.Write(func(dir string) error {
		_ = os.WriteFile(filepath.Join(dir, IndexFile), []byte("partial"), 0o644)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	cur, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, good.Name, cur.Name)
	assert.Equal(t, []string{good.Name}, generations(t, root))
}

func TestWrite_RequiresBothFiles(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "l2"))
	_, err := s.Write(func(dir string) error {
		return os.WriteFile(filepath.Join(dir, IndexFile), []byte("x"), 0o644)
	})
	assert.ErrorIs(t, err, apperr.ErrCorruptArtifact)
	_, err = s.Current()
	assert.ErrorIs(t, err, apperr.ErrNoArtifact)
}

func TestCurrent_InvalidPointer(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, currentFile), []byte("../etc\n"), 0o644))
	_, err := NewStore(root).Current()
	assert.ErrorIs(t, err, apperr.ErrCorruptArtifact)
}

func TestReset(t *testing.T) {
	root := filepath.Join(t.TempDir(), "l2")
	s := NewStore(root)
	_, err := s.Write(writePair("x"))
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))
	_, err = s.Current()
	assert.ErrorIs(t, err, apperr.ErrNoArtifact)

	// Reset of an absent directory is a no-op.
	require.NoError(t, s.Reset())
}
