// Package fileid fingerprints raw units and whole corpora so unchanged inputs
// can be recognised without rebuilding.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

const prefix = "sha256:"

// Fingerprint returns a stable content fingerprint for b.
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:])
}

// FileFingerprint streams the file at path through Fingerprint's hash.
func FileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Entry is one unit of a digest: its name and content fingerprint.
type Entry struct {
	Name        string
	Fingerprint string
}

// Digest combines ordered entries into a single fingerprint. Order matters:
// the same files under different names or in a different order digest
// differently, matching how positional ids are assigned.
func Digest(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		_, _ = io.WriteString(h, e.Name)
		_, _ = h.Write([]byte{0})
		_, _ = io.WriteString(h, e.Fingerprint)
		_, _ = h.Write([]byte{'\n'})
	}
	return prefix + hex.EncodeToString(h.Sum(nil))
}
