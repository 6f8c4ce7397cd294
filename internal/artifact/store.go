// Package artifact owns the test-history directory tree: one directory per
// URL test holding the full-page screenshot and the HAR recording. The
// directory name embeds the test timestamp and the sanitized URL so that
// database rows and on-disk artifacts stay mutually resolvable.
package artifact

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/common/urlutil"
)

// Canonical artifact file names inside each test directory.
const (
	ScreenshotFile = "screenshot.png"
	HARFile        = "network.har"
)

// Store allocates per-test directories under the artifact root and writes
// the two artifact files.
type Store struct {
	root        string
	compressHAR bool
	logger      *zap.Logger
}

// TestDir is one allocated artifact directory.
type TestDir struct {
	Dir            string // absolute directory path
	Name           string // directory basename
	ScreenshotPath string
	HARPath        string
}

// NewStore creates a Store rooted at root, creating the root if needed.
func NewStore(root string, compressHAR bool, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating artifact root: %v", ErrIO, err)
	}
	return &Store{root: root, compressHAR: compressHAR, logger: logger}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// DirName builds the canonical directory name for a URL tested at the
// given instant: the ISO-8601 timestamp with ':' and '.' replaced by '-',
// two underscores, then the sanitized URL.
func DirName(rawURL string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.ReplaceAll(ts, ":", "-")
	ts = strings.ReplaceAll(ts, ".", "-")
	return ts + "__" + urlutil.SanitizeForDir(rawURL)
}

// AllocateTestDir creates the canonical directory for (url, now) and
// returns its paths. An existing directory is a conflict, not an overwrite.
func (s *Store) AllocateTestDir(rawURL string, now time.Time) (*TestDir, error) {
	name := DirName(rawURL, now)
	dir := filepath.Join(s.root, name)

	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, dir, err)
	}

	s.logger.Debug("Allocated test directory",
		zap.String("url", rawURL),
		zap.String("dir", name))

	return &TestDir{
		Dir:            dir,
		Name:           name,
		ScreenshotPath: filepath.Join(dir, ScreenshotFile),
		HARPath:        filepath.Join(dir, HARFile),
	}, nil
}

// ListTestDirs enumerates the direct children of the artifact root,
// skipping dotfiles and plain files.
func (s *Store) ListTestDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, s.root, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, entry.Name())
	}
	return dirs, nil
}

// WriteScreenshot writes the screenshot bytes with the atomic
// temp-file-then-rename pattern.
func (s *Store) WriteScreenshot(path string, data []byte) error {
	return s.writeAtomic(path, data)
}

// WriteHAR writes the HAR bytes, optionally gzip-compressed at rest. The
// file keeps its canonical name either way; readers sniff the gzip magic.
func (s *Store) WriteHAR(path string, data []byte) error {
	if s.compressHAR {
		compressed, err := gzipBytes(data)
		if err != nil {
			return fmt.Errorf("%w: compressing HAR: %v", ErrIO, err)
		}
		s.logger.Debug("Compressed HAR artifact",
			zap.String("path", path),
			zap.Int("raw_bytes", len(data)),
			zap.Int("compressed_bytes", len(compressed)))
		data = compressed
	}
	return s.writeAtomic(path, data)
}

// writeAtomic writes to a temp file in the same directory and renames it
// into place so readers never observe a partial file.
func (s *Store) writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: renaming %s: %v", ErrIO, path, err)
	}

	s.logger.Debug("Artifact written",
		zap.String("path", path),
		zap.Int("size_bytes", len(data)))
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
