// Package report unpacks the downloaded archive and parses the admission
// report it contains.
package report

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/admitsync-io/admitsync/internal/logging"
	"github.com/admitsync-io/admitsync/internal/models"
)

// Loader extracts report archives and parses the first tabular file found.
type Loader struct {
	logger *logging.Logger
}

// NewLoader returns a report loader using the provided logger.
func NewLoader(logger *logging.Logger) *Loader {
	return &Loader{logger: logger}
}

// ExtractAndLoad extracts the zip at archivePath into dir and parses the
// first tabular file found there. Returns (nil, false, nil) when the
// extracted contents hold no tabular file, and a non-nil error only when the
// archive itself cannot be read.
func (l *Loader) ExtractAndLoad(archivePath, dir string) ([]models.AdmissionRecord, bool, error) {
	if _, err := l.ExtractArchive(archivePath, dir); err != nil {
		return nil, false, err
	}
	return l.LoadTabular(dir)
}

// ExtractArchive extracts every entry of the zip archive into destDir and
// returns the extracted file paths. Entries that would escape destDir are
// rejected.
func (l *Loader) ExtractArchive(archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	var extracted []string
	for _, entry := range zr.File {
		target, err := safeJoin(destDir, entry.Name)
		if err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", target, err)
		}
		if err := extractEntry(entry, target); err != nil {
			return nil, err
		}
		extracted = append(extracted, target)
	}
	return extracted, nil
}

func extractEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return dst.Close()
}

func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %s escapes extraction directory", name)
	}
	return target, nil
}
