package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/admitsync-io/admitsync/internal/logging"
)

const archiveSuffix = ".zip"

// saveFirstArchive walks the MIME parts of a raw RFC822 message and writes
// the first attachment whose filename ends in .zip to destDir. Container
// parts and parts without an attachment disposition are skipped by the mail
// reader, so inline content never qualifies. At most one attachment is
// consumed even when several are present.
func saveFirstArchive(raw []byte, destDir string, logger *logging.Logger) (string, bool, error) {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		logger.Warnf("mailbox: message parse failed: %v", err)
		return "", false, nil
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warnf("mailbox: read part failed: %v", err)
			break
		}
		header, ok := part.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := header.Filename()
		if err != nil || strings.TrimSpace(filename) == "" {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(filename), archiveSuffix) {
			continue
		}
		path, err := writeAttachment(part.Body, destDir, filename)
		if err != nil {
			return "", false, err
		}
		return path, true, nil
	}
	return "", false, nil
}

func writeAttachment(body io.Reader, destDir, filename string) (string, error) {
	// Strip any directory components a hostile sender put in the name.
	path := filepath.Join(destDir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create attachment file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("write attachment %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close attachment %s: %w", path, err)
	}
	return path, nil
}
