package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for file loading.
var (
	// ErrUnsupportedFile indicates a file type the loader cannot extract
	// text from.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrFileTooLarge indicates the file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

// MaxFileSize bounds a single training file. Larger uploads are rejected
// rather than silently truncated.
const MaxFileSize = 10 * 1024 * 1024 // 10MB

// supportedExtensions are the plain-text formats training material may use.
var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".json":     true,
	".jsonl":    true,
	".csv":      true,
}

// SupportedFile reports whether the loader can extract text from path.
func SupportedFile(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// ExtractText reads a training file and returns its text content.
func ExtractText(path string) (string, error) {
	if !SupportedFile(path) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("checking file %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- caller supplies training file paths
	if err != nil {
		return "", fmt.Errorf("reading file %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedFile, path)
	}
	return string(data), nil
}
