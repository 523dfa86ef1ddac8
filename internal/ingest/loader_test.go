package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSupportedFile(t *testing.T) {
	supported := []string{"notes.txt", "README.md", "guide.markdown", "data.json", "rows.jsonl", "table.csv", "UPPER.TXT"}
	for _, name := range supported {
		assert.True(t, SupportedFile(name), "%s should be supported", name)
	}
	unsupported := []string{"image.png", "doc.pdf", "archive.zip", "binary", "script.sh"}
	for _, name := range unsupported {
		assert.False(t, SupportedFile(name), "%s should not be supported", name)
	}
}

func TestExtractText(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "faq.txt", "Shipping takes 3-5 days.\n")

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Shipping takes 3-5 days.\n", text)
}

func TestExtractText_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "slides.pdf", "not really a pdf")

	_, err := ExtractText(path)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestExtractText_MissingFile(t *testing.T) {
	_, err := ExtractText(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestExtractText_RejectsInvalidUTF8(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binary.txt")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x01}, 0o600))

	_, err := ExtractText(path)
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}
