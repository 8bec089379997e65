package scm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCloner_DefaultTimeout(t *testing.T) {
	c := NewCloner(0)
	assert.Equal(t, 2*time.Minute, c.Timeout)

	c = NewCloner(30 * time.Second)
	assert.Equal(t, 30*time.Second, c.Timeout)
}

func TestListFiles_SkipsGitDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "static"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "static", "style.css"), []byte("body{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>"), 0644))

	files, err := ListFiles(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static/style.css", "index.html"}, files)
}

func TestReadFileBounded(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "small.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), make([]byte, 100), 0644))

	content, err := ReadFileBounded(root, "small.txt", 50)
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	// Oversized files come back empty so the generator writes from scratch
	content, err = ReadFileBounded(root, "big.txt", 50)
	require.NoError(t, err)
	assert.Empty(t, content)

	// Missing files are not an error
	content, err = ReadFileBounded(root, "missing.txt", 50)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestNumberFromURL(t *testing.T) {
	assert.Equal(t, 42, numberFromURL("https://github.com/acme/app/issues/42"))
	assert.Equal(t, 7, numberFromURL("https://github.com/acme/app/pull/7"))
	assert.Equal(t, 0, numberFromURL("https://github.com/acme/app"))
	assert.Equal(t, 0, numberFromURL(""))
}
