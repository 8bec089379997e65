package scm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrCloneTimeout is returned when a clone exceeds its deadline. The code
// generator falls back to the deterministic tier on this error.
var ErrCloneTimeout = errors.New("scm: clone timed out")

// Cloner checks out repositories into a working directory with a bounded
// timeout per clone.
type Cloner struct {
	Timeout time.Duration
}

// NewCloner returns a Cloner with the given per-clone timeout.
func NewCloner(timeout time.Duration) *Cloner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Cloner{Timeout: timeout}
}

// Clone performs a shallow single-branch clone into dir.
func (c *Cloner) Clone(ctx context.Context, url, branch, dir string) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}

	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrCloneTimeout, url, c.Timeout)
		}
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// ListFiles returns all regular file paths in the checkout, relative to root,
// skipping the .git directory.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// ReadFileBounded reads a file from the checkout, returning empty content if
// the file is missing or larger than maxBytes.
func ReadFileBounded(root, rel string, maxBytes int64) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
