// Package workspace manages the private scratch tree of one analysis.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sub-directory names.
const (
	SrcDir     = "src"
	BinsDir    = "bins"
	StatsDir   = "stats"
	IncludeDir = "include"
)

// Workspace is a temporary directory tree: patched sources, binaries,
// simulator stats and the materialized attachments.
type Workspace struct {
	root string

	mu      sync.Mutex
	removed bool
}

// New creates a workspace under parent (the system temp dir when empty).
func New(parent string) (*Workspace, error) {
	root, err := os.MkdirTemp(parent, "bpscope-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	w := &Workspace{root: root}
	for _, d := range []string{SrcDir, BinsDir, StatsDir, IncludeDir} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}

	return w, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Src returns the directory of patched sources.
func (w *Workspace) Src() string { return filepath.Join(w.root, SrcDir) }

// Bins returns the directory of built binaries.
func (w *Workspace) Bins() string { return filepath.Join(w.root, BinsDir) }

// Stats returns the directory of simulator stats.
func (w *Workspace) Stats() string { return filepath.Join(w.root, StatsDir) }

// Include returns the directory of attachments.
func (w *Workspace) Include() string { return filepath.Join(w.root, IncludeDir) }

// Reset empties the per-run directories so the workspace can serve another
// analysis. Attachments are kept.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed {
		return errors.New("workspace already removed")
	}

	for _, d := range []string{w.Src(), w.Bins(), w.Stats()} {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("failed to reset workspace: %w", err)
		}
		if err := os.Mkdir(d, 0o755); err != nil {
			return fmt.Errorf("failed to reset workspace: %w", err)
		}
	}
	return nil
}

// Remove deletes the whole tree. Removing twice, or a tree someone else
// already deleted, is not an error.
func (w *Workspace) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.removed {
		return nil
	}
	w.removed = true

	if err := os.RemoveAll(w.root); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}
