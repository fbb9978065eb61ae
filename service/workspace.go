package service

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace is the local directory where fetched objects land: either a
// per-run scratch directory removed by Close, or a persistent raw-data
// directory that doubles as the idempotency cache across runs.
type Workspace struct {
	Root string
	keep bool
}

// NewWorkspace prepares the fetch destination. With keepDir set, the
// directory is created if needed and survives the run. Otherwise a unique
// scratch directory is created under workRoot (the os temp dir by default).
func NewWorkspace(workRoot, keepDir string) (*Workspace, error) {
	if keepDir != "" {
		if err := os.MkdirAll(keepDir, 0766); err != nil {
			return nil, fmt.Errorf("NewWorkspace.MkdirAll: %w", err)
		}
		return &Workspace{Root: keepDir, keep: true}, nil
	}
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	root := filepath.Join(workRoot, "satseries_"+uuid.New().String())
	if err := os.MkdirAll(root, 0766); err != nil {
		return nil, fmt.Errorf("NewWorkspace.MkdirAll: %w", err)
	}
	return &Workspace{Root: root}, nil
}

// Close removes the scratch directory unless the workspace is persistent.
func (w *Workspace) Close() error {
	if w.keep {
		return nil
	}
	return os.RemoveAll(w.Root)
}

// Path returns the local path of the given object name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// Exists returns whether the object is already present under its final name.
func (w *Workspace) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// TmpPath returns a unique sibling of the final path, for staging a download
// before the rename that publishes it. A partial file is never visible under
// the final name.
func (w *Workspace) TmpPath(name string) string {
	return w.Path(name) + ".tmp." + uuid.New().String()
}

// Commit publishes a staged file under its final name.
func (w *Workspace) Commit(tmpPath, name string) error {
	if err := os.Rename(tmpPath, w.Path(name)); err != nil {
		return fmt.Errorf("Commit.Rename: %w", err)
	}
	return nil
}

// WithExt replaces the extension of filePath
func WithExt(filePath string, ext string) string {
	filePath = strings.TrimSuffix(filePath, filepath.Ext(filePath))
	if ext != "" {
		return fmt.Sprintf("%s.%s", filePath, ext)
	}
	return filePath
}

// GetExt returns the extension of filePath, honouring the composed archive
// extensions (tar.gz, tar.bz2, tar.xz)
func GetExt(filePath string) string {
	ext := path.Ext(filePath)
	if ext == "" {
		return ""
	}
	if stem := strings.TrimSuffix(filePath, ext); strings.HasSuffix(stem, ".tar") {
		return "tar" + ext
	}
	return ext[1:]
}
