package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-worker/internal/common"
)

// Layout resolves the folder structure under one receipts root:
//
//	inbox/<store>, processed/<store>, failed/<store>, _locks
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) Inbox(store string) string     { return filepath.Join(l.Root, "inbox", store) }
func (l Layout) Processed(store string) string { return filepath.Join(l.Root, "processed", store) }
func (l Layout) Failed(store string) string    { return filepath.Join(l.Root, "failed", store) }
func (l Layout) Locks() string                 { return filepath.Join(l.Root, "_locks") }

// RelPath returns p relative to the root, or p itself if it is outside.
func (l Layout) RelPath(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return filepath.ToSlash(rel)
}

// EnsureStoreDirs creates the per-store folders. The root itself must exist.
func (l Layout) EnsureStoreDirs(store string) error {
	st, err := os.Stat(l.Root)
	if err != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrRootMissing, l.Root)
	}
	for _, dir := range []string{l.Inbox(store), l.Processed(store), l.Failed(store)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
