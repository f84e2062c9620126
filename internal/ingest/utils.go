package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// AllowedExt checks if a file extension is accepted in an inbox.
func AllowedExt(ext string) bool {
	return constants.IsAllowedExt(ext)
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// ArtifactPath returns the audit artifact path for a file.
func ArtifactPath(filePath string, failed bool) string {
	if failed {
		return filePath + constants.ErrorArtifactSuffix
	}
	return filePath + constants.ArtifactSuffix
}

func withCounter(base string, n int) string {
	if n == 0 {
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// ".jpg" style names: treat the whole name as the stem
		return base + "-" + itoa(n)
	}
	return stem + "-" + itoa(n) + ext
}
