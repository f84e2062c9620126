package constants

import "strings"

// FileTypes are the coarse source formats an inbox file maps to.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	TXT   = "TXT"
	HEIC  = "HEIC"
)

// AllowedExtensions holds the file extensions picked up from a store inbox.
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tif":  {},
	"tiff": {},
	"heic": {},
	"webp": {},
	"pdf":  {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without the dot) is accepted in an inbox.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// IsHEICExt reports whether ext is a HEIC/HEIF container.
func IsHEICExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "heic", "heif":
		return true
	}
	return false
}

// MapExtToFormat maps a file extension to one of PDF, IMAGE, TXT.
// Returns "" for unsupported extensions.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "txt":
		return TXT
	case "png", "jpg", "jpeg", "tif", "tiff", "webp", "heic", "heif":
		return IMAGE
	default:
		return ""
	}
}

// Artifact suffixes appended to the routed file name.
const (
	ArtifactSuffix      = ".json"
	ErrorArtifactSuffix = ".error.json"
)
