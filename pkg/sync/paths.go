package sync

import (
	"path"
	"strings"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

// CleanPath converts a path received from the peer into a clean path relative
// to the synced root, using forward slashes. Paths that are empty, refer to
// the root itself, or escape it are rejected.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.MissingFieldError{Field: "path"}
	}

	cleaned := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	cleaned = strings.TrimLeft(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("path %q refers to the sync root", p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("path %q is outside the sync root", p)
	}
	return cleaned, nil
}

// parentDir returns the directory containing relPath, or "." for entries at
// the root.
func parentDir(relPath string) string {
	return path.Dir(relPath)
}
