package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// imageExtensions is the fixed allow-list of servable file suffixes.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// IsImage reports whether name has a servable image extension,
// case-insensitively.
func IsImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := imageExtensions[ext]
	return ok
}

// ListImages returns the names of all image files directly inside dir.
// The scan is non-recursive and never cached.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrInvalidArgument, dir, err)
	}

	var images []string
	for _, entry := range entries {
		if entry.IsDir() || !IsImage(entry.Name()) {
			continue
		}
		images = append(images, entry.Name())
	}
	return images, nil
}
