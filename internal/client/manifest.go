package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sly67/imageserve/internal/protocol"
)

// Manifest is the JSON document handed to downstream embedding workflows:
// one servable URL per image in the loaded directory.
type Manifest struct {
	ServerURL   string   `json:"server_url"`
	Directory   string   `json:"directory"`
	Count       int      `json:"count"`
	ImageURLs   []string `json:"image_urls"`
	GeneratedAt string   `json:"generated_at"`
	Message     string   `json:"message"`
}

// BuildManifest derives a manifest from a session snapshot. URLs are
// sorted by image name for stable output.
func (c *Client) BuildManifest(info *protocol.ServerInfo) *Manifest {
	names := append([]string(nil), info.ImageList...)
	sort.Strings(names)

	urls := make([]string, 0, len(names))
	for _, name := range names {
		urls = append(urls, c.ImageURL(name))
	}

	return &Manifest{
		ServerURL:   c.baseURL,
		Directory:   info.CurrentDirectory,
		Count:       len(urls),
		ImageURLs:   urls,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Message:     fmt.Sprintf("Generated URLs for %d images", len(urls)),
	}
}

// ManifestFilename builds the default manifest name for a directory:
// the folder name plus a timestamp.
func ManifestFilename(directory string) string {
	folder := filepath.Base(directory)
	if folder == "." || folder == string(filepath.Separator) {
		folder = "images"
	}
	return fmt.Sprintf("%s_%s.json", folder, time.Now().Format("20060102_150405"))
}

// WriteManifest writes the manifest under outputDir, creating the
// directory if needed, and returns the full path. An empty filename picks
// a generated one.
func WriteManifest(m *Manifest, outputDir, filename string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", outputDir, err)
	}
	if filename == "" {
		filename = ManifestFilename(m.Directory)
	}

	path := filepath.Join(outputDir, filename)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest %s: %w", path, err)
	}
	return path, nil
}
