package client

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/sly67/imageserve/internal/protocol"
)

func TestBuildManifestSortsURLs(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:7779"})
	info := &protocol.ServerInfo{
		CurrentDirectory: "/photos/batch1",
		ImageCount:       3,
		ImageList:        []string{"c.webp", "a.jpg", "b.png"},
	}

	m := c.BuildManifest(info)
	if m.Count != 3 {
		t.Errorf("count = %d, want 3", m.Count)
	}
	want := []string{
		"http://localhost:7779/images/a.jpg",
		"http://localhost:7779/images/b.png",
		"http://localhost:7779/images/c.webp",
	}
	for i, u := range want {
		if m.ImageURLs[i] != u {
			t.Errorf("url[%d] = %q, want %q", i, m.ImageURLs[i], u)
		}
	}
	if m.Directory != "/photos/batch1" {
		t.Errorf("directory = %q", m.Directory)
	}
}

func TestManifestFilename(t *testing.T) {
	name := ManifestFilename("/photos/batch1")
	if !strings.HasPrefix(name, "batch1_") || !strings.HasSuffix(name, ".json") {
		t.Errorf("unexpected manifest name %q", name)
	}
}

func TestWriteManifest(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost:7779"})
	m := c.BuildManifest(&protocol.ServerInfo{
		CurrentDirectory: "/photos/batch1",
		ImageList:        []string{"a.jpg"},
	})

	outDir := t.TempDir()
	path, err := WriteManifest(m, outDir, "custom.json")
	if err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if decoded.Count != 1 || len(decoded.ImageURLs) != 1 {
		t.Errorf("decoded manifest = %+v", decoded)
	}
	if decoded.GeneratedAt == "" {
		t.Error("expected generated_at timestamp")
	}
}
