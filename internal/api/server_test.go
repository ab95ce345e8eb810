package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sly67/imageserve/internal/events"
	"github.com/sly67/imageserve/internal/protocol"
	"github.com/sly67/imageserve/internal/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	sess := session.New(0, events.NewBroadcaster())
	ts := httptest.NewServer(NewServer(sess, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func imageDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("imgdata-"+name), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	resp, err := http.Post(url, "application/json", reader)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func loadDir(t *testing.T, ts *httptest.Server, dir string, timeout *int) protocol.LoadResponse {
	t.Helper()
	resp := postJSON(t, ts.URL+"/load-directory", protocol.LoadRequest{Path: dir, TimeoutMinutes: timeout})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("load failed: %d %s", resp.StatusCode, body)
	}
	return decode[protocol.LoadResponse](t, resp)
}

func TestStatusEmpty(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	info := decode[protocol.ServerInfo](t, resp)
	if info.CurrentDirectory != "" || info.ImageCount != 0 {
		t.Errorf("expected empty snapshot, got %+v", info)
	}
	if info.ImageList == nil {
		t.Error("image_list should be [], not null")
	}
	if info.TimeRemaining != "" || info.AutoUnloadAt != "" {
		t.Errorf("empty session must not carry timing fields: %+v", info)
	}
}

func TestLoadFetchScenario(t *testing.T) {
	ts := newTestServer(t)
	dir := imageDir(t, "a.jpg", "b.png", "notes.txt")

	loaded := loadDir(t, ts, dir, nil)
	if loaded.ImageCount != 2 {
		t.Errorf("image_count = %d, want 2", loaded.ImageCount)
	}
	if loaded.Status != "success" {
		t.Errorf("status = %q", loaded.Status)
	}
	if !strings.Contains(loaded.Message, "Loaded 2 images") {
		t.Errorf("message = %q", loaded.Message)
	}

	// Listing reflects only the images
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	info := decode[protocol.ServerInfo](t, resp)
	if len(info.ImageList) != 2 {
		t.Errorf("image_list = %v", info.ImageList)
	}

	// Fetching an image returns its bytes with an image content type
	resp, err = http.Get(ts.URL + "/images/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch a.jpg: status %d", resp.StatusCode)
	}
	if string(body) != "imgdata-a.jpg" {
		t.Errorf("fetch a.jpg: body %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/jpeg") {
		t.Errorf("content type = %q", ct)
	}

	// Non-image file in the directory is rejected
	resp, err = http.Get(ts.URL + "/images/notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("fetch notes.txt: status %d, want 400", resp.StatusCode)
	}

	// Missing image
	resp, err = http.Get(ts.URL + "/images/missing.jpg")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("fetch missing.jpg: status %d, want 404", resp.StatusCode)
	}
}

func TestFetchWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/images/a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFetchPathTraversal(t *testing.T) {
	ts := newTestServer(t)
	dir := imageDir(t, "a.jpg")
	loadDir(t, ts, dir, nil)

	// Plant a file outside the served directory.
	outside := filepath.Join(filepath.Dir(dir), "secret.jpg")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/images/" + url.PathEscape("../secret.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if string(body) == "secret" {
		t.Error("traversal returned file bytes")
	}
}

func TestLoadErrors(t *testing.T) {
	ts := newTestServer(t)
	dir := imageDir(t, "a.jpg")

	// Missing path
	resp := postJSON(t, ts.URL+"/load-directory", protocol.LoadRequest{Path: filepath.Join(dir, "nope")})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing dir: status %d, want 404", resp.StatusCode)
	}

	// Exists but not a directory
	resp = postJSON(t, ts.URL+"/load-directory", protocol.LoadRequest{Path: filepath.Join(dir, "a.jpg")})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("not a dir: status %d, want 400", resp.StatusCode)
	}

	// Empty body
	resp = postJSON(t, ts.URL+"/load-directory", protocol.LoadRequest{})
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty path: status %d, want 400", resp.StatusCode)
	}
}

func TestUnloadIdempotent(t *testing.T) {
	ts := newTestServer(t)
	dir := imageDir(t, "a.jpg")
	loadDir(t, ts, dir, nil)

	resp := postJSON(t, ts.URL+"/unload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first unload: status %d", resp.StatusCode)
	}
	first := decode[protocol.UnloadResponse](t, resp)
	if first.Status != "success" {
		t.Errorf("first unload status = %q", first.Status)
	}

	resp = postJSON(t, ts.URL+"/unload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second unload: status %d", resp.StatusCode)
	}
	second := decode[protocol.UnloadResponse](t, resp)
	if second.Status != "info" {
		t.Errorf("second unload status = %q, want info", second.Status)
	}
}

func TestTimeoutEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/timeout")
	if err != nil {
		t.Fatal(err)
	}
	current := decode[protocol.TimeoutResponse](t, resp)
	if current.TimeoutMinutes != 0 || current.TimeoutEnabled {
		t.Errorf("default timeout = %+v", current)
	}

	resp = postJSON(t, ts.URL+"/timeout/5", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set timeout: status %d", resp.StatusCode)
	}
	set := decode[protocol.SetTimeoutResponse](t, resp)
	if set.TimeoutMinutes != 5 || !set.TimeoutEnabled {
		t.Errorf("set timeout = %+v", set)
	}

	resp, err = http.Get(ts.URL + "/timeout")
	if err != nil {
		t.Fatal(err)
	}
	current = decode[protocol.TimeoutResponse](t, resp)
	if current.TimeoutMinutes != 5 || !current.TimeoutEnabled {
		t.Errorf("timeout after set = %+v", current)
	}

	resp = postJSON(t, ts.URL+"/timeout/-1", nil)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative timeout: status %d, want 400", resp.StatusCode)
	}
}

func TestLoadWithTimeoutReportsDisposition(t *testing.T) {
	ts := newTestServer(t)
	dir := imageDir(t, "a.jpg")

	minutes := 5
	loaded := loadDir(t, ts, dir, &minutes)
	if !strings.Contains(loaded.Timeout, "automatically unloaded at") {
		t.Errorf("timeout disposition = %q", loaded.Timeout)
	}

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	info := decode[protocol.ServerInfo](t, resp)
	if info.TimeoutMinutes != 5 {
		t.Errorf("timeout_minutes = %d, want 5", info.TimeoutMinutes)
	}
	if info.TimeRemaining == "" || info.AutoUnloadAt == "" {
		t.Errorf("expected timing fields, got %+v", info)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d", resp.StatusCode)
	}
}
