// Package client provides an HTTP client for the image server and a JSON
// manifest writer for batch workflows.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sly67/imageserve/internal/protocol"
)

// Client talks to a running image server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    20,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsRunning reports whether the server answers its status endpoint.
func (c *Client) IsRunning() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Status fetches the current session snapshot.
func (c *Client) Status() (*protocol.ServerInfo, error) {
	var info protocol.ServerInfo
	if err := c.getJSON("/", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Load loads a directory on the server. timeoutMinutes may be nil to use
// the server's configured default.
func (c *Client) Load(path string, timeoutMinutes *int) (*protocol.LoadResponse, error) {
	req := protocol.LoadRequest{Path: path, TimeoutMinutes: timeoutMinutes}
	var resp protocol.LoadResponse
	if err := c.postJSON("/load-directory", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unload unloads the current directory, if any.
func (c *Client) Unload() (*protocol.UnloadResponse, error) {
	var resp protocol.UnloadResponse
	if err := c.postJSON("/unload", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetTimeout sets the server's auto-unload timeout in minutes.
func (c *Client) SetTimeout(minutes int) (*protocol.SetTimeoutResponse, error) {
	var resp protocol.SetTimeoutResponse
	if err := c.postJSON(fmt.Sprintf("/timeout/%d", minutes), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ImageURL returns the serving URL for an image name.
func (c *Client) ImageURL(name string) string {
	return c.baseURL + "/images/" + url.PathEscape(name)
}

// VerifyImage fetches an image and reports its size. Used by batch
// workflows to confirm each URL is servable before handing it downstream.
func (c *Client) VerifyImage(name string) (int64, error) {
	resp, err := c.httpClient.Get(c.ImageURL(name))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("fetch %s: %s", name, resp.Status)
	}
	return io.Copy(io.Discard, resp.Body)
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func (c *Client) postJSON(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr protocol.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", apiErr.Code, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
