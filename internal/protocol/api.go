// Package protocol defines the wire types shared by the server and client.
package protocol

// ServerInfo is the session snapshot returned by GET /.
type ServerInfo struct {
	CurrentDirectory string   `json:"current_directory,omitempty"`
	ImageCount       int      `json:"image_count"`
	ImageList        []string `json:"image_list"`
	LoadTime         string   `json:"load_time,omitempty"`
	TimeoutMinutes   int      `json:"timeout_minutes,omitempty"`
	AutoUnloadAt     string   `json:"auto_unload_at,omitempty"`
	TimeRemaining    string   `json:"time_remaining,omitempty"`
}

// LoadRequest is the body of POST /load-directory.
type LoadRequest struct {
	Path string `json:"path"`
	// TimeoutMinutes overrides the configured default when set.
	TimeoutMinutes *int `json:"timeout_minutes,omitempty"`
}

// LoadResponse is the body of a successful POST /load-directory.
type LoadResponse struct {
	Status     string `json:"status"`
	Directory  string `json:"directory"`
	ImageCount int    `json:"image_count"`
	Message    string `json:"message"`
	Timeout    string `json:"timeout"`
}

// UnloadResponse is the body of POST /unload.
type UnloadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TimeoutResponse is the body of GET /timeout.
type TimeoutResponse struct {
	TimeoutMinutes int  `json:"timeout_minutes"`
	TimeoutEnabled bool `json:"timeout_enabled"`
}

// SetTimeoutResponse is the body of POST /timeout/{minutes}.
type SetTimeoutResponse struct {
	Status         string `json:"status"`
	TimeoutMinutes int    `json:"timeout_minutes"`
	TimeoutEnabled bool   `json:"timeout_enabled"`
	Message        string `json:"message"`
}

// ErrorResponse is the body of any error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
