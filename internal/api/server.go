// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/sly67/imageserve/internal/events"
	"github.com/sly67/imageserve/internal/logging"
	"github.com/sly67/imageserve/internal/metrics"
	"github.com/sly67/imageserve/internal/protocol"
	"github.com/sly67/imageserve/internal/session"
)

// Server is the HTTP server.
type Server struct {
	session     *session.Session
	broadcaster *events.Broadcaster
}

// NewServer creates a new server around the directory session.
// broadcaster may be nil to disable the SSE endpoint's event stream.
func NewServer(sess *session.Session, broadcaster *events.Broadcaster) *Server {
	return &Server{
		session:     sess,
		broadcaster: broadcaster,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /load-directory", s.handleLoadDirectory)
	mux.HandleFunc("GET /images/{name}", s.handleImage)
	mux.HandleFunc("POST /unload", s.handleUnload)
	mux.HandleFunc("GET /timeout", s.handleGetTimeout)
	mux.HandleFunc("POST /timeout/{minutes}", s.handleSetTimeout)
	mux.HandleFunc("GET /events", s.handleEvents)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Status ─────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Status()
	if err != nil {
		s.sendSessionError(w, err)
		return
	}

	info := protocol.ServerInfo{
		CurrentDirectory: snap.Directory,
		ImageCount:       snap.ImageCount,
		ImageList:        snap.Images,
		LoadTime:         snap.LoadTime(),
		AutoUnloadAt:     snap.UnloadTime(),
		TimeRemaining:    snap.Remaining(),
	}
	if snap.Active() && snap.TimeoutMinutes > 0 {
		info.TimeoutMinutes = snap.TimeoutMinutes
	}
	if info.ImageList == nil {
		info.ImageList = []string{}
	}
	s.sendJSON(w, http.StatusOK, info)
}

// ─── Load / unload ──────────────────────────────────────────────────────────

func (s *Server) handleLoadDirectory(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		s.sendError(w, http.StatusBadRequest, "path is required")
		return
	}

	result, err := s.session.Load(req.Path, req.TimeoutMinutes)
	if err != nil {
		s.sendSessionError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.LoadResponse{
		Status:     "success",
		Directory:  result.Directory,
		ImageCount: result.ImageCount,
		Message:    fmt.Sprintf("Loaded %d images from %s", result.ImageCount, result.Directory),
		Timeout:    result.TimeoutMessage,
	})
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	if !s.session.Unload() {
		s.sendJSON(w, http.StatusOK, protocol.UnloadResponse{
			Status:  "info",
			Message: "No directory currently loaded",
		})
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.UnloadResponse{
		Status:  "success",
		Message: "Directory unloaded successfully",
	})
}

// ─── Images ─────────────────────────────────────────────────────────────────

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	path, err := s.session.Resolve(name)
	if err != nil {
		metrics.RecordImageServed(0, false)
		s.sendSessionError(w, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		metrics.RecordImageServed(0, false)
		s.sendError(w, http.StatusNotFound, "image not found: "+name)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		metrics.RecordImageServed(0, false)
		s.sendError(w, http.StatusInternalServerError, "stat failed: "+name)
		return
	}

	// ServeContent handles Content-Type (by extension), Range and
	// conditional requests.
	http.ServeContent(w, r, name, info.ModTime(), f)
	metrics.RecordImageServed(info.Size(), true)
}

// ─── Timeout ────────────────────────────────────────────────────────────────

func (s *Server) handleGetTimeout(w http.ResponseWriter, r *http.Request) {
	minutes := s.session.DefaultTimeout()
	s.sendJSON(w, http.StatusOK, protocol.TimeoutResponse{
		TimeoutMinutes: minutes,
		TimeoutEnabled: minutes > 0,
	})
}

func (s *Server) handleSetTimeout(w http.ResponseWriter, r *http.Request) {
	minutes, err := strconv.Atoi(r.PathValue("minutes"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid timeout value: "+r.PathValue("minutes"))
		return
	}

	result, err := s.session.SetTimeout(minutes)
	if err != nil {
		s.sendSessionError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, protocol.SetTimeoutResponse{
		Status:         "success",
		TimeoutMinutes: result.Minutes,
		TimeoutEnabled: result.Enabled,
		Message:        result.Message,
	})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, http.StatusNotFound, "events not enabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// sendSessionError maps session error taxonomy to HTTP statuses.
func (s *Server) sendSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrForbidden):
		s.sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidArgument):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error("internal error", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
