// Package session owns the single mutable directory-serving slot and its
// auto-unload timer. All mutation funnels through one mutex; pending timers
// are never cancelled directly — each armed timer carries the generation it
// was armed for and does nothing if the session has moved on.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sly67/imageserve/internal/events"
	"github.com/sly67/imageserve/internal/logging"
	"github.com/sly67/imageserve/internal/metrics"
)

// timeLayout formats absolute timestamps in responses.
const timeLayout = "2006-01-02 15:04:05"

// Session is the process-wide directory session. The zero directory string
// means no session is active; dir, loadedAt and timeoutMinutes are set and
// cleared as a unit.
type Session struct {
	mu             sync.Mutex
	dir            string
	loadedAt       time.Time
	generation     uint64
	timeoutMinutes int

	// defaultTimeout is the configured default applied when a load does
	// not carry its own timeout. Mutated by SetTimeout.
	defaultTimeout int

	broadcaster *events.Broadcaster

	// tick is the duration of one timeout "minute". Tests shrink it.
	tick time.Duration
	now  func() time.Time
}

// Snapshot is a consistent read-only view of the session.
type Snapshot struct {
	Directory      string
	Images         []string
	ImageCount     int
	LoadedAt       time.Time
	TimeoutMinutes int
	AutoUnloadAt   time.Time
	TimeRemaining  time.Duration
	Generation     uint64
}

// Active reports whether the snapshot describes a loaded directory.
func (s Snapshot) Active() bool {
	return s.Directory != ""
}

// LoadTime returns the formatted load timestamp, or "" when inactive.
func (s Snapshot) LoadTime() string {
	if !s.Active() {
		return ""
	}
	return s.LoadedAt.Format(timeLayout)
}

// UnloadTime returns the formatted auto-unload timestamp, or "" when
// no timeout applies.
func (s Snapshot) UnloadTime() string {
	if s.AutoUnloadAt.IsZero() {
		return ""
	}
	return s.AutoUnloadAt.Format(timeLayout)
}

// Remaining returns the remaining time as "Xm Ys", or "" when no timeout
// applies.
func (s Snapshot) Remaining() string {
	if s.AutoUnloadAt.IsZero() {
		return ""
	}
	secs := int(s.TimeRemaining.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// LoadResult is returned by Load.
type LoadResult struct {
	Snapshot
	TimeoutMessage string
}

// TimeoutResult is returned by SetTimeout.
type TimeoutResult struct {
	Minutes int
	Enabled bool
	Message string
}

// New creates the session in the empty state. defaultTimeout is the
// configured auto-unload default in minutes (0 = disabled). broadcaster
// may be nil.
func New(defaultTimeout int, broadcaster *events.Broadcaster) *Session {
	return &Session{
		defaultTimeout: defaultTimeout,
		broadcaster:    broadcaster,
		tick:           time.Minute,
		now:            time.Now,
	}
}

// Load replaces any active session with one serving path. When
// timeoutMinutes is non-nil it overrides the configured default for this
// session. Each call fully supersedes the previous session: the generation
// bump makes any previously armed timer a no-op.
func (s *Session) Load(path string, timeoutMinutes *int) (LoadResult, error) {
	if timeoutMinutes != nil && *timeoutMinutes < 0 {
		return LoadResult{}, fmt.Errorf("%w: timeout_minutes must be >= 0", ErrInvalidArgument)
	}

	dir, err := normalizeDir(path)
	if err != nil {
		return LoadResult{}, err
	}

	// Scan before taking the lock; a failed scan leaves the previous
	// session untouched.
	images, err := ListImages(dir)
	if err != nil {
		return LoadResult{}, err
	}

	s.mu.Lock()
	effective := s.defaultTimeout
	if timeoutMinutes != nil {
		effective = *timeoutMinutes
	}
	s.dir = dir
	s.loadedAt = s.now()
	s.generation++
	s.timeoutMinutes = effective
	gen := s.generation
	loadedAt := s.loadedAt
	if effective > 0 {
		s.armLocked(gen, effective)
	}
	s.mu.Unlock()

	metrics.RecordDirectoryLoad(len(images))

	result := LoadResult{
		Snapshot: Snapshot{
			Directory:      dir,
			Images:         images,
			ImageCount:     len(images),
			LoadedAt:       loadedAt,
			TimeoutMinutes: effective,
			Generation:     gen,
		},
	}
	if effective > 0 {
		unloadAt := loadedAt.Add(time.Duration(effective) * s.tick)
		result.AutoUnloadAt = unloadAt
		result.TimeRemaining = time.Duration(effective) * s.tick
		result.TimeoutMessage = fmt.Sprintf(
			"Directory will be automatically unloaded at %s (%d minutes)",
			unloadAt.Format(timeLayout), effective)
	} else {
		result.TimeoutMessage = "No auto-unload timeout set"
	}

	logging.Info("directory loaded",
		zap.String("directory", dir),
		zap.Int("images", len(images)),
		zap.Int("timeout_minutes", effective),
		zap.Uint64("generation", gen))

	s.publish(events.Event{
		Type:           events.EventLoaded,
		Directory:      dir,
		ImageCount:     len(images),
		TimeoutMinutes: effective,
		Generation:     gen,
	})

	return result, nil
}

// Unload clears the active session. Unloading an empty session is a valid
// no-op and returns false.
func (s *Session) Unload() bool {
	s.mu.Lock()
	if s.dir == "" {
		s.mu.Unlock()
		return false
	}
	dir := s.dir
	gen := s.clearLocked()
	s.mu.Unlock()

	metrics.SetSessionState(false, 0)
	logging.Info("directory unloaded", zap.String("directory", dir), zap.Uint64("generation", gen))
	s.publish(events.Event{Type: events.EventUnloaded, Directory: dir, Generation: gen})
	return true
}

// SetTimeout updates the configured default timeout. When a session is
// active the countdown restarts from now under the new value; the
// generation bump invalidates any timer armed under the old one.
func (s *Session) SetTimeout(minutes int) (TimeoutResult, error) {
	if minutes < 0 {
		return TimeoutResult{}, fmt.Errorf("%w: timeout minutes must be >= 0 (0 = disabled)", ErrInvalidArgument)
	}

	s.mu.Lock()
	s.defaultTimeout = minutes

	if s.dir == "" {
		s.mu.Unlock()
		return TimeoutResult{
			Minutes: minutes,
			Enabled: minutes > 0,
			Message: fmt.Sprintf("Timeout set to %d minutes. Will apply to next loaded directory.", minutes),
		}, nil
	}

	s.loadedAt = s.now()
	s.generation++
	s.timeoutMinutes = minutes
	gen := s.generation
	loadedAt := s.loadedAt
	if minutes > 0 {
		s.armLocked(gen, minutes)
	}
	s.mu.Unlock()

	var msg string
	if minutes > 0 {
		unloadAt := loadedAt.Add(time.Duration(minutes) * s.tick)
		msg = fmt.Sprintf("Timeout set to %d minutes. Directory will be unloaded at %s",
			minutes, unloadAt.Format(timeLayout))
	} else {
		msg = "Timeout disabled. Directory will remain loaded until manually unloaded or server is restarted."
	}

	logging.Info("timeout reconfigured", zap.Int("minutes", minutes), zap.Uint64("generation", gen))
	s.publish(events.Event{Type: events.EventTimeoutChanged, TimeoutMinutes: minutes, Generation: gen})

	return TimeoutResult{Minutes: minutes, Enabled: minutes > 0, Message: msg}, nil
}

// DefaultTimeout returns the configured default timeout in minutes.
func (s *Session) DefaultTimeout() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultTimeout
}

// Resolve validates name against the active session and returns the
// absolute path to serve. The joined path must stay inside the served
// directory.
func (s *Session) Resolve(name string) (string, error) {
	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()

	if dir == "" {
		return "", ErrNoSession
	}

	full := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrForbidden, name)
	}

	if !IsImage(name) {
		return "", fmt.Errorf("%w: not an image: %s", ErrInvalidArgument, name)
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: image not found: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("%w: stat %s: %v", ErrInvalidArgument, name, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: not a file: %s", ErrInvalidArgument, name)
	}

	return full, nil
}

// Status derives a fresh snapshot. The listing is recomputed on every call
// so it reflects filesystem changes made after load. Pure read: the
// generation is never touched.
func (s *Session) Status() (Snapshot, error) {
	s.mu.Lock()
	dir := s.dir
	loadedAt := s.loadedAt
	timeout := s.timeoutMinutes
	gen := s.generation
	s.mu.Unlock()

	if dir == "" {
		return Snapshot{Generation: gen}, nil
	}

	images, err := ListImages(dir)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Directory:      dir,
		Images:         images,
		ImageCount:     len(images),
		LoadedAt:       loadedAt,
		TimeoutMinutes: timeout,
		Generation:     gen,
	}
	if timeout > 0 {
		snap.AutoUnloadAt = loadedAt.Add(time.Duration(timeout) * s.tick)
		remaining := snap.AutoUnloadAt.Sub(s.now())
		if remaining < 0 {
			remaining = 0
		}
		snap.TimeRemaining = remaining
	}
	return snap, nil
}

// armLocked schedules an expiry check for gen after minutes elapse.
// Callers hold the mutex. The timer handle is deliberately dropped:
// supersession by generation is the only cancellation mechanism.
func (s *Session) armLocked(gen uint64, minutes int) {
	logging.Info("auto-unload timer armed",
		zap.Int("minutes", minutes),
		zap.Uint64("generation", gen))
	time.AfterFunc(time.Duration(minutes)*s.tick, func() {
		s.expire(gen, minutes)
	})
}

// expire runs when an armed timer fires. A generation mismatch means the
// session was reloaded, unloaded, or reconfigured in the interim and this
// timer is stale.
func (s *Session) expire(gen uint64, minutes int) {
	s.mu.Lock()
	if s.dir == "" || s.generation != gen {
		s.mu.Unlock()
		metrics.RecordStaleTimerWakeup()
		logging.Debug("stale auto-unload timer fired", zap.Uint64("generation", gen))
		return
	}
	dir := s.dir
	newGen := s.clearLocked()
	s.mu.Unlock()

	metrics.RecordTimerExpiration()
	metrics.SetSessionState(false, 0)
	logging.Info("directory auto-unloaded after timeout",
		zap.String("directory", dir),
		zap.Int("minutes", minutes))
	s.publish(events.Event{Type: events.EventExpired, Directory: dir, Generation: newGen})
}

// clearLocked resets to the empty state and returns the new generation.
// Callers hold the mutex.
func (s *Session) clearLocked() uint64 {
	s.dir = ""
	s.loadedAt = time.Time{}
	s.timeoutMinutes = 0
	s.generation++
	return s.generation
}

func (s *Session) publish(e events.Event) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Publish(e)
}

// normalizeDir expands a leading ~, makes the path absolute and verifies
// it is an existing directory.
func normalizeDir(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidArgument, path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: directory not found: %s", ErrNotFound, abs)
		}
		return "", fmt.Errorf("%w: stat %s: %v", ErrInvalidArgument, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %s", ErrInvalidArgument, abs)
	}
	return abs, nil
}
