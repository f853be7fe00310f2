package sources

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/model"
)

// Workspace notification names (spec §4.4.3), matching the host's
// notification-center identifiers closely enough to be self-documenting
// at the subscribe call site.
const (
	NotifyActiveSpaceChanged   = "active-space-did-change"
	NotifyActiveDisplayChanged = "active-display-did-change"
	NotifyAppDidLaunch         = "app-did-launch"
	NotifyAppDidTerminate      = "app-did-terminate"
	NotifyAppDidActivate       = "app-did-activate"
	NotifyAppDidHide           = "app-did-hide"
	NotifyAppDidUnhide         = "app-did-unhide"
	NotifySystemDidWake        = "system-did-wake"
	NotifyScreenParamsChanged  = "screen-parameters-did-change"
)

// WorkspaceFuncs is the capability struct for the OS notification-center
// subscription primitive and the application-metadata lookup AppLaunched
// needs (spec §4.4.3 / §4.6).
type WorkspaceFuncs struct {
	// Subscribe registers handler for the named notification and returns
	// an unregister func. A nil Subscribe means workspace notifications
	// are unavailable on this build.
	Subscribe func(name string, handler func(payload []byte)) (unregister func(), err error)

	// AppInfo resolves full application metadata for a pid carried in an
	// app-did-launch payload — the notification itself carries only the
	// pid (spec's event payloads are small; the rest is queried).
	AppInfo func(pid int32) (model.Application, error)
}

// WorkspaceSource subscribes to every workspace-level notification in
// spec §4.4.3 and translates each into the matching Event.
type WorkspaceSource struct {
	fn     WorkspaceFuncs
	queue  *eventqueue.Queue
	logger *slog.Logger

	mu     sync.Mutex
	unregs map[string]func()
}

// NewWorkspaceSource constructs a source bound to fn.
func NewWorkspaceSource(fn WorkspaceFuncs, queue *eventqueue.Queue, logger *slog.Logger) *WorkspaceSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceSource{
		fn:     fn,
		queue:  queue,
		logger: logger,
		unregs: make(map[string]func()),
	}
}

// names is every notification this source subscribes to.
var names = []string{
	NotifyActiveSpaceChanged,
	NotifyActiveDisplayChanged,
	NotifyAppDidLaunch,
	NotifyAppDidTerminate,
	NotifyAppDidActivate,
	NotifyAppDidHide,
	NotifyAppDidUnhide,
	NotifySystemDidWake,
	NotifyScreenParamsChanged,
}

// Start subscribes to every workspace notification. A notification whose
// registration fails is logged and skipped.
func (s *WorkspaceSource) Start() {
	if s.fn.Subscribe == nil {
		s.logger.Warn("workspace notifications unavailable on this build")
		return
	}
	for _, name := range names {
		name := name
		unregister, err := s.fn.Subscribe(name, func(payload []byte) { s.handle(name, payload) })
		if err != nil {
			s.logger.Warn("workspace notification unavailable", "name", name, "error", err)
			continue
		}
		s.mu.Lock()
		s.unregs[name] = unregister
		s.mu.Unlock()
	}
}

// Stop tears down every live subscription.
func (s *WorkspaceSource) Stop() {
	s.mu.Lock()
	unregs := s.unregs
	s.unregs = make(map[string]func())
	s.mu.Unlock()
	for _, unregister := range unregs {
		if unregister != nil {
			unregister()
		}
	}
}

// handle decodes payload for name and posts the matching Event. App
// lifecycle payloads carry a 4-byte little-endian pid; the rest carry no
// payload — their handlers (spec §4.6) re-query the model wholesale.
func (s *WorkspaceSource) handle(name string, payload []byte) {
	now := time.Now()
	switch name {
	case NotifyActiveSpaceChanged, NotifyActiveDisplayChanged:
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindSpaceChanged, Timestamp: now})
	case NotifyScreenParamsChanged:
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindDisplayConfigurationChanged, Timestamp: now})
	case NotifySystemDidWake:
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindSystemWoke, Timestamp: now})
	case NotifyAppDidLaunch:
		pid, ok := decodePID(payload)
		if !ok {
			return
		}
		var app *model.Application
		if s.fn.AppInfo != nil {
			if a, err := s.fn.AppInfo(pid); err == nil {
				app = &a
			} else {
				s.logger.Debug("app info lookup failed", "pid", pid, "error", err)
				return
			}
		}
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindAppLaunched, Timestamp: now, PID: pid, App: app})
	case NotifyAppDidTerminate:
		if pid, ok := decodePID(payload); ok {
			s.queue.Post(eventqueue.Event{Kind: eventqueue.KindAppTerminated, Timestamp: now, PID: pid})
		}
	case NotifyAppDidActivate:
		if pid, ok := decodePID(payload); ok {
			s.queue.Post(eventqueue.Event{Kind: eventqueue.KindAppActivated, Timestamp: now, PID: pid})
		}
	case NotifyAppDidHide:
		if pid, ok := decodePID(payload); ok {
			s.queue.Post(eventqueue.Event{Kind: eventqueue.KindAppHidden, Timestamp: now, PID: pid})
		}
	case NotifyAppDidUnhide:
		if pid, ok := decodePID(payload); ok {
			s.queue.Post(eventqueue.Event{Kind: eventqueue.KindAppUnhidden, Timestamp: now, PID: pid})
		}
	}
}

func decodePID(payload []byte) (int32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(payload)), true
}
