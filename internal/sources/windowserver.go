package sources

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/wsdk"
)

// NotifyCode identifies a window-server connection notification (spec
// §4.4.2). Values are this implementation's own numbering, passed through
// to wsdk.RegisterConnectionNotify — the host's actual notification codes
// are resolved once, at the call site that builds the wsdk.Funcs table.
type NotifyCode int

const (
	NotifySpaceCreated NotifyCode = iota
	NotifySpaceDestroyed
	NotifyWindowOrdered
	NotifyWindowDestroyed
	NotifyMissionControlEnter
	NotifyMissionControlExit
)

// WindowServerSource subscribes to the window-server connection
// notifications in spec §4.4.2 and translates each into the matching
// Event. SpaceDestroyed is macOS 13+ only and WindowDestroyed is macOS
// 15+ only — the caller (internal/gate, via daemon bootstrap) decides
// which codes to pass to Subscribe based on the detected OS version;
// this source has no opinion on OS gating.
type WindowServerSource struct {
	sdk    *wsdk.SDK
	queue  *eventqueue.Queue
	logger *slog.Logger

	mu     sync.Mutex
	unregs map[NotifyCode]func()
}

// NewWindowServerSource constructs a source bound to sdk.
func NewWindowServerSource(sdk *wsdk.SDK, queue *eventqueue.Queue, logger *slog.Logger) *WindowServerSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowServerSource{
		sdk:    sdk,
		queue:  queue,
		logger: logger,
		unregs: make(map[NotifyCode]func()),
	}
}

// Subscribe registers every code in codes. A code whose registration fails
// (commonly wsdk.ErrUnsupported, when the symbol wasn't resolved at
// startup — spec §6.3's "missing symbols degrade capabilities rather than
// abort") is logged and skipped; the rest still register.
func (s *WindowServerSource) Subscribe(codes []NotifyCode) {
	for _, code := range codes {
		code := code
		unregister, err := s.sdk.RegisterConnectionNotify(int(code), func(payload []byte) {
			s.handle(code, payload)
		})
		if err != nil {
			s.logger.Warn("window-server notification unavailable", "code", code, "error", err)
			continue
		}
		s.mu.Lock()
		s.unregs[code] = unregister
		s.mu.Unlock()
	}
}

// Stop tears down every live subscription.
func (s *WindowServerSource) Stop() {
	s.mu.Lock()
	unregs := s.unregs
	s.unregs = make(map[NotifyCode]func())
	s.mu.Unlock()
	for _, unregister := range unregs {
		if unregister != nil {
			unregister()
		}
	}
}

// handle decodes payload for code and posts the matching Event. Payload
// layout: space-created/destroyed carry an 8-byte little-endian sid;
// window-ordered/destroyed carry a 4-byte little-endian wid;
// mission-control enter/exit carry no payload.
func (s *WindowServerSource) handle(code NotifyCode, payload []byte) {
	now := time.Now()
	switch code {
	case NotifySpaceCreated:
		if len(payload) < 8 {
			return
		}
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSSpaceCreated, Timestamp: now, SID: binary.LittleEndian.Uint64(payload)})
	case NotifySpaceDestroyed:
		if len(payload) < 8 {
			return
		}
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSSpaceDestroyed, Timestamp: now, SID: binary.LittleEndian.Uint64(payload)})
	case NotifyWindowOrdered:
		if len(payload) < 4 {
			return
		}
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSWinOrdered, Timestamp: now, WID: binary.LittleEndian.Uint32(payload)})
	case NotifyWindowDestroyed:
		if len(payload) < 4 {
			return
		}
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSWinDestroyed, Timestamp: now, WID: binary.LittleEndian.Uint32(payload)})
	case NotifyMissionControlEnter:
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSMissionControlEnter, Timestamp: now})
	case NotifyMissionControlExit:
		s.queue.Post(eventqueue.Event{Kind: eventqueue.KindWSMissionControlExit, Timestamp: now})
	}
}
