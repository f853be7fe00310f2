package sources

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/model"
)

// AXEventKind tags which accessibility notification fired. This is our own
// vocabulary over the host's notification names, resolved once at the
// install site rather than re-parsed per callback.
type AXEventKind int

const (
	AXWindowCreated AXEventKind = iota
	AXWindowDestroyed
	AXWindowFocused
	AXWindowMoved
	AXWindowResized
	AXWindowMinimized
	AXWindowDeminimized
	AXTitleChanged
)

// AXNotification is what an installed observer callback delivers. Only the
// fields relevant to Kind are populated.
type AXNotification struct {
	Kind  AXEventKind
	Ref   uintptr // opaque accessibility element reference
	WID   uint32  // resolved window id; zero for AXWindowCreated, which carries only Ref
	Frame model.Rect
	Title string
}

// RoleInfo is the accessibility subrole/button metadata queried once at
// WinCreated time (spec §4.6).
type RoleInfo struct {
	Role           string
	Subrole        string
	HasCloseButton bool
	HasFullscreen  bool
	HasMinimize    bool
	HasZoom        bool
	IsModal        bool
}

// AXFuncs is the capability struct for the accessibility primitives this
// daemon consumes but does not implement, following the same "optional
// function pointer per primitive" shape as wsdk.Funcs (spec §9): a nil
// field means the symbol wasn't resolved, and InstallObserver callers get
// an explicit error rather than a nil-pointer panic.
type AXFuncs struct {
	// InstallObserver subscribes to every window-lifecycle notification for
	// pid and returns an unregister func. onEvent is called on the host's
	// main run loop (spec §5); it must do only translate-and-post work.
	InstallObserver func(pid int32, onEvent func(AXNotification)) (unregister func(), err error)
	ResolveWindowID func(ref uintptr) (uint32, error)
	WindowFrame     func(ref uintptr) (model.Rect, error)
	WindowTitle     func(ref uintptr) (string, error)
	WindowRoleInfo  func(ref uintptr) (RoleInfo, error)

	// The three write primitives below back internal/mutation's
	// accessibility write path (spec §4.7: SetWindowFrame, FocusWindow,
	// and minimize/unminimize). The helper's opcode table has WindowMove
	// and WindowFocus but no minimize opcode; internal/mutation routes all
	// three operations through the accessibility element rather than the
	// helper. Keyed by (pid, wid) rather than by AXRef: callers reach
	// these from RPC-originated mutation requests, which only ever carry
	// a window id, never the opaque element reference a running
	// observer callback holds.
	SetWindowFrame func(pid int32, wid uint32, frame model.Rect) error
	SetMinimized   func(pid int32, wid uint32, minimized bool) error
	FocusWindow    func(pid int32, wid uint32) error
}

// AppObserver manages the per-application accessibility subscription
// lifecycle described in spec §4.4.1: install, retry once after ~100ms on
// any install failure, drop and log on a second failure. It holds one
// live subscription per pid and posts every resulting notification onto
// the Event Queue, translated into the matching eventqueue.Event.
type AppObserver struct {
	fn         AXFuncs
	queue      *eventqueue.Queue
	logger     *slog.Logger
	retryDelay time.Duration
	limiter    *windowRateLimiter

	mu   sync.Mutex
	subs map[int32]func() // pid -> unregister
}

// NewAppObserver constructs an observer manager. moveResizeRateLimit caps
// how many WinMoved/WinResized events per window per second are posted;
// pass 0 to disable throttling.
func NewAppObserver(fn AXFuncs, queue *eventqueue.Queue, logger *slog.Logger, moveResizeRateLimit int) *AppObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppObserver{
		fn:         fn,
		queue:      queue,
		logger:     logger,
		retryDelay: 100 * time.Millisecond,
		limiter:    newWindowRateLimiter(moveResizeRateLimit),
		subs:       make(map[int32]func()),
	}
}

// Start installs the observer for pid, retrying once after retryDelay if
// the install fails. InstallObserver's errors are not classified, so a
// transient "cannot complete" failure and a permanent one are both retried
// once. Returns an error only after both
// attempts fail; the caller (internal/dispatcher's AppLaunched handler)
// logs and proceeds without an observer for this app per spec §4.4.1.
func (o *AppObserver) Start(pid int32) error {
	if o.fn.InstallObserver == nil {
		return fmt.Errorf("sources: accessibility observer primitive unavailable")
	}

	unregister, err := o.fn.InstallObserver(pid, func(n AXNotification) { o.handle(pid, n) })
	if err != nil {
		o.logger.Debug("observer install failed, retrying", "pid", pid, "error", err)
		time.Sleep(o.retryDelay)
		unregister, err = o.fn.InstallObserver(pid, func(n AXNotification) { o.handle(pid, n) })
		if err != nil {
			o.logger.Warn("observer install failed twice, dropping application", "pid", pid, "error", err)
			return err
		}
	}

	o.mu.Lock()
	o.subs[pid] = unregister
	o.mu.Unlock()
	return nil
}

// Stop removes the observer for pid, if one is installed. Safe to call
// more than once.
func (o *AppObserver) Stop(pid int32) {
	o.mu.Lock()
	unregister, ok := o.subs[pid]
	if ok {
		delete(o.subs, pid)
	}
	o.mu.Unlock()
	if ok && unregister != nil {
		unregister()
	}
}

// StopAll tears down every live observer, for daemon shutdown.
func (o *AppObserver) StopAll() {
	o.mu.Lock()
	subs := o.subs
	o.subs = make(map[int32]func())
	o.mu.Unlock()
	for _, unregister := range subs {
		if unregister != nil {
			unregister()
		}
	}
}

// handle translates one accessibility notification into an Event and
// posts it. This is the minimum-work callback body spec §5 requires: no
// model access, no blocking.
func (o *AppObserver) handle(pid int32, n AXNotification) {
	now := time.Now()
	switch n.Kind {
	case AXWindowCreated:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinCreated, Timestamp: now, PID: pid, AXRef: n.Ref})
	case AXWindowDestroyed:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinDestroyed, Timestamp: now, WID: n.WID})
	case AXWindowFocused:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinFocused, Timestamp: now, WID: n.WID})
	case AXWindowMoved:
		if o.limiter.allow(n.WID) {
			o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinMoved, Timestamp: now, WID: n.WID, Frame: n.Frame})
		}
	case AXWindowResized:
		if o.limiter.allow(n.WID) {
			o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinResized, Timestamp: now, WID: n.WID, Frame: n.Frame})
		}
	case AXWindowMinimized:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinMinimized, Timestamp: now, WID: n.WID})
	case AXWindowDeminimized:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinDeminimized, Timestamp: now, WID: n.WID})
	case AXTitleChanged:
		o.queue.Post(eventqueue.Event{Kind: eventqueue.KindWinTitleChanged, Timestamp: now, WID: n.WID, Title: n.Title})
	}
}
