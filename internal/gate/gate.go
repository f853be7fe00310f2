// Package gate is the Permission & Version Gate (spec §4.8, table row 9):
// it queries accessibility trust, OS major/minor version, and helper
// liveness, then exposes the capability flags internal/mutation's strategy
// selection consumes. Like internal/wsdk, every OS-facing primitive is an
// optional function pointer populated at startup — a missing symbol
// degrades a capability rather than aborting the daemon.
package gate

import (
	"context"
	"sync"

	"github.com/nugget/spaced/internal/connwatch"
	"github.com/nugget/spaced/internal/helper"
	"github.com/nugget/spaced/internal/wsdk"
)

// Funcs holds the OS-facing primitives this package cannot implement
// itself: accessibility trust status and the running OS version. Both are
// normally backed by private/Accessibility framework calls; tests and
// non-darwin builds supply fakes.
type Funcs struct {
	// AXIsProcessTrusted reports whether this process currently holds the
	// accessibility permission grant. Never prompts.
	AXIsProcessTrusted func() bool

	// OSVersion returns the running OS's major/minor version numbers.
	OSVersion func() (major, minor int, err error)
}

// Capabilities is a point-in-time snapshot of everything the daemon's
// strategy selection and startup diagnostics need to know about the
// environment it is running in.
type Capabilities struct {
	AccessibilityTrusted bool

	OSMajor int
	OSMinor int

	// ModernPath is os_needs_modern_path() (spec §4.8): true once the OS
	// requires routing space-movement mutations through the helper
	// rather than calling the window-server SDK directly.
	ModernPath bool

	HelperAvailable    bool
	HelperVersion      string
	HelperCapabilities uint32

	// Supported lists every wsdk.Funcs primitive name resolved at
	// startup (per-symbol availability, spec §6.3).
	Supported []string
}

// HasHelperCapability reports whether the last-observed helper handshake
// included bit.
func (c Capabilities) HasHelperCapability(bit uint32) bool {
	return c.HelperCapabilities&bit == bit
}

// symbolNames lists every wsdk.Funcs field gate.Snapshot reports on,
// kept in the same order wsdk.go declares them.
var symbolNames = []string{
	"ConnectionID", "ListManagedDisplays", "ListManagedDisplaySpaces",
	"DisplayCurrentSpace", "WindowSpaces", "WindowDisplay", "SpaceType",
	"WindowsOnSpaces", "WindowBounds", "WindowLevel", "WindowSubLevel",
	"WindowAlpha", "WindowIsOrderedIn", "WindowTransform", "WindowOwnerPID",
	"MoveWindowsToManagedSpace", "SpaceSetCompatID", "SetWindowListWorkspace",
	"RegisterConnectionNotify",
}

// Gate owns the Funcs table plus a live helper.Client, and produces
// Capabilities snapshots on demand. It holds no OS handles of its own —
// AXIsProcessTrusted/OSVersion are simple synchronous queries, so unlike
// internal/connwatch's probes there is no background polling loop here;
// callers that want periodic re-checks drive Snapshot from their own
// ticker (internal/gate intentionally has no opinion on cadence).
type Gate struct {
	fn    Funcs
	sdk   *wsdk.SDK
	hc    *helper.Client
	watch *connwatch.Watcher

	mu sync.Mutex
}

// New constructs a Gate. hc may be nil if the daemon was started with the
// helper side-channel disabled by policy; Snapshot then always reports
// HelperAvailable=false. watch is optional: the daemon normally runs the
// helper's reconnect/backoff loop through internal/connwatch (cheap,
// periodic) and wires the resulting *connwatch.Watcher here so Snapshot
// never has to attempt a dial itself; when watch is nil, Snapshot falls
// back to hc.Connected()'s plain point-in-time read.
func New(fn Funcs, sdk *wsdk.SDK, hc *helper.Client, watch *connwatch.Watcher) *Gate {
	return &Gate{fn: fn, sdk: sdk, hc: hc, watch: watch}
}

// Snapshot queries every capability source and returns a fresh
// Capabilities value. It performs no network I/O itself, but
// helper.Client.Connected and Handshake take the client's mutexes, which a
// helper call holds across its blocking socket read, so Snapshot can wait
// for an in-flight helper call to finish.
func (g *Gate) Snapshot(ctx context.Context) Capabilities {
	g.mu.Lock()
	defer g.mu.Unlock()

	var c Capabilities

	if g.fn.AXIsProcessTrusted != nil {
		c.AccessibilityTrusted = g.fn.AXIsProcessTrusted()
	}

	if g.fn.OSVersion != nil {
		if major, minor, err := g.fn.OSVersion(); err == nil {
			c.OSMajor, c.OSMinor = major, minor
			c.ModernPath = needsModernPath(major, minor)
		}
	}

	switch {
	case g.watch != nil:
		c.HelperAvailable = g.watch.IsReady()
	case g.hc != nil:
		c.HelperAvailable = g.hc.Connected()
	}
	if c.HelperAvailable && g.hc != nil {
		hs := g.hc.Handshake()
		c.HelperVersion = hs.Version
		c.HelperCapabilities = hs.Capabilities
	}

	if g.sdk != nil {
		for _, name := range symbolNames {
			if g.sdk.Supports(name) {
				c.Supported = append(c.Supported, name)
			}
		}
	}

	return c
}

// needsModernPath implements spec §4.8's os_needs_modern_path():
// (major=12,minor≥7) ∨ (13,≥6) ∨ (14,≥5) ∨ major≥15.
func needsModernPath(major, minor int) bool {
	switch {
	case major > 14:
		return true
	case major == 14:
		return minor >= 5
	case major == 13:
		return minor >= 6
	case major == 12:
		return minor >= 7
	default:
		return false
	}
}
