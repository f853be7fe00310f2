// Package eventqueue wraps a bounded lock-free MPSC ring buffer
// (code.hybscloud.com/lfq) into the spec's event queue contract: post never
// blocks a producer, drain_one never blocks the consumer past the point a
// semaphore says work is available, and the queue never fails after
// startup. Event sources (internal/sources) are producers; the dispatcher
// (internal/dispatcher) is the single consumer.
package eventqueue

import (
	"time"

	"github.com/nugget/spaced/internal/model"
)

// Kind tags which variant of Event is populated. Exactly the taxonomy in
// spec §4.3 — the dispatcher's handler table switches on this.
type Kind int

const (
	KindAppLaunched Kind = iota
	KindAppTerminated
	KindAppActivated
	KindAppHidden
	KindAppUnhidden

	KindWinCreated
	KindWinDestroyed
	KindWinFocused
	KindWinMoved
	KindWinResized
	KindWinMinimized
	KindWinDeminimized
	KindWinTitleChanged

	KindWSWinOrdered
	KindWSWinDestroyed
	KindWSSpaceCreated
	KindWSSpaceDestroyed
	KindWSMissionControlEnter
	KindWSMissionControlExit

	KindSpaceChanged
	KindDisplayConfigurationChanged
	KindSystemWoke

	KindReconcilePoll
	KindClientRequest
)

func (k Kind) String() string {
	switch k {
	case KindAppLaunched:
		return "AppLaunched"
	case KindAppTerminated:
		return "AppTerminated"
	case KindAppActivated:
		return "AppActivated"
	case KindAppHidden:
		return "AppHidden"
	case KindAppUnhidden:
		return "AppUnhidden"
	case KindWinCreated:
		return "WinCreated"
	case KindWinDestroyed:
		return "WinDestroyed"
	case KindWinFocused:
		return "WinFocused"
	case KindWinMoved:
		return "WinMoved"
	case KindWinResized:
		return "WinResized"
	case KindWinMinimized:
		return "WinMinimized"
	case KindWinDeminimized:
		return "WinDeminimized"
	case KindWinTitleChanged:
		return "WinTitleChanged"
	case KindWSWinOrdered:
		return "WSWinOrdered"
	case KindWSWinDestroyed:
		return "WSWinDestroyed"
	case KindWSSpaceCreated:
		return "WSSpaceCreated"
	case KindWSSpaceDestroyed:
		return "WSSpaceDestroyed"
	case KindWSMissionControlEnter:
		return "WSMissionControlEnter"
	case KindWSMissionControlExit:
		return "WSMissionControlExit"
	case KindSpaceChanged:
		return "SpaceChanged"
	case KindDisplayConfigurationChanged:
		return "DisplayConfigurationChanged"
	case KindSystemWoke:
		return "SystemWoke"
	case KindReconcilePoll:
		return "ReconcilePoll"
	case KindClientRequest:
		return "ClientRequest"
	default:
		return "Unknown"
	}
}

// ClientRequestBody is the payload carried by a ClientRequest event — the
// RPC Gateway hands a mutation request to the dispatcher over the same
// queue every other source uses, so request handling is serialized with
// every other state change (spec §4.7).
type ClientRequestBody struct {
	RequestID string
	Method    string
	Params    []byte // raw JSON, decoded by the handler registered for Method
	Reply     chan<- any
}

// Event is a tagged union of every event kind the dispatcher handles. Only
// the fields relevant to Kind are populated; the rest are zero values. This
// mirrors the teacher's flat-struct event pattern rather than an interface
// per kind, since the dispatcher's handler table is a single switch and a
// flat struct avoids a type assertion per event.
type Event struct {
	Kind      Kind
	Timestamp time.Time

	PID   int32
	WID   uint32
	SID   uint64
	Frame model.Rect
	Title string
	AXRef uintptr // opaque accessibility element reference, owned by internal/sources

	// App carries the full application record for KindAppLaunched, which
	// needs more than a bare pid to decide activation_policy and populate
	// the model's Application table in one shot (spec §4.6). Every other
	// app-lifecycle kind only needs PID.
	App *model.Application

	Request ClientRequestBody
}
