// Package model owns the authoritative in-memory graph of displays, spaces,
// applications and windows. The model is mutated only by the event
// dispatcher (internal/dispatcher); every other caller — the RPC gateway,
// the debug dashboard — takes a read lock, copies what it needs, and
// releases before doing anything slow (JSON encoding, network I/O).
package model

import "time"

// Rect is an axis-aligned rectangle in global, origin-at-top-left
// coordinates. Every ingestion point that receives a bottom-left-origin
// rect from the window-server SDK converts it here; nothing downstream of
// model ever sees the other convention.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ActivationPolicy mirrors NSApplicationActivationPolicy. Only Regular
// applications participate in the model; Accessory and Prohibited
// applications are dropped on arrival (see internal/dispatcher's
// AppLaunched handler).
type ActivationPolicy int

const (
	ActivationRegular ActivationPolicy = iota
	ActivationAccessory
	ActivationProhibited
)

func (p ActivationPolicy) String() string {
	switch p {
	case ActivationRegular:
		return "regular"
	case ActivationAccessory:
		return "accessory"
	case ActivationProhibited:
		return "prohibited"
	default:
		return "unknown"
	}
}

// SpaceKind is read-only for the lifetime of a space: the system creates
// and destroys fullscreen spaces autonomously, and user/system spaces are
// never reclassified.
type SpaceKind int

const (
	SpaceUser SpaceKind = iota
	SpaceSystem
	SpaceFullscreen
)

func (k SpaceKind) String() string {
	switch k {
	case SpaceUser:
		return "user"
	case SpaceSystem:
		return "system"
	case SpaceFullscreen:
		return "fullscreen"
	default:
		return "unknown"
	}
}

// Display is a physical or virtual display tracked by the window server.
// UUID is the primary key: it is stable across reconnects, unlike
// DisplayID which the OS may recycle.
type Display struct {
	UUID         string   `json:"uuid"`
	DisplayID    uint32   `json:"displayId"`
	Frame        Rect     `json:"frame"`
	VisibleFrame Rect     `json:"visibleFrame"`
	ScaleFactor  float64  `json:"scaleFactor"`
	IsMain       bool     `json:"isMain"`
	IsBuiltin    bool     `json:"isBuiltin"`
	RefreshHz    float64  `json:"refreshHz"`
	PixelW       int      `json:"pixelW"`
	PixelH       int      `json:"pixelH"`
	Name         string   `json:"name"`
	SpaceIDs     []uint64 `json:"spaceIds"`
	CurrentSpace uint64   `json:"currentSpaceId"`
}

// Space is a macOS virtual desktop.
type Space struct {
	ID          uint64          `json:"id"`
	UUID        string          `json:"uuid"`
	Kind        SpaceKind       `json:"kind"`
	DisplayUUID string          `json:"displayUuid"`
	IsActive    bool            `json:"isActive"`
	WindowIDs   map[uint32]bool `json:"-"`
}

// WindowIDList returns the space's window ids as a stable-ordered slice,
// suitable for JSON encoding (map iteration order is not stable).
func (s Space) WindowIDList() []uint32 {
	ids := make([]uint32, 0, len(s.WindowIDs))
	for id := range s.WindowIDs {
		ids = append(ids, id)
	}
	sortUint32s(ids)
	return ids
}

// Application is a regular, GUI-capable process. Non-regular applications
// (activation policy accessory or prohibited) are never represented here —
// AppLaunched drops them at the door per spec §4.6.
type Application struct {
	PID               int32            `json:"pid"`
	BundleID          string           `json:"bundleId"`
	BundlePath        string           `json:"bundlePath"`
	ExecutablePath    string           `json:"executablePath"`
	Name              string           `json:"name"`
	LaunchTime        time.Time        `json:"launchTime"`
	ActivationPolicy  ActivationPolicy `json:"activationPolicy"`
	IsHidden          bool             `json:"isHidden"`
	IsActive          bool             `json:"isActive"`
	FinishedLaunching bool             `json:"finishedLaunching"`
	Architecture      string           `json:"architecture"`
	WindowIDs         map[uint32]bool  `json:"-"`
}

func (a Application) WindowIDList() []uint32 {
	ids := make([]uint32, 0, len(a.WindowIDs))
	for id := range a.WindowIDs {
		ids = append(ids, id)
	}
	sortUint32s(ids)
	return ids
}

// Window is a top-level, on-screen window owned by a regular application.
type Window struct {
	ID              uint32
	PID             int32
	AppName         string
	Title           string
	Frame           Rect
	Level           int32
	SubLevel        int32
	Alpha           float32
	HasTransform    bool
	IsOrderedIn     bool
	IsMinimized     bool
	SpaceIDs        []uint64 // empty = unknown assignment (spec §9's resolved Open Question)
	Role            string
	Subrole         string
	ParentWID       *uint32
	HasCloseButton  bool
	HasFullscreen   bool
	HasMinimize     bool
	HasZoom         bool
	IsModal         bool
	LastUpdated     time.Time
}

// Metadata holds daemon-wide state not scoped to a single entity.
type Metadata struct {
	ConnectionID      uint64
	FocusedWindowID   *uint32
	ActiveDisplayUUID *string
	LastUpdate        time.Time
	// MissionControlActive defers space-switch mutations while Mission
	// Control is open (spec §4.6, WSMissionControlEnter/Exit).
	MissionControlActive bool
}

func sortUint32s(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
