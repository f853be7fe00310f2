// Package wsdk is a shim over the host window-server SDK primitives that
// this daemon consumes but does not implement (spec §6.3). The real
// functions live behind dynamic symbol lookup in a private framework; this
// package models that as a capability struct holding one optional function
// pointer per primitive, populated once at startup. A nil pointer means the
// symbol wasn't found at load time — callers get ErrUnsupported rather than
// a nil-pointer panic, mirroring the "dynamically loaded framework
// symbols" re-architecture note.
package wsdk

import (
	"errors"

	"github.com/nugget/spaced/internal/model"
)

// ErrUnsupported is returned by every method whose backing symbol was not
// resolved at startup.
var ErrUnsupported = errors.New("wsdk: primitive not available on this OS version")

// SpaceDescriptor is the raw per-space record returned by
// ListManagedDisplaySpaces, named after the SDK's own field names
// (ManagedSpaceID / id64, uuid, type) before conversion into model.Space.
type SpaceDescriptor struct {
	ManagedSpaceID uint64
	UUID           string
	Kind           model.SpaceKind
}

// Funcs holds one optional function pointer per SDK primitive in spec
// §6.3. Every field may be nil; SDK populates what it can resolve via
// dynamic lookup at startup and leaves the rest nil.
type Funcs struct {
	ConnectionID              func() (uint64, error)
	ListManagedDisplays       func() ([]string, error) // UUIDs, screen order
	ListManagedDisplaySpaces  func(displayUUID string) ([]SpaceDescriptor, error)
	DisplayCurrentSpace       func(displayUUID string) (uint64, error)
	WindowSpaces              func(wid uint32) (map[uint64]bool, error)
	WindowDisplay             func(wid uint32) (string, error)
	SpaceType                 func(sid uint64) (model.SpaceKind, error)
	WindowsOnSpaces           func(sids []uint64) (map[uint32]bool, error)
	WindowBounds              func(wid uint32) (model.Rect, error)
	WindowLevel               func(wid uint32) (int32, error)
	WindowSubLevel            func(wid uint32) (int32, error)
	WindowAlpha               func(wid uint32) (float32, error)
	WindowIsOrderedIn         func(wid uint32) (bool, error)
	WindowTransform           func(wid uint32) (bool, error) // has-transform flag; full matrix not modeled
	WindowOwnerPID            func(wid uint32) (int32, error)
	MoveWindowsToManagedSpace func(wids []uint32, sid uint64) error
	SpaceSetCompatID          func(sid uint64, id uint32) error
	SetWindowListWorkspace    func(wids []uint32, id uint32) error
	RegisterConnectionNotify  func(eventCode int, callback func(payload []byte)) (unregister func(), err error)
}

// SDK is the capability-gated wrapper around Funcs. Every method call goes
// through here rather than through Funcs directly, so call sites read as
// plain method calls instead of repeated nil checks.
type SDK struct {
	fn Funcs
}

// New wraps the given function table. Typically built once at daemon
// startup by resolving whichever symbols the running OS version exposes;
// see internal/gate for how unresolved symbols become reported
// capabilities.
func New(fn Funcs) *SDK {
	return &SDK{fn: fn}
}

// Supports reports whether a named primitive was resolved at startup,
// without invoking it. internal/gate uses this to build its Capabilities
// snapshot.
func (s *SDK) Supports(name string) bool {
	switch name {
	case "ConnectionID":
		return s.fn.ConnectionID != nil
	case "ListManagedDisplays":
		return s.fn.ListManagedDisplays != nil
	case "ListManagedDisplaySpaces":
		return s.fn.ListManagedDisplaySpaces != nil
	case "DisplayCurrentSpace":
		return s.fn.DisplayCurrentSpace != nil
	case "WindowSpaces":
		return s.fn.WindowSpaces != nil
	case "WindowDisplay":
		return s.fn.WindowDisplay != nil
	case "SpaceType":
		return s.fn.SpaceType != nil
	case "WindowsOnSpaces":
		return s.fn.WindowsOnSpaces != nil
	case "WindowBounds":
		return s.fn.WindowBounds != nil
	case "WindowLevel":
		return s.fn.WindowLevel != nil
	case "WindowSubLevel":
		return s.fn.WindowSubLevel != nil
	case "WindowAlpha":
		return s.fn.WindowAlpha != nil
	case "WindowIsOrderedIn":
		return s.fn.WindowIsOrderedIn != nil
	case "WindowTransform":
		return s.fn.WindowTransform != nil
	case "WindowOwnerPID":
		return s.fn.WindowOwnerPID != nil
	case "MoveWindowsToManagedSpace":
		return s.fn.MoveWindowsToManagedSpace != nil
	case "SpaceSetCompatID":
		return s.fn.SpaceSetCompatID != nil
	case "SetWindowListWorkspace":
		return s.fn.SetWindowListWorkspace != nil
	case "RegisterConnectionNotify":
		return s.fn.RegisterConnectionNotify != nil
	default:
		return false
	}
}

func (s *SDK) ConnectionID() (uint64, error) {
	if s.fn.ConnectionID == nil {
		return 0, ErrUnsupported
	}
	return s.fn.ConnectionID()
}

func (s *SDK) ListManagedDisplays() ([]string, error) {
	if s.fn.ListManagedDisplays == nil {
		return nil, ErrUnsupported
	}
	return s.fn.ListManagedDisplays()
}

func (s *SDK) ListManagedDisplaySpaces(displayUUID string) ([]SpaceDescriptor, error) {
	if s.fn.ListManagedDisplaySpaces == nil {
		return nil, ErrUnsupported
	}
	return s.fn.ListManagedDisplaySpaces(displayUUID)
}

func (s *SDK) DisplayCurrentSpace(displayUUID string) (uint64, error) {
	if s.fn.DisplayCurrentSpace == nil {
		return 0, ErrUnsupported
	}
	return s.fn.DisplayCurrentSpace(displayUUID)
}

func (s *SDK) WindowSpaces(wid uint32) (map[uint64]bool, error) {
	if s.fn.WindowSpaces == nil {
		return nil, ErrUnsupported
	}
	return s.fn.WindowSpaces(wid)
}

func (s *SDK) WindowDisplay(wid uint32) (string, error) {
	if s.fn.WindowDisplay == nil {
		return "", ErrUnsupported
	}
	return s.fn.WindowDisplay(wid)
}

func (s *SDK) SpaceType(sid uint64) (model.SpaceKind, error) {
	if s.fn.SpaceType == nil {
		return 0, ErrUnsupported
	}
	return s.fn.SpaceType(sid)
}

func (s *SDK) WindowsOnSpaces(sids []uint64) (map[uint32]bool, error) {
	if s.fn.WindowsOnSpaces == nil {
		return nil, ErrUnsupported
	}
	return s.fn.WindowsOnSpaces(sids)
}

func (s *SDK) WindowBounds(wid uint32) (model.Rect, error) {
	if s.fn.WindowBounds == nil {
		return model.Rect{}, ErrUnsupported
	}
	return s.fn.WindowBounds(wid)
}

func (s *SDK) WindowLevel(wid uint32) (int32, error) {
	if s.fn.WindowLevel == nil {
		return 0, ErrUnsupported
	}
	return s.fn.WindowLevel(wid)
}

func (s *SDK) WindowSubLevel(wid uint32) (int32, error) {
	if s.fn.WindowSubLevel == nil {
		return 0, ErrUnsupported
	}
	return s.fn.WindowSubLevel(wid)
}

func (s *SDK) WindowAlpha(wid uint32) (float32, error) {
	if s.fn.WindowAlpha == nil {
		return 0, ErrUnsupported
	}
	return s.fn.WindowAlpha(wid)
}

func (s *SDK) WindowIsOrderedIn(wid uint32) (bool, error) {
	if s.fn.WindowIsOrderedIn == nil {
		return false, ErrUnsupported
	}
	return s.fn.WindowIsOrderedIn(wid)
}

func (s *SDK) WindowTransform(wid uint32) (bool, error) {
	if s.fn.WindowTransform == nil {
		return false, ErrUnsupported
	}
	return s.fn.WindowTransform(wid)
}

func (s *SDK) WindowOwnerPID(wid uint32) (int32, error) {
	if s.fn.WindowOwnerPID == nil {
		return 0, ErrUnsupported
	}
	return s.fn.WindowOwnerPID(wid)
}

// MoveWindowsToManagedSpace is the direct mutation path (spec §4.8,
// strategy 1).
func (s *SDK) MoveWindowsToManagedSpace(wids []uint32, sid uint64) error {
	if s.fn.MoveWindowsToManagedSpace == nil {
		return ErrUnsupported
	}
	return s.fn.MoveWindowsToManagedSpace(wids, sid)
}

// SpaceSetCompatID and SetWindowListWorkspace are the compatibility
// fallback path (spec §4.8, strategy 2).
func (s *SDK) SpaceSetCompatID(sid uint64, id uint32) error {
	if s.fn.SpaceSetCompatID == nil {
		return ErrUnsupported
	}
	return s.fn.SpaceSetCompatID(sid, id)
}

func (s *SDK) SetWindowListWorkspace(wids []uint32, id uint32) error {
	if s.fn.SetWindowListWorkspace == nil {
		return ErrUnsupported
	}
	return s.fn.SetWindowListWorkspace(wids, id)
}

// RegisterConnectionNotify subscribes to a window-server notification
// code; the returned unregister func must be called to stop delivery.
func (s *SDK) RegisterConnectionNotify(eventCode int, callback func(payload []byte)) (func(), error) {
	if s.fn.RegisterConnectionNotify == nil {
		return nil, ErrUnsupported
	}
	return s.fn.RegisterConnectionNotify(eventCode, callback)
}

// CompatWorkspaceID is the single implementation-chosen sentinel for the
// compatibility-fallback path (spec §9's second Open Question: the
// reference uses two different, semantically meaningless sentinels across
// files; this implementation picks one and applies it uniformly).
const CompatWorkspaceID uint32 = 0x53504344 // "SPCD"
