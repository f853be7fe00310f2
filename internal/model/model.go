package model

import (
	"errors"
	"sync"
	"time"
)

// Errors surfaced by lookups. Callers translate these into RPC error codes
// at the gateway boundary (spec §7); nothing below this package knows about
// JSON-RPC.
var (
	ErrWindowNotFound      = errors.New("model: window not found")
	ErrSpaceNotFound       = errors.New("model: space not found")
	ErrDisplayNotFound     = errors.New("model: display not found")
	ErrApplicationNotFound = errors.New("model: application not found")
)

// Model is the exclusive owner of the displays/spaces/applications/windows
// tables. It is mutated only by the event dispatcher's single worker
// goroutine; every other caller goes through a read lock and a snapshot
// copy (Snapshot, or the narrower Get* accessors).
type Model struct {
	mu sync.RWMutex

	displays     map[string]*Display // keyed by UUID
	spaces       map[uint64]*Space
	applications map[int32]*Application
	windows      map[uint32]*Window
	meta         Metadata
}

// New creates an empty model.
func New() *Model {
	return &Model{
		displays:     make(map[string]*Display),
		spaces:       make(map[uint64]*Space),
		applications: make(map[int32]*Application),
		windows:      make(map[uint32]*Window),
		meta:         Metadata{LastUpdate: time.Now()},
	}
}

// --- write-side API: called only from the dispatcher goroutine ---

// WriteLock acquires the exclusive lock for the duration of one event's
// handling and returns an unlock func. The dispatcher calls this once per
// dequeued event; handlers operate on the Model directly between lock and
// unlock, never reaching back into the queue.
func (m *Model) WriteLock() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

// touch bumps the global last-update timestamp. Called by every mutator
// below so that I6 (monotonic last_update) holds regardless of which
// table changed. Must be called with the write lock held.
func (m *Model) touch() {
	now := time.Now()
	if now.After(m.meta.LastUpdate) {
		m.meta.LastUpdate = now
	}
}

// UpsertDisplay inserts or replaces a display record. Callers hold the
// write lock.
func (m *Model) UpsertDisplay(d Display) {
	cp := d
	m.displays[d.UUID] = &cp
	m.touch()
}

// RemoveDisplay deletes a display. Does not touch spaces bound to it —
// callers are expected to also call RemoveSpace for each, or rebind them,
// per spec §9 (last-seen-coordinates rebinding is handled one layer up in
// internal/rebindcache + internal/dispatcher).
func (m *Model) RemoveDisplay(uuid string) {
	delete(m.displays, uuid)
	m.touch()
}

// UpsertSpace inserts or replaces a space and keeps Display.SpaceIDs in
// sync (invariant I1).
func (m *Model) UpsertSpace(s Space) {
	if s.WindowIDs == nil {
		s.WindowIDs = make(map[uint32]bool)
	}
	cp := s
	m.spaces[s.ID] = &cp

	if d, ok := m.displays[s.DisplayUUID]; ok {
		found := false
		for _, id := range d.SpaceIDs {
			if id == s.ID {
				found = true
				break
			}
		}
		if !found {
			d.SpaceIDs = append(d.SpaceIDs, s.ID)
		}
	}
	m.touch()
}

// RemoveSpace deletes a space, unlinks it from its display's SpaceIDs, and
// shrinks sticky windows' SpaceIDs accordingly (spec §4.6,
// WSSpaceDestroyed).
func (m *Model) RemoveSpace(id uint64) {
	sp, ok := m.spaces[id]
	if !ok {
		return
	}
	delete(m.spaces, id)

	if d, ok := m.displays[sp.DisplayUUID]; ok {
		filtered := d.SpaceIDs[:0]
		for _, sid := range d.SpaceIDs {
			if sid != id {
				filtered = append(filtered, sid)
			}
		}
		d.SpaceIDs = filtered
		if d.CurrentSpace == id {
			d.CurrentSpace = 0
		}
	}

	for wid := range sp.WindowIDs {
		if w, ok := m.windows[wid]; ok {
			w.SpaceIDs = removeUint64(w.SpaceIDs, id)
		}
	}
	m.touch()
}

// SetActiveSpace marks sid active on its display and every other space on
// that display inactive (invariant I2).
func (m *Model) SetActiveSpace(displayUUID string, sid uint64) {
	d, ok := m.displays[displayUUID]
	if !ok {
		return
	}
	d.CurrentSpace = sid
	for _, existingID := range d.SpaceIDs {
		if sp, ok := m.spaces[existingID]; ok {
			sp.IsActive = sp.ID == sid
		}
	}
	m.touch()
}

// UpsertApplication inserts or replaces an application record. Per spec
// §4.6 (AppLaunched), non-regular applications must never reach this
// point — callers filter before calling.
func (m *Model) UpsertApplication(a Application) {
	if a.WindowIDs == nil {
		a.WindowIDs = make(map[uint32]bool)
	}
	if existing, ok := m.applications[a.PID]; ok {
		a.WindowIDs = existing.WindowIDs
	}
	cp := a
	m.applications[a.PID] = &cp
	m.touch()
}

// SetActiveApplication marks pid active and every other application
// inactive (spec §4.6, AppActivated).
func (m *Model) SetActiveApplication(pid int32) {
	for p, a := range m.applications {
		a.IsActive = p == pid
	}
	m.touch()
}

// SetApplicationHidden marks pid hidden or visible and updates the
// ordered-in flag on every window it owns accordingly (spec §4.6,
// AppHidden/AppUnhidden). Callers handling AppUnhidden still need to
// re-query each window's space assignment separately via the window-
// server SDK — that requires an OS round trip this package does not make.
func (m *Model) SetApplicationHidden(pid int32, hidden bool) {
	app, ok := m.applications[pid]
	if !ok {
		return
	}
	app.IsHidden = hidden
	for wid := range app.WindowIDs {
		if w, ok := m.windows[wid]; ok {
			w.IsOrderedIn = !hidden
		}
	}
	m.touch()
}

// RemoveApplication deletes an application and every window it owns
// (spec §4.6, AppTerminated), clearing focus if the focused window was
// one of them.
func (m *Model) RemoveApplication(pid int32) {
	app, ok := m.applications[pid]
	if !ok {
		return
	}
	for wid := range app.WindowIDs {
		m.removeWindowLocked(wid)
	}
	delete(m.applications, pid)
	m.touch()
}

// UpsertWindow inserts or replaces a window and attaches it to its owning
// application's window set (invariant I4).
func (m *Model) UpsertWindow(w Window) {
	cp := w
	m.windows[w.ID] = &cp
	if app, ok := m.applications[w.PID]; ok {
		app.WindowIDs[w.ID] = true
	}
	for _, sid := range w.SpaceIDs {
		if sp, ok := m.spaces[sid]; ok {
			sp.WindowIDs[w.ID] = true
		}
	}
	m.touch()
}

// RemoveWindow deletes a window from every table that references it and
// clears focus if it was focused (spec §4.6, WinDestroyed).
func (m *Model) RemoveWindow(wid uint32) {
	m.removeWindowLocked(wid)
	m.touch()
}

func (m *Model) removeWindowLocked(wid uint32) {
	w, ok := m.windows[wid]
	if !ok {
		return
	}
	if app, ok := m.applications[w.PID]; ok {
		delete(app.WindowIDs, wid)
	}
	for _, sid := range w.SpaceIDs {
		if sp, ok := m.spaces[sid]; ok {
			delete(sp.WindowIDs, wid)
		}
	}
	delete(m.windows, wid)
	if m.meta.FocusedWindowID != nil && *m.meta.FocusedWindowID == wid {
		m.meta.FocusedWindowID = nil
	}
}

// SetFocus sets the focused window id, or clears it if wid is nil.
func (m *Model) SetFocus(wid *uint32) {
	m.meta.FocusedWindowID = wid
	m.touch()
}

// SetActiveDisplay records the active display uuid.
func (m *Model) SetActiveDisplay(uuid *string) {
	m.meta.ActiveDisplayUUID = uuid
	m.touch()
}

// SetMissionControlActive toggles the Mission Control gate consumed by the
// mutation executor (spec §4.6, WSMissionControlEnter/Exit).
func (m *Model) SetMissionControlActive(active bool) {
	m.meta.MissionControlActive = active
	m.touch()
}

// SetConnectionID records the window-server connection handle.
func (m *Model) SetConnectionID(id uint64) {
	m.meta.ConnectionID = id
	m.touch()
}

// --- locked read helpers: callable only while the write lock is already
// held (i.e. only from within internal/dispatcher's event handlers). They
// skip RLock/RUnlock entirely — sync.RWMutex is not reentrant, so calling
// the read-side accessors below from a handler would deadlock. ---

// WindowLocked returns a copy of the window with the given id.
func (m *Model) WindowLocked(wid uint32) (Window, bool) {
	w, ok := m.windows[wid]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// SpaceLocked returns a copy of the space with the given id.
func (m *Model) SpaceLocked(sid uint64) (Space, bool) {
	sp, ok := m.spaces[sid]
	if !ok {
		return Space{}, false
	}
	cp := *sp
	cp.WindowIDs = copyWindowSet(sp.WindowIDs)
	return cp, true
}

// DisplayLocked returns a copy of the display with the given uuid.
func (m *Model) DisplayLocked(uuid string) (Display, bool) {
	d, ok := m.displays[uuid]
	if !ok {
		return Display{}, false
	}
	return *d, true
}

// ApplicationLocked returns a copy of the application with the given pid.
func (m *Model) ApplicationLocked(pid int32) (Application, bool) {
	a, ok := m.applications[pid]
	if !ok {
		return Application{}, false
	}
	cp := *a
	cp.WindowIDs = copyWindowSet(a.WindowIDs)
	return cp, true
}

// MetadataLocked returns the global metadata without taking a lock.
func (m *Model) MetadataLocked() Metadata {
	return m.meta
}

// AllWindowsLocked returns a copy of every window, keyed by id. Used by
// the reconciler (spec §4.4.4) to diff the OS's window list against the
// model.
func (m *Model) AllWindowsLocked() map[uint32]Window {
	out := make(map[uint32]Window, len(m.windows))
	for id, w := range m.windows {
		out[id] = *w
	}
	return out
}

// AllDisplaysLocked returns a copy of every display, keyed by uuid.
func (m *Model) AllDisplaysLocked() map[string]Display {
	out := make(map[string]Display, len(m.displays))
	for uuid, d := range m.displays {
		out[uuid] = *d
	}
	return out
}

// AllSpacesLocked returns a copy of every space, keyed by id.
func (m *Model) AllSpacesLocked() map[uint64]Space {
	out := make(map[uint64]Space, len(m.spaces))
	for id, sp := range m.spaces {
		cp := *sp
		cp.WindowIDs = copyWindowSet(sp.WindowIDs)
		out[id] = cp
	}
	return out
}

// AllApplicationsLocked returns a copy of every application, keyed by pid.
// Used by the `dump` RPC method (spec §6.2.2), which is registered as a
// dispatcher request handler and therefore already runs with the write
// lock held.
func (m *Model) AllApplicationsLocked() map[int32]Application {
	out := make(map[int32]Application, len(m.applications))
	for pid, a := range m.applications {
		cp := *a
		cp.WindowIDs = copyWindowSet(a.WindowIDs)
		out[pid] = cp
	}
	return out
}

// --- read-side API: safe for concurrent callers, each takes a read lock ---

// Window returns a copy of the window with the given id.
func (m *Model) Window(wid uint32) (Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[wid]
	if !ok {
		return Window{}, ErrWindowNotFound
	}
	return *w, nil
}

// Space returns a copy of the space with the given id.
func (m *Model) Space(sid uint64) (Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sp, ok := m.spaces[sid]
	if !ok {
		return Space{}, ErrSpaceNotFound
	}
	cp := *sp
	cp.WindowIDs = copyWindowSet(sp.WindowIDs)
	return cp, nil
}

// Display returns a copy of the display with the given uuid.
func (m *Model) Display(uuid string) (Display, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.displays[uuid]
	if !ok {
		return Display{}, ErrDisplayNotFound
	}
	return *d, nil
}

// Application returns a copy of the application with the given pid.
func (m *Model) Application(pid int32) (Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.applications[pid]
	if !ok {
		return Application{}, ErrApplicationNotFound
	}
	cp := *a
	cp.WindowIDs = copyWindowSet(a.WindowIDs)
	return cp, nil
}

// Metadata returns a copy of the global metadata.
func (m *Model) Metadata() Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

// Snapshot is a point-in-time, deep copy of the entire model, suitable for
// the `dump` RPC method (spec §6.2.2). The read lock is held only for the
// duration of the copy, never across JSON encoding.
type Snapshot struct {
	Displays     []Display
	Spaces       map[uint64]Space
	Windows      map[uint32]Window
	Applications map[int32]Application
	Metadata     Metadata
}

// Snapshot copies every table under a single read lock.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Displays:     make([]Display, 0, len(m.displays)),
		Spaces:       make(map[uint64]Space, len(m.spaces)),
		Windows:      make(map[uint32]Window, len(m.windows)),
		Applications: make(map[int32]Application, len(m.applications)),
		Metadata:     m.meta,
	}
	for _, d := range m.displays {
		snap.Displays = append(snap.Displays, *d)
	}
	for id, sp := range m.spaces {
		cp := *sp
		cp.WindowIDs = copyWindowSet(sp.WindowIDs)
		snap.Spaces[id] = cp
	}
	for id, w := range m.windows {
		snap.Windows[id] = *w
	}
	for pid, a := range m.applications {
		cp := *a
		cp.WindowIDs = copyWindowSet(a.WindowIDs)
		snap.Applications[pid] = cp
	}
	return snap
}

// DisplaysByUUID returns a snapshot of every display, keyed by uuid.
func (m *Model) DisplaysByUUID() map[string]Display {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Display, len(m.displays))
	for uuid, d := range m.displays {
		out[uuid] = *d
	}
	return out
}

func copyWindowSet(src map[uint32]bool) map[uint32]bool {
	out := make(map[uint32]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func removeUint64(s []uint64, v uint64) []uint64 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
