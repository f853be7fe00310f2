package dispatcher

import (
	"errors"
	"time"

	"github.com/nugget/spaced/internal/broadcast"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/wsdk"
)

// ErrUnknownMethod is returned to a ClientRequest whose Method has no
// registered handler (RPC error code -32601, surfaced by internal/rpc).
var ErrUnknownMethod = errors.New("dispatcher: unknown method")

// RequestResult is what a ClientRequest's Reply channel receives: exactly
// one of Value or Err is meaningful, mirroring the JSON-RPC envelope's
// result/error split (spec §6.2) without internal/dispatcher needing to
// know about JSON-RPC error codes itself — internal/rpc maps Err to a code.
type RequestResult struct {
	Value any
	Err   error
}

func (d *Dispatcher) handleAppLaunched(e eventqueue.Event) {
	if e.App == nil {
		d.log.Debug("AppLaunched missing application record", "pid", e.PID)
		return
	}
	if e.App.ActivationPolicy != model.ActivationRegular {
		return
	}
	d.model.UpsertApplication(*e.App)
	if d.obs != nil {
		if err := d.obs.Start(e.App.PID); err != nil {
			d.log.Debug("application observer unavailable", "pid", e.App.PID, "error", err)
		}
	}
	d.publish(broadcast.KindAppLaunched, map[string]any{"pid": e.App.PID, "name": e.App.Name})
}

func (d *Dispatcher) handleAppTerminated(e eventqueue.Event) {
	if d.obs != nil {
		d.obs.Stop(e.PID)
	}
	d.model.RemoveApplication(e.PID)
	d.publish(broadcast.KindAppTerminated, map[string]any{"pid": e.PID})
}

func (d *Dispatcher) handleAppActivated(e eventqueue.Event) {
	d.model.SetActiveApplication(e.PID)
}

func (d *Dispatcher) handleAppHidden(e eventqueue.Event) {
	d.model.SetApplicationHidden(e.PID, true)
}

func (d *Dispatcher) handleAppUnhidden(e eventqueue.Event) {
	d.model.SetApplicationHidden(e.PID, false)
	app, ok := d.model.ApplicationLocked(e.PID)
	if !ok || d.sdk == nil {
		return
	}
	for _, wid := range app.WindowIDList() {
		d.refreshWindowSpaces(wid)
	}
}

func (d *Dispatcher) handleWinCreated(e eventqueue.Event) {
	if d.ax.ResolveWindowID == nil {
		d.log.Debug("WinCreated dropped: accessibility id resolution unavailable")
		return
	}
	wid, err := d.ax.ResolveWindowID(e.AXRef)
	if err != nil {
		d.log.Debug("WinCreated: could not resolve window id", "pid", e.PID, "error", err)
		return
	}

	w := model.Window{ID: wid, PID: e.PID, LastUpdated: time.Now()}

	if app, ok := d.model.ApplicationLocked(e.PID); ok {
		w.AppName = app.Name
	}
	if d.ax.WindowFrame != nil {
		if frame, err := d.ax.WindowFrame(e.AXRef); err == nil {
			w.Frame = frame
		}
	}
	if d.ax.WindowTitle != nil {
		if title, err := d.ax.WindowTitle(e.AXRef); err == nil {
			w.Title = title
		}
	}
	if d.ax.WindowRoleInfo != nil {
		if info, err := d.ax.WindowRoleInfo(e.AXRef); err == nil {
			w.Role = info.Role
			w.Subrole = info.Subrole
			w.HasCloseButton = info.HasCloseButton
			w.HasFullscreen = info.HasFullscreen
			w.HasMinimize = info.HasMinimize
			w.HasZoom = info.HasZoom
			w.IsModal = info.IsModal
		}
	}
	if d.sdk != nil {
		if v, err := d.sdk.WindowLevel(wid); err == nil {
			w.Level = v
		}
		if v, err := d.sdk.WindowSubLevel(wid); err == nil {
			w.SubLevel = v
		}
		if v, err := d.sdk.WindowAlpha(wid); err == nil {
			w.Alpha = v
		}
		if v, err := d.sdk.WindowIsOrderedIn(wid); err == nil {
			w.IsOrderedIn = v
		}
		if v, err := d.sdk.WindowTransform(wid); err == nil {
			w.HasTransform = v
		}
		w.SpaceIDs = d.querySpaceIDs(wid)
	}

	d.model.UpsertWindow(w)
	d.publish(broadcast.KindWindowCreated, map[string]any{"windowId": wid, "pid": e.PID})
}

func (d *Dispatcher) handleWinDestroyed(e eventqueue.Event) {
	if _, ok := d.model.WindowLocked(e.WID); !ok {
		d.log.Debug("WinDestroyed for unknown window", "wid", e.WID)
		return
	}
	d.model.RemoveWindow(e.WID)
	d.publish(broadcast.KindWindowDestroyed, map[string]any{"windowId": e.WID})
}

func (d *Dispatcher) handleWinFocused(e eventqueue.Event) {
	w, ok := d.model.WindowLocked(e.WID)
	if !ok {
		d.log.Debug("WinFocused for unknown window", "wid", e.WID)
		return
	}
	wid := e.WID
	d.model.SetFocus(&wid)

	if d.sdk != nil {
		if uuid, err := d.sdk.WindowDisplay(w.ID); err == nil {
			meta := d.model.MetadataLocked()
			if meta.ActiveDisplayUUID == nil || *meta.ActiveDisplayUUID != uuid {
				d.model.SetActiveDisplay(&uuid)
			}
		}
	}
	d.publish(broadcast.KindFocusChanged, map[string]any{"windowId": e.WID})
}

func (d *Dispatcher) handleWinMovedOrResized(e eventqueue.Event) {
	w, ok := d.model.WindowLocked(e.WID)
	if !ok {
		d.log.Debug("window move/resize for unknown window", "wid", e.WID)
		return
	}
	if w.Frame == e.Frame {
		return // identical frame: drop per spec §4.6's debounce
	}
	w.Frame = e.Frame
	w.LastUpdated = time.Now()
	if d.sdk != nil {
		if ids := d.querySpaceIDs(w.ID); ids != nil {
			w.SpaceIDs = ids
		}
	}
	d.model.UpsertWindow(w)
	d.publish(broadcast.KindWindowChanged, map[string]any{"windowId": e.WID})
}

func (d *Dispatcher) handleWinMinimizedState(e eventqueue.Event, minimized bool) {
	w, ok := d.model.WindowLocked(e.WID)
	if !ok {
		return
	}
	w.IsMinimized = minimized
	w.IsOrderedIn = !minimized
	w.LastUpdated = time.Now()
	d.model.UpsertWindow(w)
	d.publish(broadcast.KindWindowChanged, map[string]any{"windowId": e.WID, "minimized": minimized})
}

func (d *Dispatcher) handleWinTitleChanged(e eventqueue.Event) {
	w, ok := d.model.WindowLocked(e.WID)
	if !ok {
		return
	}
	w.Title = e.Title
	w.LastUpdated = time.Now()
	d.model.UpsertWindow(w)
	d.publish(broadcast.KindWindowChanged, map[string]any{"windowId": e.WID})
}

func (d *Dispatcher) handleWSSpaceCreated(e eventqueue.Event) {
	if d.sdk == nil {
		return
	}
	displayUUIDs, err := d.sdk.ListManagedDisplays()
	if err != nil {
		d.log.Debug("WSSpaceCreated: cannot list displays", "error", err)
		return
	}
	for _, duuid := range displayUUIDs {
		descs, err := d.sdk.ListManagedDisplaySpaces(duuid)
		if err != nil {
			continue
		}
		for _, desc := range descs {
			if desc.ManagedSpaceID != e.SID {
				continue
			}
			d.model.UpsertSpace(model.Space{
				ID:          desc.ManagedSpaceID,
				UUID:        desc.UUID,
				Kind:        desc.Kind,
				DisplayUUID: duuid,
			})
			d.publish(broadcast.KindSpaceAdded, map[string]any{"spaceId": desc.ManagedSpaceID, "displayUuid": duuid})
			return
		}
	}
}

func (d *Dispatcher) handleWSSpaceDestroyed(e eventqueue.Event) {
	if _, ok := d.model.SpaceLocked(e.SID); !ok {
		return
	}
	d.model.RemoveSpace(e.SID)
	d.publish(broadcast.KindSpaceRemoved, map[string]any{"spaceId": e.SID})
}

func (d *Dispatcher) handleWSWinOrdered(e eventqueue.Event) {
	w, ok := d.model.WindowLocked(e.WID)
	if !ok || d.sdk == nil {
		return
	}
	if v, err := d.sdk.WindowLevel(e.WID); err == nil {
		w.Level = v
	}
	if v, err := d.sdk.WindowSubLevel(e.WID); err == nil {
		w.SubLevel = v
	}
	d.model.UpsertWindow(w)
}

func (d *Dispatcher) handleSpaceChanged() {
	if d.sdk == nil {
		return
	}
	for uuid := range d.model.AllDisplaysLocked() {
		sid, err := d.sdk.DisplayCurrentSpace(uuid)
		if err != nil {
			continue
		}
		d.model.SetActiveSpace(uuid, sid)
	}
	for wid, w := range d.model.AllWindowsLocked() {
		if !w.IsOrderedIn {
			continue
		}
		if ids := d.querySpaceIDs(wid); ids != nil {
			w.SpaceIDs = ids
			d.model.UpsertWindow(w)
		}
	}
	d.publish(broadcast.KindSpaceChanged, nil)
}

func (d *Dispatcher) handleDisplayConfigurationChanged() {
	if d.sdk == nil {
		return
	}
	before := d.model.AllDisplaysLocked()

	duuids, err := d.sdk.ListManagedDisplays()
	if err != nil {
		d.log.Debug("DisplayConfigurationChanged: cannot list displays", "error", err)
		return
	}
	seen := make(map[string]bool, len(duuids))
	var newUUIDs []string
	for _, uuid := range duuids {
		seen[uuid] = true
		disp, existed := before[uuid]
		if !existed {
			disp = model.Display{UUID: uuid}
			newUUIDs = append(newUUIDs, uuid)
		}
		if sid, err := d.sdk.DisplayCurrentSpace(uuid); err == nil {
			disp.CurrentSpace = sid
		}
		d.model.UpsertDisplay(disp)

		descs, err := d.sdk.ListManagedDisplaySpaces(uuid)
		if err != nil {
			continue
		}
		for _, desc := range descs {
			d.model.UpsertSpace(model.Space{ID: desc.ManagedSpaceID, UUID: desc.UUID, Kind: desc.Kind, DisplayUUID: uuid})
		}
		if disp.CurrentSpace != 0 {
			d.model.SetActiveSpace(uuid, disp.CurrentSpace)
		}
	}

	var gone []string
	for uuid := range before {
		if !seen[uuid] {
			gone = append(gone, uuid)
		}
	}
	d.rebindOrRemoveDisplays(before, newUUIDs, gone, seen)

	d.publish(broadcast.KindDisplayChanged, nil)
}

// rebindOrRemoveDisplays implements spec §9.1: a display that disappeared
// this round is first offered as a rebind target to any newly-appeared
// display whose frame nearest-matches its last-known coordinates (the OS
// assigns a new UUID across some reconnect cycles even though the
// physical monitor and its layout are unchanged). Displays that find no
// match are removed along with their spaces, and their last coordinates
// are cached for a future reconnect to match against.
func (d *Dispatcher) rebindOrRemoveDisplays(before map[string]model.Display, newUUIDs, gone []string, seen map[string]bool) {
	now := time.Now()
	rebound := make(map[string]bool, len(gone))

	if d.rebind != nil {
		exclude := make(map[string]bool, len(seen))
		for uuid := range seen {
			exclude[uuid] = true
		}
		for _, newUUID := range newUUIDs {
			newDisp, ok := d.model.DisplayLocked(newUUID)
			if !ok {
				continue
			}
			rec, found, err := d.rebind.Nearest(newDisp.Frame, exclude)
			if err != nil {
				d.log.Debug("rebind cache lookup failed", "error", err)
				continue
			}
			if !found {
				continue
			}
			oldDisp, hadOld := before[rec.UUID]
			if !hadOld {
				continue
			}
			for _, sid := range oldDisp.SpaceIDs {
				sp, ok := d.model.SpaceLocked(sid)
				if !ok {
					continue
				}
				sp.DisplayUUID = newUUID
				d.model.UpsertSpace(sp)
			}
			if err := d.rebind.Forget(rec.UUID); err != nil {
				d.log.Debug("rebind cache forget failed", "uuid", rec.UUID, "error", err)
			}
			rebound[rec.UUID] = true
			exclude[rec.UUID] = true
			d.log.Info("rebound spaces to reconnected display", "old_uuid", rec.UUID, "new_uuid", newUUID)
		}
	}

	for _, uuid := range gone {
		if rebound[uuid] {
			d.model.RemoveDisplay(uuid)
			continue
		}
		if d.rebind != nil {
			if disp, ok := before[uuid]; ok {
				if err := d.rebind.Record(uuid, disp.Frame, now); err != nil {
					d.log.Debug("rebind cache record failed", "uuid", uuid, "error", err)
				}
			}
		}
		if disp, ok := before[uuid]; ok {
			for _, sid := range disp.SpaceIDs {
				d.model.RemoveSpace(sid)
			}
		}
		d.model.RemoveDisplay(uuid)
	}
}

// handleReconcilePoll implements spec §4.4.4: re-list every window via
// the SDK's windows_on_spaces(sids) primitive (the SDK has no standalone
// "list all windows" call; the union of windows across every known space
// id serves the same purpose) and reconcile against the model.
func (d *Dispatcher) handleReconcilePoll(e eventqueue.Event) {
	if d.sdk == nil {
		return
	}
	spaces := d.model.AllSpacesLocked()
	sids := make([]uint64, 0, len(spaces))
	for sid := range spaces {
		sids = append(sids, sid)
	}
	osWIDs, err := d.sdk.WindowsOnSpaces(sids)
	if err != nil {
		d.log.Debug("reconcile poll: windows_on_spaces unavailable", "error", err)
		return
	}

	existing := d.model.AllWindowsLocked()

	for wid := range osWIDs {
		w, ok := existing[wid]
		if !ok {
			d.insertReconciledWindow(wid)
			continue
		}
		if w.LastUpdated.Before(e.Timestamp) {
			if frame, err := d.sdk.WindowBounds(wid); err == nil {
				w.Frame = frame
			}
			w.LastUpdated = e.Timestamp
			d.model.UpsertWindow(w)
		}
	}
	for wid := range existing {
		if !osWIDs[wid] {
			d.model.RemoveWindow(wid)
		}
	}
}

func (d *Dispatcher) insertReconciledWindow(wid uint32) {
	w := model.Window{ID: wid, LastUpdated: time.Now()}
	if v, err := d.sdk.WindowOwnerPID(wid); err == nil {
		w.PID = v
		if app, ok := d.model.ApplicationLocked(v); ok {
			w.AppName = app.Name
		}
	}
	if v, err := d.sdk.WindowBounds(wid); err == nil {
		w.Frame = v
	}
	if v, err := d.sdk.WindowLevel(wid); err == nil {
		w.Level = v
	}
	if v, err := d.sdk.WindowSubLevel(wid); err == nil {
		w.SubLevel = v
	}
	if v, err := d.sdk.WindowAlpha(wid); err == nil {
		w.Alpha = v
	}
	if v, err := d.sdk.WindowIsOrderedIn(wid); err == nil {
		w.IsOrderedIn = v
	}
	w.SpaceIDs = d.querySpaceIDs(wid)
	d.model.UpsertWindow(w)
	d.publish(broadcast.KindWindowCreated, map[string]any{"windowId": wid, "source": "reconcile"})
}

func (d *Dispatcher) handleClientRequest(e eventqueue.Event) {
	body := e.Request
	h, ok := d.requestHandlers[body.Method]
	if !ok {
		d.replyRequest(body, RequestResult{Err: ErrUnknownMethod})
		return
	}
	value, err := h(d.model, body.Params)
	d.replyRequest(body, RequestResult{Value: value, Err: err})
}

func (d *Dispatcher) replyRequest(body eventqueue.ClientRequestBody, result RequestResult) {
	if body.Reply == nil {
		return
	}
	select {
	case body.Reply <- result:
	default:
		// The reader task that owns this channel already gave up (client
		// disconnect or request timeout, spec §5) — the dispatcher does
		// not learn of the disconnect and must not block on it.
	}
}

// querySpaceIDs resolves a window's current space membership. Per spec
// §9's resolved Open Question, an empty or failed query leaves SpaceIDs
// nil (unknown) rather than clearing a previously known assignment —
// callers that want "no change" semantics check the returned value
// before assigning it.
func (d *Dispatcher) querySpaceIDs(wid uint32) []uint64 {
	if d.sdk == nil {
		return nil
	}
	set, err := d.sdk.WindowSpaces(wid)
	if err != nil || len(set) == 0 {
		if err != nil && !errors.Is(err, wsdk.ErrUnsupported) {
			d.log.Debug("window space query failed", "wid", wid, "error", err)
		}
		return nil
	}
	ids := make([]uint64, 0, len(set))
	for sid := range set {
		ids = append(ids, sid)
	}
	return ids
}

func (d *Dispatcher) refreshWindowSpaces(wid uint32) {
	w, ok := d.model.WindowLocked(wid)
	if !ok {
		return
	}
	if ids := d.querySpaceIDs(wid); ids != nil {
		w.SpaceIDs = ids
		d.model.UpsertWindow(w)
	}
}

