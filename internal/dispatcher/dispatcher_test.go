package dispatcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/spaced/internal/broadcast"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/rebindcache"
	"github.com/nugget/spaced/internal/sources"
	"github.com/nugget/spaced/internal/wsdk"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestDispatcher(sdk *wsdk.SDK) (*Dispatcher, *model.Model, *eventqueue.Queue, *broadcast.Bus) {
	m := model.New()
	q := eventqueue.New(64, discardLogger())
	bus := broadcast.New()
	obs := sources.NewAppObserver(sources.AXFuncs{
		InstallObserver: func(pid int32, cb func(sources.AXNotification)) (func(), error) {
			return func() {}, nil
		},
	}, q, discardLogger(), 0)
	d := New(m, q, sdk, sources.AXFuncs{}, obs, bus, discardLogger())
	return d, m, q, bus
}

func TestAppLaunchedInsertsRegularApplicationOnly(t *testing.T) {
	d, m, _, _ := newTestDispatcher(nil)

	regular := model.Application{PID: 1, Name: "Finder", ActivationPolicy: model.ActivationRegular}
	d.apply(eventqueue.Event{Kind: eventqueue.KindAppLaunched, App: &regular})
	if _, err := m.Application(1); err != nil {
		t.Fatalf("expected regular app inserted: %v", err)
	}

	accessory := model.Application{PID: 2, ActivationPolicy: model.ActivationAccessory}
	d.apply(eventqueue.Event{Kind: eventqueue.KindAppLaunched, App: &accessory})
	if _, err := m.Application(2); err == nil {
		t.Fatal("non-regular application must not be inserted")
	}
}

func TestAppTerminatedRemovesWindowsAndClearsFocus(t *testing.T) {
	d, m, _, _ := newTestDispatcher(nil)
	app := model.Application{PID: 1, ActivationPolicy: model.ActivationRegular}
	d.apply(eventqueue.Event{Kind: eventqueue.KindAppLaunched, App: &app})
	m.UpsertWindow(model.Window{ID: 10, PID: 1})
	wid := uint32(10)
	m.SetFocus(&wid)

	d.apply(eventqueue.Event{Kind: eventqueue.KindAppTerminated, PID: 1})

	if _, err := m.Window(10); err == nil {
		t.Fatal("window should have been removed with its application")
	}
	if m.Metadata().FocusedWindowID != nil {
		t.Fatal("focus should be cleared when the focused window's app terminates")
	}
}

func TestWinCreatedResolvesViaAXAndSDK(t *testing.T) {
	sdk := wsdk.New(wsdk.Funcs{
		WindowLevel: func(wid uint32) (int32, error) { return 3, nil },
		WindowSpaces: func(wid uint32) (map[uint64]bool, error) {
			return map[uint64]bool{100: true}, nil
		},
	})
	m := model.New()
	q := eventqueue.New(64, discardLogger())
	bus := broadcast.New()
	ax := sources.AXFuncs{
		ResolveWindowID: func(ref uintptr) (uint32, error) { return uint32(ref), nil },
		WindowTitle:     func(ref uintptr) (string, error) { return "Editor", nil },
	}
	d := New(m, q, sdk, ax, nil, bus, discardLogger())

	d.apply(eventqueue.Event{Kind: eventqueue.KindWinCreated, PID: 5, AXRef: 77})

	w, err := m.Window(77)
	if err != nil {
		t.Fatalf("window not inserted: %v", err)
	}
	if w.Title != "Editor" || w.Level != 3 || len(w.SpaceIDs) != 1 || w.SpaceIDs[0] != 100 {
		t.Errorf("unexpected window: %+v", w)
	}
}

func TestWinMovedDebouncesIdenticalFrame(t *testing.T) {
	d, m, _, bus := newTestDispatcher(nil)
	m.UpsertWindow(model.Window{ID: 1, Frame: model.Rect{X: 10, Y: 10, Width: 100, Height: 100}})

	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	d.apply(eventqueue.Event{Kind: eventqueue.KindWinMoved, WID: 1, Frame: model.Rect{X: 10, Y: 10, Width: 100, Height: 100}})
	select {
	case <-sub:
		t.Fatal("identical frame must not publish a change")
	case <-time.After(20 * time.Millisecond):
	}

	d.apply(eventqueue.Event{Kind: eventqueue.KindWinMoved, WID: 1, Frame: model.Rect{X: 20, Y: 10, Width: 100, Height: 100}})
	w, _ := m.Window(1)
	if w.Frame.X != 20 {
		t.Errorf("frame not updated: %+v", w.Frame)
	}
	select {
	case e := <-sub:
		if e.Kind != broadcast.KindWindowChanged {
			t.Errorf("unexpected broadcast kind: %s", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a window_changed broadcast")
	}
}

func TestWinFocusedForUnknownWindowIsDropped(t *testing.T) {
	d, m, _, _ := newTestDispatcher(nil)
	d.apply(eventqueue.Event{Kind: eventqueue.KindWinFocused, WID: 999})
	if m.Metadata().FocusedWindowID != nil {
		t.Fatal("focusing an unknown window must not set focus")
	}
}

func TestReconcilePollInsertsAndRemoves(t *testing.T) {
	sdk := wsdk.New(wsdk.Funcs{
		WindowsOnSpaces: func(sids []uint64) (map[uint32]bool, error) {
			return map[uint32]bool{1: true}, nil
		},
		WindowOwnerPID: func(wid uint32) (int32, error) { return 42, nil },
		WindowBounds:   func(wid uint32) (model.Rect, error) { return model.Rect{Width: 50}, nil },
	})
	d, m, _, _ := newTestDispatcher(sdk)
	m.UpsertSpace(model.Space{ID: 1})
	m.UpsertWindow(model.Window{ID: 2}) // not in OS list anymore -> must be removed

	d.apply(eventqueue.Event{Kind: eventqueue.KindReconcilePoll, Timestamp: time.Now()})

	if _, err := m.Window(1); err != nil {
		t.Fatalf("window 1 should have been reconciled in: %v", err)
	}
	if _, err := m.Window(2); err == nil {
		t.Fatal("window 2 should have been reconciled out")
	}
}

func TestClientRequestDispatchesRegisteredMethod(t *testing.T) {
	d, _, _, _ := newTestDispatcher(nil)
	d.RegisterMethod("ping", func(m *model.Model, params []byte) (any, error) {
		return map[string]any{"pong": true}, nil
	})

	reply := make(chan any, 1)
	d.apply(eventqueue.Event{Kind: eventqueue.KindClientRequest, Request: eventqueue.ClientRequestBody{
		RequestID: "1", Method: "ping", Reply: reply,
	}})

	select {
	case v := <-reply:
		rr, ok := v.(RequestResult)
		if !ok || rr.Err != nil {
			t.Fatalf("unexpected result: %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply received")
	}
}

func TestClientRequestUnknownMethodReturnsError(t *testing.T) {
	d, _, _, _ := newTestDispatcher(nil)
	reply := make(chan any, 1)
	d.apply(eventqueue.Event{Kind: eventqueue.KindClientRequest, Request: eventqueue.ClientRequestBody{
		RequestID: "1", Method: "nonexistent", Reply: reply,
	}})

	v := <-reply
	rr := v.(RequestResult)
	if rr.Err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
}

func TestRunDrainsUntilStopped(t *testing.T) {
	d, m, q, _ := newTestDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx)

	app := model.Application{PID: 1, ActivationPolicy: model.ActivationRegular}
	q.Post(eventqueue.Event{Kind: eventqueue.KindAppLaunched, App: &app})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Application(1); err == nil {
			d.Stop()
			return
		}
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	t.Fatal("dispatcher never applied the posted event")
}

func TestDisplayConfigurationChangedRebindsSpacesByNearestPoint(t *testing.T) {
	sdk := wsdk.New(wsdk.Funcs{
		ListManagedDisplays: func() ([]string, error) {
			return []string{"new-uuid"}, nil
		},
		DisplayCurrentSpace: func(displayUUID string) (uint64, error) {
			return 1, nil
		},
		ListManagedDisplaySpaces: func(displayUUID string) ([]wsdk.SpaceDescriptor, error) {
			return nil, nil
		},
	})
	d, m, q, _ := newTestDispatcher(sdk)

	m.UpsertDisplay(model.Display{UUID: "old-uuid", Frame: model.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, SpaceIDs: []uint64{1}})
	m.UpsertSpace(model.Space{ID: 1, DisplayUUID: "old-uuid", Kind: model.SpaceUser})

	store, err := rebindcache.Open(filepath.Join(t.TempDir(), "rebind_test.db"))
	if err != nil {
		t.Fatalf("rebindcache.Open: %v", err)
	}
	defer store.Close()
	if err := store.Record("old-uuid", model.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, time.Now()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	d.SetRebindCache(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	q.Post(eventqueue.Event{Kind: eventqueue.KindDisplayConfigurationChanged})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Display("old-uuid"); err != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Display("old-uuid"); err == nil {
		t.Fatal("old-uuid should have been removed after rebind")
	}
	if _, err := m.Display("new-uuid"); err != nil {
		t.Fatalf("new-uuid should exist: %v", err)
	}

	sp, err := m.Space(1)
	if err != nil {
		t.Fatalf("space 1 should survive the rebind: %v", err)
	}
	if sp.DisplayUUID != "new-uuid" {
		t.Errorf("space 1 DisplayUUID = %q, want new-uuid (rebound)", sp.DisplayUUID)
	}
}

func TestDisplayConfigurationChangedRemovesSpacesWithoutRebindMatch(t *testing.T) {
	sdk := wsdk.New(wsdk.Funcs{
		ListManagedDisplays: func() ([]string, error) {
			return nil, nil
		},
	})
	d, m, q, _ := newTestDispatcher(sdk)

	m.UpsertDisplay(model.Display{UUID: "old-uuid", Frame: model.Rect{X: 0, Y: 0}, SpaceIDs: []uint64{1}})
	m.UpsertSpace(model.Space{ID: 1, DisplayUUID: "old-uuid", Kind: model.SpaceUser})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Stop()

	q.Post(eventqueue.Event{Kind: eventqueue.KindDisplayConfigurationChanged})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Display("old-uuid"); err != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := m.Display("old-uuid"); err == nil {
		t.Fatal("old-uuid should have been removed")
	}
	if _, err := m.Space(1); err == nil {
		t.Fatal("space 1 should have been removed along with its display")
	}
}
