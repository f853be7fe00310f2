package mutation

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/spaced/internal/config"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/gate"
	"github.com/nugget/spaced/internal/helper"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/sources"
	"github.com/nugget/spaced/internal/wsdk"
)

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testConfig() config.MutationConfig {
	return config.MutationConfig{VerifyAttempts: 3, VerifyInterval: time.Millisecond, AllowCompatibilityFallback: true}
}

func newModelWithWindow() (*model.Model, model.Window) {
	m := model.New()
	m.UpsertDisplay(model.Display{UUID: "d1", CurrentSpace: 1, SpaceIDs: []uint64{1, 2}})
	m.UpsertSpace(model.Space{ID: 1, DisplayUUID: "d1", Kind: model.SpaceUser})
	m.UpsertSpace(model.Space{ID: 2, DisplayUUID: "d1", Kind: model.SpaceUser})
	w := model.Window{ID: 10, PID: 1, SpaceIDs: []uint64{1}}
	m.UpsertWindow(w)
	return m, w
}

func TestMoveWindowToSpaceDirectStrategy(t *testing.T) {
	m, _ := newModelWithWindow()
	moved := false
	sdk := wsdk.New(wsdk.Funcs{
		MoveWindowsToManagedSpace: func(wids []uint32, sid uint64) error {
			moved = true
			return nil
		},
		WindowSpaces: func(wid uint32) (map[uint64]bool, error) {
			if !moved {
				return map[uint64]bool{1: true}, nil
			}
			return map[uint64]bool{2: true}, nil
		},
	})
	q := eventqueue.New(8, discardLogger())
	e := New(m, sdk, nil, sources.AXFuncs{}, nil, q, testConfig())

	if err := e.MoveWindowToSpace(context.Background(), 10, 2); err != nil {
		t.Fatalf("MoveWindowToSpace: %v", err)
	}
	if !moved {
		t.Error("expected direct strategy to call MoveWindowsToManagedSpace")
	}
	if ev, ok := q.DrainOne(); !ok || ev.Kind != eventqueue.KindSpaceChanged {
		t.Errorf("expected a SpaceChanged event to be posted, got ok=%v ev=%+v", ok, ev)
	}
}

func TestMoveWindowToSpaceRejectsSameSpace(t *testing.T) {
	m, _ := newModelWithWindow()
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())
	if err := e.MoveWindowToSpace(context.Background(), 10, 1); err != ErrSameSpace {
		t.Errorf("expected ErrSameSpace, got %v", err)
	}
}

func TestMoveWindowToSpaceRejectsFullscreenTarget(t *testing.T) {
	m, _ := newModelWithWindow()
	m.UpsertSpace(model.Space{ID: 3, DisplayUUID: "d1", Kind: model.SpaceFullscreen})
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())
	if err := e.MoveWindowToSpace(context.Background(), 10, 3); err != ErrFullscreenTarget {
		t.Errorf("expected ErrFullscreenTarget, got %v", err)
	}
}

func TestMoveWindowToSpaceVerificationFailure(t *testing.T) {
	m, _ := newModelWithWindow()
	sdk := wsdk.New(wsdk.Funcs{
		MoveWindowsToManagedSpace: func(wids []uint32, sid uint64) error { return nil },
		WindowSpaces:              func(wid uint32) (map[uint64]bool, error) { return map[uint64]bool{1: true}, nil },
	})
	q := eventqueue.New(8, discardLogger())
	e := New(m, sdk, nil, sources.AXFuncs{}, nil, q, testConfig())
	if err := e.MoveWindowToSpace(context.Background(), 10, 2); err != ErrVerificationFailed {
		t.Errorf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestMoveWindowToSpaceHelperRequiredWhenUnavailable(t *testing.T) {
	m, _ := newModelWithWindow()
	sdk := wsdk.New(wsdk.Funcs{})
	g := gate.New(gate.Funcs{OSVersion: func() (int, int, error) { return 14, 6, nil }}, sdk, nil, nil)
	q := eventqueue.New(8, discardLogger())
	cfg := testConfig()
	cfg.AllowCompatibilityFallback = false
	e := New(m, sdk, nil, sources.AXFuncs{}, g, q, cfg)

	if err := e.MoveWindowToSpace(context.Background(), 10, 2); err != ErrHelperRequired {
		t.Errorf("expected ErrHelperRequired, got %v", err)
	}
}

func TestMoveWindowToSpaceCompatibilityFallback(t *testing.T) {
	m, _ := newModelWithWindow()
	var gotCompatSet, gotListed bool
	sdk := wsdk.New(wsdk.Funcs{
		SpaceSetCompatID: func(sid uint64, id uint32) error {
			if id != 0 {
				gotCompatSet = true
			}
			return nil
		},
		SetWindowListWorkspace: func(wids []uint32, id uint32) error {
			gotListed = true
			return nil
		},
		WindowSpaces: func(wid uint32) (map[uint64]bool, error) { return map[uint64]bool{2: true}, nil },
	})
	g := gate.New(gate.Funcs{OSVersion: func() (int, int, error) { return 14, 6, nil }}, sdk, nil, nil)
	q := eventqueue.New(8, discardLogger())
	e := New(m, sdk, nil, sources.AXFuncs{}, g, q, testConfig())

	if err := e.MoveWindowToSpace(context.Background(), 10, 2); err != nil {
		t.Fatalf("MoveWindowToSpace: %v", err)
	}
	if !gotCompatSet || !gotListed {
		t.Error("expected compatibility triplet to be exercised")
	}
}

func TestSetWindowFrameDebouncesIdenticalWrite(t *testing.T) {
	m, w := newModelWithWindow()
	w.Frame = model.Rect{X: 1, Y: 2, Width: 3, Height: 4}
	m.UpsertWindow(w)
	calls := 0
	ax := sources.AXFuncs{SetWindowFrame: func(pid int32, wid uint32, frame model.Rect) error { calls++; return nil }}
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, ax, nil, q, testConfig())

	if err := e.SetWindowFrame(10, w.Frame); err != nil {
		t.Fatalf("SetWindowFrame: %v", err)
	}
	if calls != 0 {
		t.Errorf("identical frame write should be debounced, got %d calls", calls)
	}

	newFrame := model.Rect{X: 99, Y: 2, Width: 3, Height: 4}
	if err := e.SetWindowFrame(10, newFrame); err != nil {
		t.Fatalf("SetWindowFrame: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one AX write, got %d", calls)
	}
}

func TestFocusWindowPostsImmediateFocusEvent(t *testing.T) {
	m, _ := newModelWithWindow()
	ax := sources.AXFuncs{FocusWindow: func(pid int32, wid uint32) error { return nil }}
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, ax, nil, q, testConfig())

	if err := e.FocusWindow(10); err != nil {
		t.Fatalf("FocusWindow: %v", err)
	}
	ev, ok := q.DrainOne()
	if !ok || ev.Kind != eventqueue.KindWinFocused || ev.WID != 10 {
		t.Errorf("expected an immediate WinFocused event, got ok=%v ev=%+v", ok, ev)
	}
}

func TestMinimizeRequiresAXPrimitive(t *testing.T) {
	m, _ := newModelWithWindow()
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())
	if err := e.Minimize(10); err != ErrAXUnavailable {
		t.Errorf("expected ErrAXUnavailable, got %v", err)
	}
}

func TestSpaceDestroyRejectsLastSpaceOnDisplay(t *testing.T) {
	m := model.New()
	m.UpsertDisplay(model.Display{UUID: "d1", SpaceIDs: []uint64{1}})
	m.UpsertSpace(model.Space{ID: 1, DisplayUUID: "d1"})
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())
	if err := e.SpaceDestroy(1); err != ErrLastSpaceOnDisplay {
		t.Errorf("expected ErrLastSpaceOnDisplay, got %v", err)
	}
}

func TestHelperOnlyOperationsRequireHelper(t *testing.T) {
	m, _ := newModelWithWindow()
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())

	if err := e.SetWindowOpacity(10, 0.5); err != ErrHelperUnavailable {
		t.Errorf("SetWindowOpacity: expected ErrHelperUnavailable, got %v", err)
	}
	if err := e.SetSticky(10, true); err != ErrHelperUnavailable {
		t.Errorf("SetSticky: expected ErrHelperUnavailable, got %v", err)
	}
	if err := e.SpaceFocus(1); err != ErrHelperUnavailable {
		t.Errorf("SpaceFocus: expected ErrHelperUnavailable, got %v", err)
	}
}

func TestGetOpacityAndLayerReadFromModel(t *testing.T) {
	m, w := newModelWithWindow()
	w.Alpha = 0.75
	w.Level = 4
	m.UpsertWindow(w)
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())

	if a, err := e.GetOpacity(10); err != nil || a != 0.75 {
		t.Errorf("GetOpacity = %v, %v", a, err)
	}
	if l, err := e.GetLayer(10); err != nil || l != 4 {
		t.Errorf("GetLayer = %v, %v", l, err)
	}
}

func TestIsStickyHeuristic(t *testing.T) {
	m, w := newModelWithWindow()
	w.SpaceIDs = []uint64{1, 2}
	m.UpsertWindow(w)
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), nil, sources.AXFuncs{}, nil, q, testConfig())

	sticky, err := e.IsSticky(10)
	if err != nil || !sticky {
		t.Errorf("expected sticky=true, got %v, %v", sticky, err)
	}
}

// fakeHelper mirrors internal/helper's own test double: acks the
// handshake, then acks every subsequent opcode.
func fakeHelper(t *testing.T, socketPath string) net.Listener {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil || n == 0 {
				return
			}
			if helper.Opcode(buf[0]) == helper.OpHandshake {
				resp := append([]byte(helper.ExpectedVersion), 0)
				var capBuf [4]byte
				binary.LittleEndian.PutUint32(capBuf[:], helper.CapSetWindow)
				conn.Write(append(resp, capBuf[:]...))
				continue
			}
			conn.Write([]byte{0x01})
		}
	}()
	return ln
}

func TestSpaceFocusUsesHelperWhenConnected(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "helper.sock")
	ln := fakeHelper(t, sp)
	defer ln.Close()

	hc := helper.NewClient(sp, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hc.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer hc.Close()

	m, _ := newModelWithWindow()
	q := eventqueue.New(8, discardLogger())
	e := New(m, wsdk.New(wsdk.Funcs{}), hc, sources.AXFuncs{}, nil, q, testConfig())

	if err := e.SpaceFocus(1); err != nil {
		t.Fatalf("SpaceFocus: %v", err)
	}
	if ev, ok := q.DrainOne(); !ok || ev.Kind != eventqueue.KindSpaceChanged {
		t.Errorf("expected SpaceChanged event, got ok=%v ev=%+v", ok, ev)
	}
}
