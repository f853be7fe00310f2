package gate

import (
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/spaced/internal/helper"
	"github.com/nugget/spaced/internal/wsdk"
)

func TestNeedsModernPath(t *testing.T) {
	cases := []struct {
		major, minor int
		want         bool
	}{
		{12, 6, false},
		{12, 7, true},
		{13, 5, false},
		{13, 6, true},
		{14, 4, false},
		{14, 5, true},
		{15, 0, true},
		{26, 0, true},
		{11, 9, false},
	}
	for _, tc := range cases {
		if got := needsModernPath(tc.major, tc.minor); got != tc.want {
			t.Errorf("needsModernPath(%d,%d) = %v, want %v", tc.major, tc.minor, got, tc.want)
		}
	}
}

func TestSnapshotReportsAccessibilityAndVersion(t *testing.T) {
	fn := Funcs{
		AXIsProcessTrusted: func() bool { return true },
		OSVersion:          func() (int, int, error) { return 14, 6, nil },
	}
	g := New(fn, nil, nil, nil)
	c := g.Snapshot(context.Background())

	if !c.AccessibilityTrusted {
		t.Error("expected accessibility trusted")
	}
	if c.OSMajor != 14 || c.OSMinor != 6 {
		t.Errorf("unexpected version: %d.%d", c.OSMajor, c.OSMinor)
	}
	if !c.ModernPath {
		t.Error("14.6 should require the modern path")
	}
}

func TestSnapshotReportsSupportedSymbols(t *testing.T) {
	sdk := wsdk.New(wsdk.Funcs{
		ConnectionID:        func() (uint64, error) { return 1, nil },
		ListManagedDisplays: func() ([]string, error) { return nil, nil },
	})
	g := New(Funcs{}, sdk, nil, nil)
	c := g.Snapshot(context.Background())

	found := map[string]bool{}
	for _, s := range c.Supported {
		found[s] = true
	}
	if !found["ConnectionID"] || !found["ListManagedDisplays"] {
		t.Errorf("expected both resolved symbols reported, got %v", c.Supported)
	}
	if found["WindowBounds"] {
		t.Errorf("unresolved symbol should not be reported: %v", c.Supported)
	}
}

func TestSnapshotHelperUnavailableWhenDisconnected(t *testing.T) {
	hc := helper.NewClient("/nonexistent/socket/path", nil)
	g := New(Funcs{}, nil, hc, nil)
	c := g.Snapshot(context.Background())
	if c.HelperAvailable {
		t.Error("helper should be reported unavailable before Dial succeeds")
	}
}

// fakeHelper mirrors internal/helper's own test double: it answers
// Handshake with a fixed version + capability bitmask and ignores
// everything else.
func fakeHelper(t *testing.T, socketPath string, version string, caps uint32) net.Listener {
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
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		resp := append([]byte(version), 0)
		var capBuf [4]byte
		binary.LittleEndian.PutUint32(capBuf[:], caps)
		conn.Write(append(resp, capBuf[:]...))
	}()
	return ln
}

func TestSnapshotHelperAvailableAfterHandshake(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "helper.sock")
	ln := fakeHelper(t, sp, helper.ExpectedVersion, helper.CapSetWindow|helper.CapMoveSpace)
	defer ln.Close()

	hc := helper.NewClient(sp, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hc.Dial(ctx); err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer hc.Close()

	g := New(Funcs{}, nil, hc, nil)
	c := g.Snapshot(context.Background())
	if !c.HelperAvailable {
		t.Fatal("expected helper available after successful handshake")
	}
	if !c.HasHelperCapability(helper.CapSetWindow) {
		t.Errorf("expected CapSetWindow bit set, got %x", c.HelperCapabilities)
	}
}
