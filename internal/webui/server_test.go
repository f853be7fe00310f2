package webui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/spaced/internal/broadcast"
)

func newTestServer(dump DumpFunc, bus *broadcast.Bus) *Server {
	return New(Config{Address: "127.0.0.1:0", Dump: dump, Bus: bus})
}

func TestHandleIndexServesDashboard(t *testing.T) {
	s := newTestServer(nil, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "spaced") {
		t.Errorf("body does not mention spaced: %s", rec.Body.String())
	}
}

func TestHandleIndexRejectsOtherPaths(t *testing.T) {
	s := newTestServer(nil, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDumpWithoutDumpFuncReturns503(t *testing.T) {
	s := newTestServer(nil, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/debug/dump", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type fakeDumpResult struct {
	Displays     []fakeDisplay
	Spaces       map[string]fakeSpace
	Windows      map[string]fakeWindow
	Applications map[string]fakeApp
	Metadata     fakeMetadata
}

type fakeDisplay struct {
	UUID           string
	Frame          fakeRect
	CurrentSpaceID uint64
}
type fakeRect struct{ X, Y, Width, Height float64 }
type fakeSpace struct {
	DisplayUUID string
	Kind        string
	IsActive    bool
}
type fakeWindow struct {
	AppName  string
	Title    string
	Frame    fakeRect
	SpaceIDs []uint64
}
type fakeApp struct {
	Name     string
	BundleID string
	IsHidden bool
}
type fakeMetadata struct {
	LastUpdate time.Time
}

func TestHandleDumpRendersResult(t *testing.T) {
	dump := func(ctx context.Context) (any, error) {
		return fakeDumpResult{
			Displays: []fakeDisplay{{UUID: "d1", Frame: fakeRect{Width: 1920, Height: 1080}, CurrentSpaceID: 1}},
			Spaces:   map[string]fakeSpace{"1": {DisplayUUID: "d1", Kind: "user", IsActive: true}},
			Windows: map[string]fakeWindow{
				"10": {AppName: "Finder", Title: "Desktop", Frame: fakeRect{Width: 800, Height: 600}, SpaceIDs: []uint64{1}},
			},
			Applications: map[string]fakeApp{"100": {Name: "Finder", BundleID: "com.apple.finder"}},
			Metadata:     fakeMetadata{LastUpdate: time.Now()},
		}, nil
	}
	s := newTestServer(dump, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/debug/dump", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Finder") || !strings.Contains(body, "d1") {
		t.Errorf("dump page missing expected content: %s", body)
	}
}

func TestHandleDumpPropagatesError(t *testing.T) {
	dump := func(ctx context.Context) (any, error) {
		return nil, context.DeadlineExceeded
	}
	s := newTestServer(dump, nil)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/debug/dump", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
