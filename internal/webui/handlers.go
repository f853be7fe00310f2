package webui

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/spaced/internal/buildinfo"
)

// indexData is the template context for the dashboard's landing page.
type indexData struct {
	Uptime     time.Duration
	Build      map[string]string
	QueueDepth int
	Subscriber int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := indexData{
		Uptime: time.Since(s.startedAt),
		Build:  buildinfo.BuildInfo(),
	}
	if s.queueDepth != nil {
		data.QueueDepth = s.queueDepth()
	}
	if s.bus != nil {
		data.Subscriber = s.bus.SubscriberCount()
	}
	s.render(w, "index.html", data)
}

// handleDump implements GET /debug/dump: the same tree the "dump" RPC
// method returns, rendered as HTML (SPEC_FULL §6.5).
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	if s.dump == nil {
		http.Error(w, "dump source not wired", http.StatusServiceUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := s.dump(ctx)
	if err != nil {
		s.log.Error("debug dashboard: dump failed", "error", err)
		http.Error(w, "dump failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "dump.html", result)
}
