// Package webui implements the loopback-only debug dashboard (SPEC_FULL
// §6.5): a read-only HTTP+WebSocket introspection surface distinct from
// the client protocol socket in internal/rpc, grounded on the teacher's
// internal/web dashboard (render-by-name html/template pages, a Config
// struct of optional function providers, RegisterRoutes onto a mux).
package webui

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/spaced/internal/broadcast"
)

// DumpFunc returns the same snapshot the RPC Gateway's "dump" method
// returns. The daemon wires this as a closure that performs the same
// ClientRequest round trip through the dispatcher a real RPC client would
// make (see cmd/spaced's bootstrap), so the dashboard never touches
// internal/model directly.
type DumpFunc func(ctx context.Context) (any, error)

// QueueDepthFunc reports the Event Queue's current pending length, for the
// dashboard's landing page. Optional: a nil func hides the field.
type QueueDepthFunc func() int

// Config configures the debug dashboard server.
type Config struct {
	Address    string
	Dump       DumpFunc
	Bus        *broadcast.Bus
	QueueDepth QueueDepthFunc
	Logger     *slog.Logger
	Upgrader   Upgrader
}

// Server is the debug dashboard's HTTP server. It is never registered as
// part of the client protocol and grants no mutation capability.
type Server struct {
	addr       string
	dump       DumpFunc
	bus        *broadcast.Bus
	queueDepth QueueDepthFunc
	log        *slog.Logger
	templates  map[string]*pageTemplate
	upgrader   Upgrader

	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// New constructs a debug dashboard server. It does not start listening;
// call Serve to do that.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:       cfg.Address,
		dump:       cfg.Dump,
		bus:        cfg.Bus,
		queueDepth: cfg.QueueDepth,
		log:        logger,
		templates:  loadTemplates(),
		upgrader:   cfg.Upgrader,
		startedAt:  time.Now(),
	}
	if s.upgrader == nil {
		s.upgrader = defaultUpgrader{}
	}
	return s
}

// RegisterRoutes installs the dashboard's handlers onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/dump", s.handleDump)
	mux.HandleFunc("/debug/events", s.handleEvents)
	mux.HandleFunc("/", s.handleIndex)
}

// Serve starts the loopback listener and blocks until ctx is cancelled or
// the listener errors. It returns an error without listening if the
// configured address is not a loopback IP or "localhost". It binds without
// checking config.Debug.Enabled — that gate belongs to the daemon
// bootstrap, which simply never calls Serve when disabled.
func (s *Server) Serve(ctx context.Context) error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return &net.AddrError{Err: "debug dashboard address is not loopback", Addr: s.addr}
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("debug dashboard listening", "addr", ln.Addr().String())

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.httpServer = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound listener's address, valid only after Serve has
// started listening. Used by tests and by the daemon's startup log line
// when Config.Address requested an ephemeral port (":0").
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
