// Package rpc implements the client-facing JSON-RPC Gateway (spec §6.1,
// §6.2): a Unix domain socket accepting newline-delimited JSON envelopes,
// a method dispatch table, and a broadcast fan-out for event-subscribed
// clients. Framing and request/response correlation follow the teacher's
// MCP stdio transport (internal/mcp/stdio.go): a mutex-serialized writer,
// a buffered line reader, and matching by request id.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nugget/spaced/internal/broadcast"
	"github.com/nugget/spaced/internal/config"
	"github.com/nugget/spaced/internal/dispatcher"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/mutation"
)

// mutatingHandler is a method that calls straight into
// internal/mutation.Executor from the client's own goroutine, bypassing
// the dispatcher's request/reply channel (see methods.go's doc comment
// on RegisterReadMethods for why).
type mutatingHandler func(ctx context.Context, exec *mutation.Executor, params []byte) (any, error)

// Server is the JSON-RPC Gateway: one accept loop, one goroutine per
// connected client, and a registry of mutating method handlers. Read-only
// methods are registered separately with the dispatcher via
// RegisterReadMethods and reached through the event queue.
type Server struct {
	cfg   config.RPCConfig
	queue *eventqueue.Queue
	exec  *mutation.Executor
	bus   *broadcast.Bus
	log   *slog.Logger

	mutating map[string]mutatingHandler

	mu      sync.Mutex
	ln      net.Listener
	clients map[*clientConn]struct{}
	wg      sync.WaitGroup
}

// New constructs a Server. Call Serve to start accepting connections.
func New(cfg config.RPCConfig, queue *eventqueue.Queue, exec *mutation.Executor, bus *broadcast.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		queue:   queue,
		exec:    exec,
		bus:     bus,
		log:     logger,
		clients: make(map[*clientConn]struct{}),
	}
	s.mutating = map[string]mutatingHandler{
		"updateWindow":         handleUpdateWindow,
		"window.focus":         handleWindowFocus,
		"window.setOpacity":    handleSetOpacity,
		"window.fadeOpacity":   handleFadeOpacity,
		"window.setLayer":      handleSetLayer,
		"window.setSticky":     handleSetSticky,
		"window.minimize":      handleMinimize,
		"window.unminimize":    handleUnminimize,
		"space.create":         handleSpaceCreate,
		"space.destroy":        handleSpaceDestroy,
		"space.focus":          handleSpaceFocus,
	}
	return s
}

// Listen creates the client socket at cfg.SocketPath with owner-only
// permissions (spec §6.1). A stale socket file from an unclean shutdown
// is removed first — the daemon owns this path exclusively.
func (s *Server) Listen() error {
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen on %s: %w", s.cfg.SocketPath, err)
	}
	// net.Listen("unix", ...) honors umask; the chmod makes the owner-only
	// permission explicit regardless of the daemon's umask (spec §6.1:
	// "owner read/write only").
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("rpc: chmod %s: %w", s.cfg.SocketPath, err)
	}
	s.ln = ln
	return nil
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed by Stop. It blocks; callers run it in its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("rpc: accept failed", "error", err)
			continue
		}
		s.logPeerCredentials(conn)

		cc := newClientConn(conn, s)
		s.mu.Lock()
		s.clients[cc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			cc.run(ctx)
			s.mu.Lock()
			delete(s.clients, cc)
			s.mu.Unlock()
		}()
	}
}

// logPeerCredentials looks up the connecting process's uid and pid via
// the LOCAL_PEERCRED/LOCAL_PEERPID socket options (the macOS analogue of
// Linux's SO_PEERCRED) for diagnostic logging. The socket is already
// filesystem-permission-scoped (spec §6.1); this is observability, not an
// additional access check.
func (s *Server) logPeerCredentials(conn net.Conn) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return
	}
	var cred *unix.Xucred
	var pid int
	var credErr, pidErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		pid, pidErr = unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
	})
	if err != nil || credErr != nil || cred == nil {
		s.log.Debug("rpc: client connected", "peer_creds", "unavailable")
		return
	}
	if pidErr != nil {
		pid = -1
	}
	s.log.Info("rpc: client connected", "peer_pid", pid, "peer_uid", cred.Uid)
}

// Stop closes the listener and every connected client socket, then waits
// for their goroutines to exit (spec §5 shutdown sequence: "stop
// accepting new clients → close all client sockets").
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Lock()
	for cc := range s.clients {
		cc.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Server has no broadcast method of its own: each client subscribes
// individually via clientConn.subscribe, whose event-forwarding goroutine
// reads directly off the bus.

// clientConn is one connected client: a reader goroutine draining
// newline-delimited envelopes, a write mutex serializing replies and
// pushed events onto the same socket, and an optional broadcast
// subscription.
type clientConn struct {
	conn   net.Conn
	server *Server
	log    *slog.Logger

	writeMu sync.Mutex

	subMu sync.Mutex
	subCh <-chan broadcast.Event
	subWG sync.WaitGroup
	subStop chan struct{}
}

func newClientConn(conn net.Conn, s *Server) *clientConn {
	return &clientConn{
		conn:   conn,
		server: s,
		log:    s.log,
	}
}

// run drains newline-delimited envelopes until the connection closes or
// ctx is cancelled. Each request.Method is looked up first in the
// mutating table (direct Executor call) and otherwise posted to the
// dispatcher as a ClientRequest event. Client disconnect discards any
// pending reply (spec §5: "the dispatcher does not learn of the
// disconnect").
func (c *clientConn) run(ctx context.Context) {
	defer c.conn.Close()
	defer c.unsubscribe()

	reader := bufio.NewReaderSize(c.conn, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(ctx, line)
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *clientConn) handleLine(ctx context.Context, line []byte) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		c.writeEnvelope(newErrorResponse("", codeInvalidEnvelope, "malformed JSON envelope", nil))
		return
	}
	if env.Type != "request" || env.Request == nil {
		c.writeEnvelope(newErrorResponse("", codeInvalidEnvelope, "expected a request envelope", nil))
		return
	}
	req := env.Request

	if req.Method == "subscribe" {
		c.subscribe()
		c.writeEnvelope(newResponse(req.ID, map[string]any{"success": true}))
		return
	}
	if req.Method == "unsubscribe" {
		c.unsubscribe()
		c.writeEnvelope(newResponse(req.ID, map[string]any{"success": true}))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.server.cfg.RequestTimeout)
	defer cancel()

	result, err := c.server.dispatch(reqCtx, req.Method, req.Params)
	if err != nil {
		code, msg := codeForError(err)
		c.writeEnvelope(newErrorResponse(req.ID, code, msg, nil))
		return
	}
	c.writeEnvelope(newResponse(req.ID, result))
}

// dispatch routes a method either to a direct Executor call (mutating
// methods) or to the dispatcher's request/reply channel (read methods
// registered via RegisterReadMethods).
func (s *Server) dispatch(ctx context.Context, method string, params []byte) (any, error) {
	if h, ok := s.mutating[method]; ok {
		if s.exec == nil {
			return nil, errors.New("rpc: mutation executor not configured")
		}
		return h(ctx, s.exec, params)
	}
	return s.dispatchRead(ctx, method, params)
}

// dispatchRead posts a ClientRequest event and waits for the dispatcher's
// reply, honoring ctx's deadline (spec §5: "default 5-second timeout; on
// timeout, the reader task emits an error response and logs").
func (s *Server) dispatchRead(ctx context.Context, method string, params []byte) (any, error) {
	reply := make(chan any, 1)
	s.queue.Post(eventqueue.Event{
		Kind: eventqueue.KindClientRequest,
		Request: eventqueue.ClientRequestBody{
			Method: method,
			Params: params,
			Reply:  reply,
		},
	})

	select {
	case v := <-reply:
		rr, ok := v.(dispatcher.RequestResult)
		if !ok {
			return nil, errors.New("rpc: malformed dispatcher reply")
		}
		return rr.Value, rr.Err
	case <-ctx.Done():
		s.log.Warn("rpc: request timed out", "method", method)
		return nil, context.DeadlineExceeded
	}
}

func (c *clientConn) writeEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("rpc: marshal envelope failed", "error", err)
		return
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		c.log.Debug("rpc: write failed, client likely disconnected", "error", err)
	}
}

// subscribe starts forwarding broadcast.Bus events to this client as
// "event"-type envelopes. While a slow client's buffer is full, the bus
// itself drops newly published events for it (broadcast.Bus.Publish);
// subscribe only adds the per-connection forwarding goroutine.
func (c *clientConn) subscribe() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subCh != nil {
		return
	}
	bufSize := c.server.cfg.BroadcastBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := c.server.bus.Subscribe(bufSize)
	stop := make(chan struct{})
	c.subCh = ch
	c.subStop = stop

	c.subWG.Add(1)
	go func() {
		defer c.subWG.Done()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				c.writeEnvelope(newEventEnvelope(ev.Kind, ev.Data, ev.Timestamp))
			case <-stop:
				return
			}
		}
	}()
}

func (c *clientConn) unsubscribe() {
	c.subMu.Lock()
	ch := c.subCh
	stop := c.subStop
	c.subCh = nil
	c.subStop = nil
	c.subMu.Unlock()

	if ch == nil {
		return
	}
	close(stop)
	c.server.bus.Unsubscribe(ch)
	c.subWG.Wait()
}
