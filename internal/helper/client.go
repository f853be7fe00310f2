package helper

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
)

// ExpectedVersion is this daemon's compiled-in expectation for the
// helper's handshake version string. A mismatch is a Helper error (spec
// §7) and every mutation opcode fails closed until the helper is upgraded.
const ExpectedVersion = "spaced-helper/1"

// Handshake is performed on every connection open (spec §6.4).
type Handshake struct {
	Version      string
	Capabilities uint32
}

// HasCapability reports whether the handshake's bitmask includes bit.
func (h Handshake) HasCapability(bit uint32) bool {
	return h.Capabilities&bit == bit
}

// Client owns a single persistent connection to the helper socket. Every
// call is serialized through callMu because the wire protocol carries no
// correlation id — the helper answers exactly one request at a time per
// connection, unlike the JSON-RPC gateway's concurrent client connections.
type Client struct {
	socketPath string
	logger     *slog.Logger

	connMu sync.Mutex
	conn   net.Conn
	rd     *bufio.Reader

	callMu    sync.Mutex
	handshake Handshake
}

// NewClient creates a client bound to socketPath. Dial must be called
// before use.
func NewClient(socketPath string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{socketPath: socketPath, logger: logger}
}

// Dial connects to the helper socket and performs the handshake. Safe to
// call again after a connection loss to reconnect — the daemon calls it
// from the helper watcher's connwatch probe, so each probe attempt is a
// reconnect attempt.
func (c *Client) Dial(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial helper socket: %w", err)
	}

	c.conn = conn
	c.rd = bufio.NewReader(conn)

	hs, err := c.handshakeLocked()
	if err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("helper handshake: %w", err)
	}
	c.handshake = hs

	if hs.Version != ExpectedVersion {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("helper version mismatch: got %q, want %q", hs.Version, ExpectedVersion)
	}

	c.logger.Info("helper connected", "version", hs.Version, "capabilities", hs.Capabilities)
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the client currently holds an open connection.
// internal/gate polls this to decide whether helper-dependent mutation
// strategies are available.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

// Handshake returns the capability bitmask from the most recent successful
// handshake.
func (c *Client) Handshake() Handshake {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.handshake
}

// handshakeLocked performs opcode 0x01 and parses its distinctive
// response: a NUL-terminated version string followed by a little-endian
// u32 capability bitmask. Caller holds connMu.
func (c *Client) handshakeLocked() (Handshake, error) {
	if err := c.writeFrameLocked(byte(OpHandshake), nil); err != nil {
		return Handshake{}, err
	}

	version, err := c.rd.ReadString(0)
	if err != nil {
		return Handshake{}, fmt.Errorf("read version cstring: %w", err)
	}
	version = version[:len(version)-1] // drop trailing NUL

	var capBuf [4]byte
	if _, err := io.ReadFull(c.rd, capBuf[:]); err != nil {
		return Handshake{}, fmt.Errorf("read capability bitmask: %w", err)
	}

	return Handshake{
		Version:      version,
		Capabilities: binary.LittleEndian.Uint32(capBuf[:]),
	}, nil
}

// writeFrameLocked writes [opcode][payload] to the connection. Caller
// holds connMu (handshakeLocked) or callMu+connMu (call).
func (c *Client) writeFrameLocked(opcode byte, payload []byte) error {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, opcode)
	frame = append(frame, payload...)

	if c.conn == nil {
		return fmt.Errorf("helper: not connected")
	}
	n, err := c.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return ErrShortWrite
	}
	return nil
}

// call sends opcode+payload and reads the single success/failure byte
// response. correlationID exists purely for trace-level log correlation —
// the wire protocol has no id field, so it never leaves this process.
func (c *Client) call(op Opcode, payload []byte) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	correlationID := uuid.New()
	c.logger.Log(context.Background(), slogLevelTrace, "helper call",
		"opcode", op.String(), "correlation_id", correlationID)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if err := c.writeFrameLocked(byte(op), payload); err != nil {
		return err
	}

	resp, err := c.rd.ReadByte()
	if err != nil {
		return fmt.Errorf("read response byte: %w", err)
	}
	if resp == 0x00 {
		return fmt.Errorf("%s: %w", op, ErrNAK)
	}
	if resp != 0x01 {
		return fmt.Errorf("%s: unexpected response byte 0x%02X", op, resp)
	}
	return nil
}

// slogLevelTrace mirrors internal/config's trace level (below Debug) for
// wire-level forensics, without importing internal/config here (helper
// must not depend on the config package).
const slogLevelTrace = slog.Level(-8)

// --- public operations, one per opcode (spec §6.4) ---

func (c *Client) SpaceFocus(sid uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, sid)
	return c.call(OpSpaceFocus, buf)
}

func (c *Client) SpaceCreate(displaySID uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, displaySID)
	return c.call(OpSpaceCreate, buf)
}

func (c *Client) SpaceDestroy(sid uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, sid)
	return c.call(OpSpaceDestroy, buf)
}

func (c *Client) SpaceMove(srcSID, dstSID uint64) error {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], srcSID)
	binary.LittleEndian.PutUint64(buf[8:16], dstSID)
	return c.call(OpSpaceMove, buf)
}

func (c *Client) WindowMove(wid uint32, x, y float32) error {
	buf := make([]byte, 0, 12)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	buf = putFloat32(buf, x)
	buf = putFloat32(buf, y)
	return c.call(OpWindowMove, buf)
}

func (c *Client) WindowOpacity(wid uint32, alpha float32) error {
	buf := make([]byte, 0, 8)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	buf = putFloat32(buf, alpha)
	return c.call(OpWindowOpacity, buf)
}

func (c *Client) WindowOpacityFade(wid uint32, alpha, duration float32) error {
	buf := make([]byte, 0, 12)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	buf = putFloat32(buf, alpha)
	buf = putFloat32(buf, duration)
	return c.call(OpWindowOpacityFade, buf)
}

func (c *Client) WindowLayer(wid uint32, layer int32) error {
	buf := make([]byte, 0, 8)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(layer))
	return c.call(OpWindowLayer, buf)
}

func (c *Client) WindowSticky(wid uint32, flag bool) error {
	return c.call(OpWindowSticky, windowFlagPayload(wid, flag))
}

func (c *Client) WindowShadow(wid uint32, flag bool) error {
	return c.call(OpWindowShadow, windowFlagPayload(wid, flag))
}

func (c *Client) WindowFocus(wid uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, wid)
	return c.call(OpWindowFocus, buf)
}

// WindowScale applies a 2D affine transform expressed as 6 float32 values
// (row-major 3x2 matrix), per spec §6.4 opcode 0x0D.
func (c *Client) WindowScale(wid uint32, transform [6]float32) error {
	buf := make([]byte, 0, 4+6*4)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	for _, f := range transform {
		buf = putFloat32(buf, f)
	}
	return c.call(OpWindowScale, buf)
}

func (c *Client) WindowListToSpace(sid uint64, wids []uint32) error {
	buf := make([]byte, 0, 8+4+4*len(wids))
	buf = binary.LittleEndian.AppendUint64(buf, sid)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(wids)))
	for _, w := range wids {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	return c.call(OpWindowListToSpace, buf)
}

func (c *Client) WindowToSpace(sid uint64, wid uint32) error {
	buf := make([]byte, 0, 12)
	buf = binary.LittleEndian.AppendUint64(buf, sid)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	return c.call(OpWindowToSpace, buf)
}

func windowFlagPayload(wid uint32, flag bool) []byte {
	buf := make([]byte, 0, 5)
	buf = binary.LittleEndian.AppendUint32(buf, wid)
	if flag {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
