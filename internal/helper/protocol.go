// Package helper is the client for the privileged Helper Side-Channel (spec
// §6.4): a second Unix stream socket, owner-permission-scoped, speaking a
// compact binary opcode protocol distinct from the JSON-RPC gateway. The
// request/response correlation shape — a persistent connection and a
// reconnect path driven by liveness probing — is adapted from the
// teacher's WSClient, but the wire format here has no message id: the
// helper answers one request at a time on a single connection, so Client
// serializes calls with a mutex and reads each response synchronously
// inside the call, instead of a readLoop and a pending-response map.
package helper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Opcode identifies a helper operation. Values are fixed by the wire
// protocol (spec §6.4).
type Opcode byte

const (
	OpHandshake           Opcode = 0x01
	OpSpaceFocus          Opcode = 0x02
	OpSpaceCreate         Opcode = 0x03
	OpSpaceDestroy        Opcode = 0x04
	OpSpaceMove           Opcode = 0x05
	OpWindowMove          Opcode = 0x06
	OpWindowOpacity       Opcode = 0x07
	OpWindowOpacityFade   Opcode = 0x08
	OpWindowLayer         Opcode = 0x09
	OpWindowSticky        Opcode = 0x0A
	OpWindowShadow        Opcode = 0x0B
	OpWindowFocus         Opcode = 0x0C
	OpWindowScale         Opcode = 0x0D
	OpWindowListToSpace   Opcode = 0x12
	OpWindowToSpace       Opcode = 0x13
)

func (o Opcode) String() string {
	switch o {
	case OpHandshake:
		return "Handshake"
	case OpSpaceFocus:
		return "SpaceFocus"
	case OpSpaceCreate:
		return "SpaceCreate"
	case OpSpaceDestroy:
		return "SpaceDestroy"
	case OpSpaceMove:
		return "SpaceMove"
	case OpWindowMove:
		return "WindowMove"
	case OpWindowOpacity:
		return "WindowOpacity"
	case OpWindowOpacityFade:
		return "WindowOpacityFade"
	case OpWindowLayer:
		return "WindowLayer"
	case OpWindowSticky:
		return "WindowSticky"
	case OpWindowShadow:
		return "WindowShadow"
	case OpWindowFocus:
		return "WindowFocus"
	case OpWindowScale:
		return "WindowScale"
	case OpWindowListToSpace:
		return "WindowListToSpace"
	case OpWindowToSpace:
		return "WindowToSpace"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", byte(o))
	}
}

// Capability bits returned by Handshake (spec §6.4).
const (
	CapDockSpaces uint32 = 1 << iota
	CapDesktopPictureManager
	CapAddSpace
	CapRemoveSpace
	CapMoveSpace
	CapSetWindow
	CapAnimationTime
)

// ErrNAK is returned when the helper responds with the single failure byte
// 0x00 to a non-handshake opcode.
var ErrNAK = errors.New("helper: opcode NAK")

// ErrShortWrite/ErrShortRead indicate the wire framing was truncated —
// always a connection-level failure, never a semantic NAK.
var (
	ErrShortWrite = errors.New("helper: short write")
	ErrShortRead  = errors.New("helper: short read")
)

// putFloat32 appends f as little-endian IEEE-754 bits.
func putFloat32(buf []byte, f float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
	return append(buf, b[:]...)
}
