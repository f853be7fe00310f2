package rpc

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nugget/spaced/internal/dispatcher"
	"github.com/nugget/spaced/internal/model"
)

// ServerInfo is the static identity getServerInfo reports (spec §6.2.1).
// Populated once at startup from internal/buildinfo and the gate's
// capability snapshot.
type ServerInfo struct {
	Name     string
	Version  string
	Platform string

	SupportsSpaces        bool
	SupportsWindows        bool
	SupportsEvents         bool
	SupportsStateTracking  bool
}

// RegisterReadMethods installs every read-only method (spec §6.2.1's
// non-mutating rows) as a Dispatcher request handler. These run under
// the dispatcher's write lock (internal/dispatcher.handleClientRequest),
// so they use the *Locked model accessors rather than the RLock-taking
// ones mutation.Executor relies on — calling the latter here would
// deadlock against the lock the dispatcher already holds.
//
// Mutating methods are NOT registered here: they are dispatched straight
// to internal/mutation.Executor from the client's own goroutine (see
// server.go's Server.mutating map), since Executor's reads take the model's
// ordinary read lock and its writes flow back in through posted events,
// not through this request/reply channel.
func RegisterReadMethods(disp *dispatcher.Dispatcher, info ServerInfo) {
	disp.RegisterMethod("ping", handlePing)
	disp.RegisterMethod("echo", handleEcho)
	disp.RegisterMethod("getServerInfo", func(m *model.Model, params []byte) (any, error) {
		return handleGetServerInfo(info), nil
	})
	disp.RegisterMethod("dump", handleDump)
	disp.RegisterMethod("window.getOpacity", handleGetOpacity)
	disp.RegisterMethod("window.getLayer", handleGetLayer)
	disp.RegisterMethod("window.isSticky", handleIsSticky)
	disp.RegisterMethod("window.isMinimized", handleIsMinimized)
}

func handlePing(_ *model.Model, _ []byte) (any, error) {
	return map[string]any{"pong": true, "timestamp": float64(time.Now().UnixMilli()) / 1000}, nil
}

func handleEcho(_ *model.Model, params []byte) (any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return nil, errInvalidParams(err)
	}
	return v, nil
}

func handleGetServerInfo(info ServerInfo) any {
	return map[string]any{
		"name":     info.Name,
		"version":  info.Version,
		"platform": info.Platform,
		"capabilities": map[string]any{
			"spaces":        info.SupportsSpaces,
			"windows":       info.SupportsWindows,
			"events":        info.SupportsEvents,
			"stateTracking": info.SupportsStateTracking,
		},
	}
}

func handleDump(m *model.Model, _ []byte) (any, error) {
	displays := m.AllDisplaysLocked()
	out := dumpResult{
		Displays:     make([]displayDTO, 0, len(displays)),
		Spaces:       make(map[string]spaceDTO),
		Windows:      make(map[string]windowDTO),
		Applications: make(map[string]applicationDTO),
		Metadata:     metadataToDTO(m.MetadataLocked()),
	}
	for _, d := range displays {
		out.Displays = append(out.Displays, displayToDTO(d))
	}
	for id, sp := range m.AllSpacesLocked() {
		out.Spaces[strconv.FormatUint(id, 10)] = spaceToDTO(sp)
	}
	for id, w := range m.AllWindowsLocked() {
		out.Windows[strconv.FormatUint(uint64(id), 10)] = windowToDTO(w)
	}
	for pid, a := range m.AllApplicationsLocked() {
		out.Applications[strconv.FormatInt(int64(pid), 10)] = applicationToDTO(a)
	}
	return out, nil
}

type windowIDParams struct {
	WindowID uint32 `json:"windowId"`
}

func parseWindowID(params []byte) (uint32, error) {
	var p windowIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return 0, errInvalidParams(err)
	}
	return p.WindowID, nil
}

func handleGetOpacity(m *model.Model, params []byte) (any, error) {
	wid, err := parseWindowID(params)
	if err != nil {
		return nil, err
	}
	w, ok := m.WindowLocked(wid)
	if !ok {
		return nil, model.ErrWindowNotFound
	}
	return map[string]any{"windowId": wid, "opacity": w.Alpha}, nil
}

func handleGetLayer(m *model.Model, params []byte) (any, error) {
	wid, err := parseWindowID(params)
	if err != nil {
		return nil, err
	}
	w, ok := m.WindowLocked(wid)
	if !ok {
		return nil, model.ErrWindowNotFound
	}
	return map[string]any{"windowId": wid, "layer": layerName(w.Level)}, nil
}

func handleIsSticky(m *model.Model, params []byte) (any, error) {
	wid, err := parseWindowID(params)
	if err != nil {
		return nil, err
	}
	w, ok := m.WindowLocked(wid)
	if !ok {
		return nil, model.ErrWindowNotFound
	}
	return map[string]any{"windowId": wid, "sticky": len(w.SpaceIDs) > 1}, nil
}

func handleIsMinimized(m *model.Model, params []byte) (any, error) {
	wid, err := parseWindowID(params)
	if err != nil {
		return nil, err
	}
	w, ok := m.WindowLocked(wid)
	if !ok {
		return nil, model.ErrWindowNotFound
	}
	return map[string]any{"windowId": wid, "minimized": w.IsMinimized}, nil
}

// layerName renders the window-server's {-1,0,1} level back to the
// below/normal/above vocabulary space.setLayer/window.setLayer accept
// (spec §6.2.1).
func layerName(level int32) string {
	switch {
	case level < 0:
		return "below"
	case level > 0:
		return "above"
	default:
		return "normal"
	}
}

// errInvalidParams marks a params-unmarshal failure so server.go's
// dispatch loop maps it to -32602 rather than -32603.
type invalidParamsError struct{ err error }

func (e *invalidParamsError) Error() string { return "invalid params: " + e.err.Error() }
func (e *invalidParamsError) Unwrap() error { return e.err }

func errInvalidParams(err error) error { return &invalidParamsError{err: err} }
