package rpc

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/mutation"
)

// updateWindowParams mirrors spec §6.2.1's updateWindow row: every field
// but windowId is optional, and only the fields present are applied.
type updateWindowParams struct {
	WindowID    uint32   `json:"windowId"`
	X           *float64 `json:"x"`
	Y           *float64 `json:"y"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	SpaceID     *string  `json:"spaceId"`
	DisplayUUID *string  `json:"displayUuid"`
}

func handleUpdateWindow(ctx context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p updateWindowParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}

	var applied []string

	if p.SpaceID != nil {
		sid, err := strconv.ParseUint(*p.SpaceID, 10, 64)
		if err != nil {
			return nil, errInvalidParams(err)
		}
		if err := exec.MoveWindowToSpace(ctx, p.WindowID, sid); err != nil {
			return nil, err
		}
		applied = append(applied, "spaceId")
	}

	if p.DisplayUUID != nil {
		var position *model.Rect
		if p.X != nil || p.Y != nil {
			w, err := exec.Window(p.WindowID)
			if err != nil {
				return nil, err
			}
			frame := w.Frame
			if p.X != nil {
				frame.X = *p.X
			}
			if p.Y != nil {
				frame.Y = *p.Y
			}
			position = &frame
		}
		if err := exec.MoveWindowToDisplay(ctx, p.WindowID, *p.DisplayUUID, position); err != nil {
			return nil, err
		}
		applied = append(applied, "displayUuid")
		if position != nil {
			applied = append(applied, "x", "y")
		}
	} else if p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil {
		w, err := exec.Window(p.WindowID)
		if err != nil {
			return nil, err
		}
		frame := w.Frame
		if p.X != nil {
			frame.X = *p.X
			applied = append(applied, "x")
		}
		if p.Y != nil {
			frame.Y = *p.Y
			applied = append(applied, "y")
		}
		if p.Width != nil {
			frame.Width = *p.Width
			applied = append(applied, "width")
		}
		if p.Height != nil {
			frame.Height = *p.Height
			applied = append(applied, "height")
		}
		if err := exec.SetWindowFrame(p.WindowID, frame); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"success":        true,
		"windowId":       p.WindowID,
		"updatesApplied": applied,
	}, nil
}

func handleWindowFocus(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	wid, err := parseWindowID(raw)
	if err != nil {
		return nil, err
	}
	if err := exec.FocusWindow(wid); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": wid}, nil
}

type opacityParams struct {
	WindowID uint32  `json:"windowId"`
	Alpha    float32 `json:"alpha"`
	Duration float32 `json:"duration"`
}

func handleSetOpacity(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p opacityParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if err := exec.SetWindowOpacity(p.WindowID, p.Alpha); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": p.WindowID}, nil
}

func handleFadeOpacity(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p opacityParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if err := exec.FadeOpacity(p.WindowID, p.Alpha, p.Duration); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": p.WindowID}, nil
}

type layerParams struct {
	WindowID uint32 `json:"windowId"`
	Layer    string `json:"layer"`
}

func layerValue(name string) (int32, error) {
	switch name {
	case "below":
		return -1, nil
	case "normal":
		return 0, nil
	case "above":
		return 1, nil
	default:
		return 0, errInvalidParams(&invalidLayerError{name: name})
	}
}

type invalidLayerError struct{ name string }

func (e *invalidLayerError) Error() string { return "invalid layer: " + e.name }

func handleSetLayer(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p layerParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	layer, err := layerValue(p.Layer)
	if err != nil {
		return nil, err
	}
	if err := exec.SetLayer(p.WindowID, layer); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": p.WindowID}, nil
}

type stickyParams struct {
	WindowID uint32 `json:"windowId"`
	Sticky   bool   `json:"sticky"`
}

func handleSetSticky(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p stickyParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if err := exec.SetSticky(p.WindowID, p.Sticky); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": p.WindowID}, nil
}

func handleMinimize(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	wid, err := parseWindowID(raw)
	if err != nil {
		return nil, err
	}
	if err := exec.Minimize(wid); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": wid}, nil
}

func handleUnminimize(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	wid, err := parseWindowID(raw)
	if err != nil {
		return nil, err
	}
	if err := exec.Unminimize(wid); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "windowId": wid}, nil
}

type displaySpaceIDParams struct {
	DisplaySpaceID string `json:"displaySpaceId"`
}

func handleSpaceCreate(ctx context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	var p displaySpaceIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errInvalidParams(err)
	}
	if _, err := exec.SpaceCreate(p.DisplaySpaceID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

type spaceIDParams struct {
	SpaceID string `json:"spaceId"`
}

func parseSpaceID(raw []byte) (uint64, error) {
	var p spaceIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return 0, errInvalidParams(err)
	}
	sid, err := strconv.ParseUint(p.SpaceID, 10, 64)
	if err != nil {
		return 0, errInvalidParams(err)
	}
	return sid, nil
}

func handleSpaceDestroy(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	sid, err := parseSpaceID(raw)
	if err != nil {
		return nil, err
	}
	if err := exec.SpaceDestroy(sid); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func handleSpaceFocus(_ context.Context, exec *mutation.Executor, raw []byte) (any, error) {
	sid, err := parseSpaceID(raw)
	if err != nil {
		return nil, err
	}
	if err := exec.SpaceFocus(sid); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}
