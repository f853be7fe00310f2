package rpc

import (
	"time"

	"github.com/nugget/spaced/internal/model"
)

// The DTOs below give the wire format in spec §3/§6.2.2 a stable JSON
// shape independent of internal/model's Go-field-name conventions
// (model.Window and model.Metadata carry no json tags, and the tags the
// other model types carry are not the wire contract — internal/model is an
// in-process table; internal/rpc owns the boundary where that distinction
// matters).

type rectDTO struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func rectToDTO(r model.Rect) rectDTO {
	return rectDTO{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

type displayDTO struct {
	UUID            string  `json:"uuid"`
	DisplayID       uint32  `json:"displayId"`
	Frame           rectDTO `json:"frame"`
	VisibleFrame    rectDTO `json:"visibleFrame"`
	ScaleFactor     float64 `json:"scaleFactor"`
	IsMain          bool    `json:"isMain"`
	IsBuiltin       bool    `json:"isBuiltin"`
	RefreshHz       float64 `json:"refreshHz"`
	PixelW          int     `json:"pixelW"`
	PixelH          int     `json:"pixelH"`
	Name            string  `json:"name"`
	SpaceIDs        []uint64 `json:"spaceIds"`
	CurrentSpaceID  uint64  `json:"currentSpaceId"`
}

func displayToDTO(d model.Display) displayDTO {
	return displayDTO{
		UUID:           d.UUID,
		DisplayID:      d.DisplayID,
		Frame:          rectToDTO(d.Frame),
		VisibleFrame:   rectToDTO(d.VisibleFrame),
		ScaleFactor:    d.ScaleFactor,
		IsMain:         d.IsMain,
		IsBuiltin:      d.IsBuiltin,
		RefreshHz:      d.RefreshHz,
		PixelW:         d.PixelW,
		PixelH:         d.PixelH,
		Name:           d.Name,
		SpaceIDs:       d.SpaceIDs,
		CurrentSpaceID: d.CurrentSpace,
	}
}

type spaceDTO struct {
	ID          uint64   `json:"id"`
	UUID        string   `json:"uuid"`
	Kind        string   `json:"kind"`
	DisplayUUID string   `json:"displayUuid"`
	IsActive    bool     `json:"isActive"`
	WindowIDs   []uint32 `json:"windowIds"`
}

func spaceToDTO(s model.Space) spaceDTO {
	return spaceDTO{
		ID:          s.ID,
		UUID:        s.UUID,
		Kind:        s.Kind.String(),
		DisplayUUID: s.DisplayUUID,
		IsActive:    s.IsActive,
		WindowIDs:   s.WindowIDList(),
	}
}

type applicationDTO struct {
	PID               int32     `json:"pid"`
	BundleID          string    `json:"bundleId"`
	BundlePath        string    `json:"bundlePath"`
	ExecutablePath    string    `json:"executablePath"`
	Name              string    `json:"name"`
	LaunchTime        time.Time `json:"launchTime"`
	ActivationPolicy  string    `json:"activationPolicy"`
	IsHidden          bool      `json:"isHidden"`
	IsActive          bool      `json:"isActive"`
	FinishedLaunching bool      `json:"finishedLaunching"`
	Architecture      string    `json:"architecture"`
	WindowIDs         []uint32  `json:"windowIds"`
}

func applicationToDTO(a model.Application) applicationDTO {
	return applicationDTO{
		PID:               a.PID,
		BundleID:          a.BundleID,
		BundlePath:        a.BundlePath,
		ExecutablePath:    a.ExecutablePath,
		Name:              a.Name,
		LaunchTime:        a.LaunchTime,
		ActivationPolicy:  a.ActivationPolicy.String(),
		IsHidden:          a.IsHidden,
		IsActive:          a.IsActive,
		FinishedLaunching: a.FinishedLaunching,
		Architecture:      a.Architecture,
		WindowIDs:         a.WindowIDList(),
	}
}

type windowDTO struct {
	ID             uint32   `json:"id"`
	PID            int32    `json:"pid"`
	AppName        string   `json:"appName"`
	Title          string   `json:"title"`
	Frame          rectDTO  `json:"frame"`
	Level          int32    `json:"level"`
	SubLevel       int32    `json:"subLevel"`
	Alpha          float32  `json:"alpha"`
	HasTransform   bool     `json:"hasTransform"`
	IsOrderedIn    bool     `json:"isOrderedIn"`
	IsMinimized    bool     `json:"isMinimized"`
	SpaceIDs       []uint64 `json:"spaceIds"`
	Role           string   `json:"role"`
	Subrole        string   `json:"subrole"`
	ParentWID      *uint32  `json:"parentWid,omitempty"`
	HasCloseButton bool     `json:"hasCloseButton"`
	HasFullscreen  bool     `json:"hasFullscreen"`
	HasMinimize    bool     `json:"hasMinimize"`
	HasZoom        bool     `json:"hasZoom"`
	IsModal        bool     `json:"isModal"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

func windowToDTO(w model.Window) windowDTO {
	return windowDTO{
		ID:             w.ID,
		PID:            w.PID,
		AppName:        w.AppName,
		Title:          w.Title,
		Frame:          rectToDTO(w.Frame),
		Level:          w.Level,
		SubLevel:       w.SubLevel,
		Alpha:          w.Alpha,
		HasTransform:   w.HasTransform,
		IsOrderedIn:    w.IsOrderedIn,
		IsMinimized:    w.IsMinimized,
		SpaceIDs:       w.SpaceIDs,
		Role:           w.Role,
		Subrole:        w.Subrole,
		ParentWID:      w.ParentWID,
		HasCloseButton: w.HasCloseButton,
		HasFullscreen:  w.HasFullscreen,
		HasMinimize:    w.HasMinimize,
		HasZoom:        w.HasZoom,
		IsModal:        w.IsModal,
		LastUpdated:    w.LastUpdated,
	}
}

type metadataDTO struct {
	LastUpdate        time.Time `json:"lastUpdate"`
	ConnectionID      uint64    `json:"connectionID"`
	FocusedWindowID   *uint32   `json:"focusedWindowID,omitempty"`
	ActiveDisplayUUID *string   `json:"activeDisplayUUID,omitempty"`
}

func metadataToDTO(m model.Metadata) metadataDTO {
	return metadataDTO{
		LastUpdate:        m.LastUpdate,
		ConnectionID:      m.ConnectionID,
		FocusedWindowID:   m.FocusedWindowID,
		ActiveDisplayUUID: m.ActiveDisplayUUID,
	}
}

// dumpResult is the `dump` method's result shape (spec §6.2.2 exactly).
type dumpResult struct {
	Displays     []displayDTO              `json:"displays"`
	Spaces       map[string]spaceDTO       `json:"spaces"`
	Windows      map[string]windowDTO      `json:"windows"`
	Applications map[string]applicationDTO `json:"applications"`
	Metadata     metadataDTO               `json:"metadata"`
}
