package mutation

import "errors"

// Sentinel errors for the taxonomy in spec §7. internal/rpc maps these
// (via errors.Is) onto the JSON-RPC error codes in spec §6.2: window/space/
// display-not-found sentinels are reused straight from internal/model
// (model.ErrWindowNotFound etc.) rather than redeclared here; everything
// below is specific to mutation semantics the model package has no
// opinion on.
var (
	// ErrSameSpace is MoveWindowToSpace's contract: "fails if target
	// space is ... same as current" (spec §4.7).
	ErrSameSpace = errors.New("mutation: window is already on the target space")

	// ErrFullscreenTarget is MoveWindowToSpace's other stated failure:
	// "fails if target space is fullscreen."
	ErrFullscreenTarget = errors.New("mutation: target space is fullscreen")

	// ErrLastSpaceOnDisplay is SpaceDestroy's contract: "fails if the
	// space is the last on its display."
	ErrLastSpaceOnDisplay = errors.New("mutation: cannot destroy the last space on a display")

	// ErrMissionControlActive defers space-switching mutations while
	// Mission Control is open (spec §4.6, WSMissionControlEnter/Exit).
	ErrMissionControlActive = errors.New("mutation: deferred while Mission Control is active")

	// ErrHelperRequired is the strategy-selection failure path: modern
	// OS, no helper, and policy forbids the Compatibility fallback
	// (spec §4.8: fail("helper required on this OS")).
	ErrHelperRequired = errors.New("mutation: helper side-channel required on this OS version")

	// ErrHelperUnavailable covers every operation spec §4.7 marks
	// "helper-side-channel only" when no helper connection exists,
	// independent of OS-version strategy selection.
	ErrHelperUnavailable = errors.New("mutation: helper side-channel unavailable")

	// ErrAXUnavailable is returned when an accessibility write primitive
	// (SetWindowFrame, FocusWindow, Minimize/Unminimize) was not resolved
	// at startup.
	ErrAXUnavailable = errors.New("mutation: accessibility write primitive unavailable")

	// ErrVerificationFailed is the "verify by re-querying... return
	// success only if verification confirms" contract from spec §4.8,
	// generalized to every mutation this package re-confirms.
	ErrVerificationFailed = errors.New("mutation: post-mutation verification did not observe the expected state")
)
