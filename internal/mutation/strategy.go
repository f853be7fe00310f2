package mutation

import "github.com/nugget/spaced/internal/gate"

// Strategy is one of the three MoveWindowToSpace paths (spec §4.8).
type Strategy int

const (
	StrategyDirect Strategy = iota
	StrategyHelper
	StrategyCompatibility
)

func (s Strategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyHelper:
		return "helper"
	case StrategyCompatibility:
		return "compatibility"
	default:
		return "unknown"
	}
}

// selectStrategy implements spec §4.8's selection algorithm verbatim:
//
//	if os_needs_modern_path():
//	    if helper_available(): return Helper
//	    if policy.allow_fallback: return Compatibility
//	    fail("helper required on this OS")
//	else:
//	    return Direct
func selectStrategy(caps gate.Capabilities, allowFallback bool) (Strategy, error) {
	if !caps.ModernPath {
		return StrategyDirect, nil
	}
	if caps.HelperAvailable {
		return StrategyHelper, nil
	}
	if allowFallback {
		return StrategyCompatibility, nil
	}
	return 0, ErrHelperRequired
}
