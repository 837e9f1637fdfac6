package sensor

import "time"

// MDV is a mode-dependent numeric value: a mapping from optional mode
// name to a non-negative number of seconds, plus a mandatory default.
// Each sensor carries three of these (activation delay, prealert
// duration, alert duration).
type MDV struct {
	PerMode map[string]float64
	Default float64
}

// NewConstantMDV builds an MDV with no per-mode overrides.
func NewConstantMDV(defaultSeconds float64) MDV {
	return MDV{Default: defaultSeconds}
}

// For returns the duration for mode, falling back to Default when mode
// has no override.
func (m MDV) For(mode string) time.Duration {
	if m.PerMode != nil {
		if v, ok := m.PerMode[mode]; ok {
			return secondsToDuration(v)
		}
	}
	return secondsToDuration(m.Default)
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
