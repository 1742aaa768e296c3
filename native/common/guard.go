package common

import "strings"

var ErrModulePaused = NewError(ClassPhase, "module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names loaded
// from configuration. A pause on "venue" also covers "venue.auction".
type StaticPauses map[string]bool

// NewStaticPauses builds a pause set from configured module names.
func NewStaticPauses(modules []string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, module := range modules {
		trimmed := strings.ToLower(strings.TrimSpace(module))
		if trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	if len(s) == 0 {
		return false
	}
	name := strings.ToLower(module)
	for {
		if s[name] {
			return true
		}
		idx := strings.LastIndex(name, ".")
		if idx < 0 {
			return false
		}
		name = name[:idx]
	}
}
