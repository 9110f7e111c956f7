package common

import "fmt"

// ErrModulePaused is returned by Guard when an operator paused the module.
var ErrModulePaused = fmt.Errorf("module paused: %w", ErrState)

// PauseView reports operator pause switches by module name ("vat", "dog",
// "cdp" or "clip:<ilk>").
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is switched off. A nil view
// never pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrModulePaused, module)
}
