package common

import "errors"

// ErrModulePaused is surfaced when an operator has paused a native module.
var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause switchboard.
const (
	ModuleEscrow   = "escrow"
	ModuleRegistry = "registry"
	ModuleAccess   = "access"
)

// PauseView reports whether a named module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused. Nil views and empty
// module names pass through.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
