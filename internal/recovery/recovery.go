// Package recovery restores component state when the process starts, before
// any traffic is served.
//
// Components register in the order they must run: the action queue releases
// claims left by a crashed process, the content cache reloads its entities
// and sweeps expired ones.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context) error
}

type registered struct {
	name string
	r    Recoverable
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	recoverables []registered
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a component; components recover in registration order.
func (rm *RecoveryManager) RegisterRecoverable(name string, r Recoverable) {
	rm.recoverables = append(rm.recoverables, registered{name: name, r: r})
}

// Components returns the registered component names in order.
func (rm *RecoveryManager) Components() []string {
	names := make([]string, len(rm.recoverables))
	for i, reg := range rm.recoverables {
		names[i] = reg.name
	}
	return names
}

// RecoverAll performs recovery of all registered components. A failing
// component does not stop the others; the failures are counted in the
// returned error.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting application recovery", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0

	for _, reg := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recovery interrupted before %s: %w", reg.name, err)
		}
		if err := reg.r.RecoverState(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", reg.name)
			errorCount++
			continue
		}
		slog.Debug("Component recovered", "component", reg.name)
		recoveredCount++
	}

	slog.Info("Application recovery completed", "recovered", recoveredCount, "errors", errorCount)

	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}
