package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RecoverableFunc adapts a plain function to Recoverable.
type RecoverableFunc func(ctx context.Context) error

func (f RecoverableFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

// WithTimeout bounds a component's recovery to d.
func WithTimeout(r Recoverable, d time.Duration) Recoverable {
	return RecoverableFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		start := time.Now()
		err := r.RecoverState(ctx)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("recovery timed out after %s: %w", d, err)
		}
		slog.Debug("Recovery step finished", "elapsed", time.Since(start), "error", err)
		return err
	})
}
