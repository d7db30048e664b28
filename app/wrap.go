// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/z5labs/pdfrelay/internal/try"

	"go.uber.org/zap"
)

// Recover will wrap the give [App] with panic recovery.
// If the recovered panic value implements [error] then it will
// be directly returned. If it does not implement [error] then a
// [try.PanicError] will be returned instead.
func Recover(app App) App {
	return Func(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return app.Run(ctx)
	})
}

// WithSignalNotifications wraps a given [App] in an implementation
// that cancels the [context.Context] that's passed to app.Run if an [os.Signal]
// is received by the running process.
func WithSignalNotifications(app App, signals ...os.Signal) App {
	return Func(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return app.Run(sigCtx)
	})
}

// ShutdownTimeoutError is returned when an [App] does not return
// within its shutdown deadline.
type ShutdownTimeoutError struct {
	Deadline time.Duration
}

// Error implements the [builtin.error] interface.
func (e ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("graceful shutdown did not complete within %s", e.Deadline)
}

// WithShutdownDeadline bounds how long app may take to return once
// its context is cancelled. On expiry the App is abandoned.
func WithShutdownDeadline(app App, d time.Duration, log *zap.Logger) App {
	return Func(func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			defer close(errCh)

			var err error
			defer func() {
				errCh <- err
			}()
			defer try.Recover(&err)

			err = app.Run(ctx)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down", zap.Duration("deadline", d))
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case err := <-errCh:
			return err
		case <-timer.C:
			log.Error("graceful shutdown did not complete", zap.Duration("deadline", d))
			return ShutdownTimeoutError{Deadline: d}
		}
	})
}
