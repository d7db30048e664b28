// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of tasks concurrently.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/pdfrelay/internal/try"
)

// Task is a unit of work run by Wait.
type Task func(context.Context) error

// Wait runs every task on its own goroutine and blocks until all return.
// The first failure cancels the context passed to the remaining tasks.
// Panics are recovered as try.PanicError. Every failure is joined into
// the returned error.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = run(ctx, task)
			if errs[i] != nil {
				cancel(errs[i])
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

func run(ctx context.Context, task Task) (err error) {
	defer try.Recover(&err)

	return task(ctx)
}
