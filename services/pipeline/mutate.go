// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// defaultMutateAttempts bounds the read-apply-save retry loop.
const defaultMutateAttempts = 5

// mutate retries a read-apply-save cycle on revision conflicts. Any
// other error aborts immediately.
func mutate(ctx context.Context, attempts int, once func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = defaultMutateAttempts
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = once(ctx)
		if !errors.Is(err, ErrRevisionConflict) {
			return err
		}
	}
	return fmt.Errorf("concurrency conflict after %d attempts: %w", attempts, err)
}
