// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Join2 runs fa and fb concurrently and waits for both.
//
// Description:
//
//	Both tasks receive a context derived from ctx that is cancelled as soon
//	as either task fails. On any failure the partial result of the other
//	task is discarded and the first error is returned.
//
// Inputs:
//   - ctx: Parent context.
//   - fa, fb: The two tasks.
//
// Outputs:
//   - A, B: Both results when both tasks succeed; zero values otherwise.
//   - error: The first task error, or nil.
//
// Thread Safety: fa and fb run on separate goroutines.
func Join2[A, B any](ctx context.Context,
	fa func(context.Context) (A, error),
	fb func(context.Context) (B, error),
) (A, B, error) {
	var (
		a A
		b B
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := fa(gctx)
		if err != nil {
			return err
		}
		a = v
		return nil
	})
	g.Go(func() error {
		v, err := fb(gctx)
		if err != nil {
			return err
		}
		b = v
		return nil
	})

	if err := g.Wait(); err != nil {
		var za A
		var zb B
		return za, zb, err
	}
	return a, b, nil
}
