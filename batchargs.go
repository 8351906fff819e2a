// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"context"
	"flag"
	"fmt"
	"sync"
)

// batchArgs splits a cohort into equal-sized batches of patient files
// so each batch can run in its own container.
type batchArgs struct {
	batch   int
	batches int
}

func (b *batchArgs) Flags(flags *flag.FlagSet) {
	flags.IntVar(&b.batches, "batches", 1, "number of batches")
	flags.IntVar(&b.batch, "batch", -1, "only do `N`th batch (-1 = all)")
}

func (b *batchArgs) Args(batch int) []string {
	return []string{
		fmt.Sprintf("-batches=%d", b.batches),
		fmt.Sprintf("-batch=%d", batch),
	}
}

// RunBatches calls runFunc once per selected batch, concurrently, and
// returns the outputs in batch order along with the first error. The
// context passed to runFunc is cancelled when any batch fails.
func (b *batchArgs) RunBatches(ctx context.Context, runFunc func(context.Context, int) (string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outputs := make([]string, b.batches)
	var wg errGroup
	for batch := 0; batch < b.batches; batch++ {
		if b.batch >= 0 && b.batch != batch {
			continue
		}
		batch := batch
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := runFunc(ctx, batch)
			outputs[batch] = out
			if err != nil {
				wg.Error(fmt.Errorf("batch %d: %w", batch, err))
				cancel()
			}
		}()
	}
	err := wg.Wait()
	if b.batch >= 0 && b.batch < len(outputs) {
		outputs = outputs[b.batch : b.batch+1]
	}
	return outputs, err
}

// Slice returns the part of in that belongs to the selected batch.
func (b *batchArgs) Slice(in []string) []string {
	if b.batches <= 1 || b.batch < 0 {
		return in
	}
	batchsize := (len(in) + b.batches - 1) / b.batches
	if batchsize*b.batch >= len(in) {
		return nil
	}
	out := in[batchsize*b.batch:]
	if len(out) > batchsize {
		out = out[:batchsize]
	}
	return out
}

type errGroup struct {
	sync.WaitGroup
	err     error
	errOnce sync.Once
}

func (wg *errGroup) Error(err error) {
	if err != nil {
		wg.errOnce.Do(func() { wg.err = err })
	}
}

func (wg *errGroup) Wait() error {
	wg.WaitGroup.Wait()
	return wg.err
}
