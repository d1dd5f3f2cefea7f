// Copyright (C) The Hapcount Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package hapcount

import (
	"sync"
)

// throttle runs functions in goroutines, at most Max at a time, and
// remembers the first non-nil error they return.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan struct{}
	setupOnce sync.Once
	mtx       sync.Mutex
	err       error
}

// Go blocks until a slot is free, then runs f in a new goroutine.
func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		max := t.Max
		if max < 1 {
			max = 1
		}
		t.ch = make(chan struct{}, max)
	})
	t.wg.Add(1)
	t.ch <- struct{}{}
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		if err := f(); err != nil {
			t.mtx.Lock()
			if t.err == nil {
				t.err = err
			}
			t.mtx.Unlock()
		}
	}()
}

// Err returns the first error reported so far.
func (t *throttle) Err() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

// Wait waits for all functions to return, and returns the first
// error.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
