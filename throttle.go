// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"sync"
)

// throttle runs functions concurrently, at most Max at a time, and
// remembers the first error. The fetch stage uses it to cap in-flight
// GDC downloads; the nmf stage uses it to spread restarts across
// CPUs.
type throttle struct {
	Max       int
	wg        sync.WaitGroup
	ch        chan bool
	setupOnce sync.Once
	errMtx    sync.Mutex
	err       error
}

// Go runs f concurrently, blocking first if Max functions are already
// running. If an earlier function returned an error, f is skipped.
func (t *throttle) Go(f func() error) {
	t.setupOnce.Do(func() {
		if t.Max < 1 {
			t.Max = 1
		}
		t.ch = make(chan bool, t.Max)
	})
	t.ch <- true
	if t.Err() != nil {
		<-t.ch
		return
	}
	t.wg.Add(1)
	go func() {
		defer func() {
			<-t.ch
			t.wg.Done()
		}()
		err := f()
		if err != nil {
			t.errMtx.Lock()
			if t.err == nil {
				t.err = err
			}
			t.errMtx.Unlock()
		}
	}()
}

func (t *throttle) Err() error {
	t.errMtx.Lock()
	defer t.errMtx.Unlock()
	return t.err
}

// Wait blocks until all functions started by Go have returned, and
// returns the first error.
func (t *throttle) Wait() error {
	t.wg.Wait()
	return t.Err()
}
