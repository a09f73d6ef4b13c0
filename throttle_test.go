// Copyright (C) The Ovca Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ovarian

import (
	"errors"
	"sync/atomic"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestThrottle(c *check.C) {
	var t throttle
	t.Max = 3
	var running, peak int64
	for i := 0; i < 50; i++ {
		t.Go(func() error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			atomic.AddInt64(&running, -1)
			return nil
		})
	}
	c.Check(t.Wait(), check.IsNil)
	c.Check(atomic.LoadInt64(&peak) <= 3, check.Equals, true)
}

func (s *throttleSuite) TestThrottleFirstError(c *check.C) {
	var t throttle
	t.Max = 1
	t.Go(func() error { return nil })
	t.Go(func() error { return errors.New("first") })
	t.Go(func() error { return errors.New("second") })
	c.Check(t.Wait(), check.ErrorMatches, "first")
}
