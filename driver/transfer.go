// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"packetdriver.org/dmasafe/boundary"
	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/monitor"
	"packetdriver.org/dmasafe/nic"
)

// transferRetries is how often a hung engine is reset and the
// transfer retried before giving up on it.
const transferRetries = 3

// Transmit pushes n bytes at addr out through the card. The full
// safety pipeline runs regardless of tier: boundary guard, coherency
// strategy, engine retry, monitor feed.
func (c *Core) Transmit(addr uint32, n int) error {
	const op = dserror.Op("driver.Transmit")

	if atomic.LoadUint32(&c.ready) == 0 {
		return dserror.E(op, dserror.Driver, ErrNotSetUp)
	}

	c.Poll()

	pub := c.publishedState()

	safe, bounce, err := c.guard.Prepare(boundary.Descriptor{
		Addr: addr,
		Len:  uint32(n),
		Dir:  nic.ToDevice,
	})
	if err != nil {
		c.mon.Record(monitor.EventBoundaryViolation)

		return err
	}
	if bounce != nil {
		c.mon.Record(monitor.EventBoundaryViolation)
	}

	pub.strategy.PreDma(safe.Addr, n, nic.ToDevice)

	err = c.retryTransfer(func() error {
		return c.cfg.Target.Transmit(safe.Addr, int(safe.Len))
	})

	pub.strategy.PostDma(safe.Addr, n, nic.ToDevice)

	if err != nil {
		bounce.Cancel()

		return dserror.E(op, dserror.Driver, err)
	}

	bounce.Complete(0)
	c.mon.Observe()

	return nil
}

// Receive pulls the next pending frame into max bytes at addr and
// returns its length.
func (c *Core) Receive(addr uint32, max int) (int, error) {
	const op = dserror.Op("driver.Receive")

	if atomic.LoadUint32(&c.ready) == 0 {
		return 0, dserror.E(op, dserror.Driver, ErrNotSetUp)
	}

	c.Poll()

	pub := c.publishedState()

	safe, bounce, err := c.guard.Prepare(boundary.Descriptor{
		Addr: addr,
		Len:  uint32(max),
		Dir:  nic.FromDevice,
	})
	if err != nil {
		c.mon.Record(monitor.EventBoundaryViolation)

		return 0, err
	}
	if bounce != nil {
		c.mon.Record(monitor.EventBoundaryViolation)
	}

	pub.strategy.PreDma(safe.Addr, max, nic.FromDevice)

	var got int
	err = c.retryTransfer(func() error {
		n, rxErr := c.cfg.Target.Receive(safe.Addr, int(safe.Len))
		if rxErr != nil {
			return rxErr
		}
		got = n

		return nil
	})

	pub.strategy.PostDma(safe.Addr, max, nic.FromDevice)

	if err != nil {
		bounce.Cancel()

		return 0, dserror.E(op, dserror.Driver, err)
	}

	bounce.Complete(got)
	c.mon.Observe()

	return got, nil
}

// retryTransfer runs one engine operation, resetting the engines and
// retrying on a hang. Needing a retry at all is an anomaly the
// monitor hears about; an empty receive queue is not.
func (c *Core) retryTransfer(transfer func() error) error {
	attempts := 0

	operation := func() error {
		err := transfer()
		if err == nil {
			return nil
		}
		if errors.Is(err, nic.ErrNoRxPending) {
			return backoff.Permanent(err)
		}

		attempts++
		if resetErr := c.cfg.Target.ResetEngines(); resetErr != nil {
			return backoff.Permanent(resetErr)
		}

		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), transferRetries)
	err := backoff.Retry(operation, bo)

	if attempts > 1 {
		c.mon.Record(monitor.EventExcessiveRetry)
	}

	return err
}
