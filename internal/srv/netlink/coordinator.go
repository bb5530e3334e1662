package netlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Coordinator struct {
	radio       Radio
	stack       Stack
	publisher   Publisher
	credentials Credentials
	intervals   Intervals

	state    atomic.Int32
	attempts atomic.Int64

	lock   sync.RWMutex
	config ConfigV4

	log *logrus.Entry
}

func NewCoordinator(radio Radio, stack Stack, publisher Publisher, credentials Credentials, intervals Intervals) *Coordinator {
	if intervals.Config <= 0 {
		intervals.Config = DefaultConfigPollInterval
	}
	if intervals.Link <= 0 {
		intervals.Link = DefaultLinkPollInterval
	}
	return &Coordinator{
		radio:       radio,
		stack:       stack,
		publisher:   publisher,
		credentials: credentials,
		intervals:   intervals,
		log:         logrus.WithField("task", "netlink"),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Attempts is the number of join calls made so far.
func (c *Coordinator) Attempts() int {
	return int(c.attempts.Load())
}

// Config is the configuration obtained once Ready, zero before.
func (c *Coordinator) Config() ConfigV4 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.config
}

func (c *Coordinator) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debugf("State %s -> %s", old, s)
	}
}

// Run joins the network, retrying without limit or backoff, waits for the
// stack to be configured, publishes the address once and returns. It only
// fails when ctx ends or the stack cannot report its configuration.
func (c *Coordinator) Run(ctx context.Context) error {
	c.setState(Joining)
	c.log.Infof("Joining %q ...", c.credentials.SSID)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.attempts.Add(1)
		err := c.radio.Join(ctx, c.credentials)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var joinErr *JoinError
		if errors.As(err, &joinErr) {
			c.log.Infof("join failed with status=%d", joinErr.Status)
		} else {
			c.log.Warnf("join failed: %v", err)
		}
	}
	c.log.Infof("Joined %q after %d attempt(s)", c.credentials.SSID, c.Attempts())

	c.setState(WaitingForConfig)
	c.log.Infof("waiting for DHCP...")
	if err := waitUntil(ctx, c.intervals.Config, c.stack.IsConfigUp); err != nil {
		return err
	}
	c.log.Infof("DHCP is now up!")

	c.setState(WaitingForLink)
	c.log.Infof("waiting for link up...")
	if err := waitUntil(ctx, c.intervals.Link, c.stack.IsLinkUp); err != nil {
		return err
	}
	c.log.Infof("Link is up!")

	c.log.Infof("waiting for stack to be up...")
	config, err := c.stack.WaitConfigUp(ctx)
	if err != nil {
		return fmt.Errorf("netlink: wait for configuration: %w", err)
	}

	c.lock.Lock()
	c.config = config
	c.lock.Unlock()
	c.setState(Ready)

	address := config.Address.Addr().String()
	if err := c.publisher.Publish(address); err != nil {
		c.log.Errorf("Unable to publish address %s: %v", address, err)
	}
	c.log.Infof("Stack is up! address=%s", address)
	return nil
}

// waitUntil checks cond immediately and then every interval.
func waitUntil(ctx context.Context, interval time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
