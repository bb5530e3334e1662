package bus

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

var ErrReleased = errors.New("bus: access already released")
var ErrClosed = errors.New("bus: arbiter closed")

// Transport is the physical bus controller. A periph spi.Conn satisfies it.
type Transport interface {
	Tx(w, r []byte) error
}

// Arbiter owns one Transport and serializes whole transactions on it.
// Peripherals never see the Transport directly, only through an Access
// obtained from one of the arbiter's Devices.
type Arbiter struct {
	name      string
	transport Transport

	// Holding the token means owning the bus. A channel is used instead of
	// a sync.Mutex so that waiters can give up on context cancellation.
	token chan struct{}

	closed       atomic.Bool
	transactions atomic.Uint64
	transfers    atomic.Uint64
}

type Stats struct {
	Transactions uint64
	Transfers    uint64
}

func NewArbiter(name string, transport Transport) *Arbiter {
	a := &Arbiter{
		name:      name,
		transport: transport,
		token:     make(chan struct{}, 1),
	}
	a.token <- struct{}{}
	return a
}

func (a *Arbiter) String() string {
	return a.name
}

// Device returns a logical handle for one peripheral. cs is the peripheral's
// own active-low chip-select line; nil means the controller drives it.
func (a *Arbiter) Device(name string, cs gpio.PinOut) (*Device, error) {
	if cs != nil {
		if err := cs.Out(gpio.High); err != nil {
			return nil, err
		}
	}
	logrus.Debugf("Bus %s: register device %s", a.name, name)
	return &Device{name: name, arbiter: a, cs: cs}, nil
}

func (a *Arbiter) Stats() Stats {
	return Stats{
		Transactions: a.transactions.Load(),
		Transfers:    a.transfers.Load(),
	}
}

// Close waits for the current holder to finish, then closes the transport
// if it can be closed. Later acquisitions fail with ErrClosed.
func (a *Arbiter) Close(ctx context.Context) error {
	select {
	case <-a.token:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { a.token <- struct{}{} }()

	if a.closed.Swap(true) {
		return nil
	}
	logrus.Infof("Close bus %s", a.name)
	if c, ok := a.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Arbiter) lock(ctx context.Context) error {
	// Fail fast without queueing behind the holder.
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-a.token:
	case <-ctx.Done():
		return ctx.Err()
	}
	if a.closed.Load() {
		a.token <- struct{}{}
		return ErrClosed
	}
	return nil
}

func (a *Arbiter) unlock() {
	a.token <- struct{}{}
}
