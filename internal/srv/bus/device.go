package bus

import (
	"context"

	"periph.io/x/conn/v3/gpio"
)

// Device is one peripheral on a shared bus: a reference to the arbiter plus
// the peripheral's own chip-select line.
type Device struct {
	name    string
	arbiter *Arbiter
	cs      gpio.PinOut
}

func (d *Device) String() string {
	return d.arbiter.name + "/" + d.name
}

// Acquire suspends until the bus is free, asserts the chip-select and returns
// an Access owning the bus. The caller must Release it, usually with defer.
func (d *Device) Acquire(ctx context.Context) (*Access, error) {
	if err := d.arbiter.lock(ctx); err != nil {
		return nil, err
	}
	if d.cs != nil {
		if err := d.cs.Out(gpio.Low); err != nil {
			// Leave the line idle before handing the bus to someone else.
			_ = d.cs.Out(gpio.High)
			d.arbiter.unlock()
			return nil, err
		}
	}
	d.arbiter.transactions.Add(1)
	return &Access{device: d}, nil
}

// Transact runs fn inside one scoped acquisition. The bus is released on
// every return path of fn, panics included.
func (d *Device) Transact(ctx context.Context, fn func(a *Access) error) (err error) {
	access, err := d.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := access.Release(); err == nil {
			err = rerr
		}
	}()
	return fn(access)
}

// Access grants exclusive use of the bus to the goroutine that acquired it.
// It is not safe for concurrent use.
type Access struct {
	device   *Device
	released bool
}

// Tx performs one transfer. Transport errors are returned unchanged.
func (a *Access) Tx(w, r []byte) error {
	if a.released {
		return ErrReleased
	}
	a.device.arbiter.transfers.Add(1)
	return a.device.arbiter.transport.Tx(w, r)
}

// Release de-asserts the chip-select and frees the bus. Calling it more than
// once is a no-op. The bus is freed even when the chip-select write fails.
func (a *Access) Release() error {
	if a.released {
		return nil
	}
	a.released = true

	var err error
	if a.device.cs != nil {
		err = a.device.cs.Out(gpio.High)
	}
	a.device.arbiter.unlock()
	return err
}
