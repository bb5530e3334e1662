package bus

import (
	"context"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Port exposes a Device as a periph spi.Port so stock periph drivers can be
// used on a shared bus. Every Tx or TxPackets of the returned connection is
// one scoped acquisition.
func (d *Device) Port() spi.Port {
	return &port{device: d}
}

type port struct {
	device *Device
}

func (p *port) String() string {
	return p.device.String()
}

// Connect does not reconfigure the controller: the arbiter's transport was
// connected once with the bus-wide settings.
func (p *port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	logrus.Debugf("Bus device %s: connect requested %s mode=%d bits=%d", p.device, f, mode, bits)
	return &portConn{device: p.device}, nil
}

type portConn struct {
	device *Device
}

func (c *portConn) String() string {
	return c.device.String()
}

func (c *portConn) Duplex() conn.Duplex {
	if dc, ok := c.device.arbiter.transport.(interface{ Duplex() conn.Duplex }); ok {
		return dc.Duplex()
	}
	return conn.Full
}

func (c *portConn) Tx(w, r []byte) error {
	return c.device.Transact(context.Background(), func(a *Access) error {
		return a.Tx(w, r)
	})
}

func (c *portConn) TxPackets(packets []spi.Packet) error {
	return c.device.Transact(context.Background(), func(a *Access) error {
		if sc, ok := a.device.arbiter.transport.(spi.Conn); ok {
			a.device.arbiter.transfers.Add(uint64(len(packets)))
			return sc.TxPackets(packets)
		}
		for _, p := range packets {
			if err := a.Tx(p.W, p.R); err != nil {
				return err
			}
		}
		return nil
	})
}
