package device

import (
	"context"
	"image"
	"image/draw"
	"net/netip"
	"sync"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/bus"
	"github.com/jypelle/ipbadge/internal/srv/netlink"
	"github.com/jypelle/ipbadge/internal/srv/render"
	"github.com/sirupsen/logrus"
)

// Frame header opcodes sent on the simulated bus.
const (
	simOpUpdate  byte = 0x01
	simOpPartial byte = 0x02
	simOpJoin    byte = 0x10
)

// SimulatedBus is a bus transport with nothing attached. Reads return zeros.
type SimulatedBus struct{}

func (SimulatedBus) Tx(w, r []byte) error {
	logrus.Tracef("Simulated bus: tx % x", w)
	clear(r)
	return nil
}

// SimulatedDisplay keeps the last frame in memory. Each refresh is one
// transaction on its bus device when it has one.
type SimulatedDisplay struct {
	lock     sync.RWMutex
	bounds   image.Rectangle
	device   *bus.Device
	lut      render.LUT
	setup    bool
	frame    *image.RGBA
	updates  int
	partials int
	onChange func()
}

func NewSimulatedDisplay(device *bus.Device, width int, height int) *SimulatedDisplay {
	bounds := image.Rect(0, 0, width, height)
	return &SimulatedDisplay{
		bounds: bounds,
		device: device,
		frame:  image.NewRGBA(bounds),
	}
}

// OnChange registers f to be called after every refresh.
func (d *SimulatedDisplay) OnChange(f func()) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.onChange = f
}

func (d *SimulatedDisplay) Bounds() image.Rectangle {
	return d.bounds
}

func (d *SimulatedDisplay) Reset(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.setup = false
	return ctx.Err()
}

func (d *SimulatedDisplay) Setup(ctx context.Context, lut render.LUT) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.lut = lut
	d.setup = true
	return ctx.Err()
}

func (d *SimulatedDisplay) Update(ctx context.Context, frame image.Image) error {
	return d.refresh(ctx, simOpUpdate, d.bounds, frame)
}

func (d *SimulatedDisplay) PartialUpdate(ctx context.Context, frame image.Image, region image.Rectangle) error {
	return d.refresh(ctx, simOpPartial, region.Intersect(d.bounds), frame)
}

func (d *SimulatedDisplay) refresh(ctx context.Context, op byte, region image.Rectangle, frame image.Image) error {
	d.lock.RLock()
	setup := d.setup
	d.lock.RUnlock()
	if !setup {
		return ErrDisplayNotSetup
	}

	if d.device != nil {
		header := []byte{op, byte(region.Min.X), byte(region.Min.Y), byte(region.Max.X), byte(region.Max.Y)}
		err := d.device.Transact(ctx, func(a *bus.Access) error {
			return a.Tx(header, nil)
		})
		if err != nil {
			return err
		}
	}

	d.lock.Lock()
	draw.Draw(d.frame, region, frame, region.Min, draw.Src)
	if op == simOpUpdate {
		d.updates++
	} else {
		d.partials++
	}
	onChange := d.onChange
	d.lock.Unlock()

	if onChange != nil {
		onChange()
	}
	return nil
}

// Image returns a copy of what the panel shows.
func (d *SimulatedDisplay) Image() image.Image {
	d.lock.RLock()
	defer d.lock.RUnlock()
	img := image.NewRGBA(d.frame.Bounds())
	draw.Draw(img, img.Bounds(), d.frame, d.frame.Bounds().Min, draw.Src)
	return img
}

// Counts returns the number of full and partial refreshes.
func (d *SimulatedDisplay) Counts() (updates int, partials int) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.updates, d.partials
}

// SimulatedRadio fails a fixed number of joins, then succeeds. Every attempt
// is one transaction on its bus device when it has one.
type SimulatedRadio struct {
	lock     sync.Mutex
	device   *bus.Device
	failures int
	latency  time.Duration
	attempts int
}

func NewSimulatedRadio(device *bus.Device, failures int, latency time.Duration) *SimulatedRadio {
	return &SimulatedRadio{device: device, failures: failures, latency: latency}
}

func (r *SimulatedRadio) Join(ctx context.Context, credentials netlink.Credentials) error {
	if r.device != nil {
		frame := append([]byte{simOpJoin, byte(len(credentials.SSID))}, credentials.SSID...)
		err := r.device.Transact(ctx, func(a *bus.Access) error {
			return a.Tx(frame, nil)
		})
		if err != nil {
			return err
		}
	}
	if err := sleep(ctx, r.latency); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	r.attempts++
	if r.attempts <= r.failures {
		return &netlink.JoinError{Status: wpaStateCodes["SCANNING"]}
	}
	return nil
}

// SimulatedStack becomes configured a fixed delay after it is first asked.
type SimulatedStack struct {
	lock    sync.Mutex
	config  netlink.ConfigV4
	delay   time.Duration
	started time.Time
}

func NewSimulatedStack(address netip.Prefix, gateway netip.Addr, delay time.Duration) *SimulatedStack {
	return &SimulatedStack{
		config: netlink.ConfigV4{Address: address, Gateway: gateway},
		delay:  delay,
	}
}

func (s *SimulatedStack) up() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started.IsZero() {
		s.started = time.Now()
	}
	return time.Since(s.started) >= s.delay
}

func (s *SimulatedStack) IsConfigUp() bool {
	return s.up()
}

func (s *SimulatedStack) IsLinkUp() bool {
	return s.up()
}

func (s *SimulatedStack) WaitConfigUp(ctx context.Context) (netlink.ConfigV4, error) {
	for !s.up() {
		if err := sleep(ctx, 10*time.Millisecond); err != nil {
			return netlink.ConfigV4{}, err
		}
	}
	return s.config, nil
}
