package device

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/render"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ssd1306"
)

var ErrDisplayNotSetup = errors.New("display: not set up")

const resetPulse = 10 * time.Millisecond

// The OLED has no waveform tables; a faster profile trades brightness for
// less current per refresh.
var lutContrast = map[render.LUT]byte{
	render.LUTDefault: 0xff,
	render.LUTMedium:  0xaf,
	render.LUTFast:    0x5f,
	render.LUTTurbo:   0x1f,
}

// Display drives an SSD1306 panel through a shared SPI port. The controller
// only sends changed pages, so a partial update costs the changed region.
type Display struct {
	oledLock    sync.Mutex
	oledDisplay *ssd1306.Dev

	port  spi.Port
	dc    gpio.PinOut
	reset gpio.PinOut
	opts  ssd1306.Opts
}

// NewDisplay does not talk to the panel; Setup does. reset may be nil.
func NewDisplay(port spi.Port, dc gpio.PinOut, reset gpio.PinOut, width int, height int) *Display {
	opts := ssd1306.DefaultOpts
	opts.W = width
	opts.H = height
	return &Display{
		port:  port,
		dc:    dc,
		reset: reset,
		opts:  opts,
	}
}

func (d *Display) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.opts.W, d.opts.H)
}

func (d *Display) Reset(ctx context.Context) error {
	d.oledLock.Lock()
	defer d.oledLock.Unlock()

	d.oledDisplay = nil
	if d.reset == nil {
		return nil
	}
	if err := d.reset.Out(gpio.Low); err != nil {
		return err
	}
	if err := sleep(ctx, resetPulse); err != nil {
		return err
	}
	if err := d.reset.Out(gpio.High); err != nil {
		return err
	}
	return sleep(ctx, resetPulse)
}

func (d *Display) Setup(ctx context.Context, lut render.LUT) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.oledLock.Lock()
	defer d.oledLock.Unlock()

	oledDisplay, err := ssd1306.NewSPI(d.port, d.dc, &d.opts)
	if err != nil {
		return err
	}
	d.oledDisplay = oledDisplay

	contrast, ok := lutContrast[lut]
	if !ok {
		contrast = lutContrast[render.LUTDefault]
	}
	logrus.Debugf("Display %s set up with lut %s (contrast %#x)", d.port, lut, contrast)
	return d.oledDisplay.SetContrast(contrast)
}

func (d *Display) Update(ctx context.Context, frame image.Image) error {
	return d.draw(ctx, d.Bounds(), frame, frame.Bounds().Min)
}

func (d *Display) PartialUpdate(ctx context.Context, frame image.Image, region image.Rectangle) error {
	return d.draw(ctx, region.Intersect(d.Bounds()), frame, region.Min)
}

func (d *Display) draw(ctx context.Context, r image.Rectangle, src image.Image, sp image.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.oledLock.Lock()
	defer d.oledLock.Unlock()
	if d.oledDisplay == nil {
		return ErrDisplayNotSetup
	}
	return d.oledDisplay.Draw(r, src, sp)
}

// Halt blanks the panel.
func (d *Display) Halt() error {
	d.oledLock.Lock()
	defer d.oledLock.Unlock()
	if d.oledDisplay == nil {
		return nil
	}
	return d.oledDisplay.Halt()
}

func sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
