package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/status"
	"github.com/stretchr/testify/require"
)

type call struct {
	op     string
	region image.Rectangle
}

type fakePanel struct {
	mu         sync.Mutex
	calls      []call
	failUpdate int
	failPart   int
	setupErr   error
	lut        LUT
	last       *image.Gray
}

func (p *fakePanel) Bounds() image.Rectangle {
	return image.Rect(0, 0, 128, 64)
}

func (p *fakePanel) Reset(context.Context) error {
	p.record("reset", image.Rectangle{})
	return nil
}

func (p *fakePanel) Setup(_ context.Context, lut LUT) error {
	p.record("setup", image.Rectangle{})
	p.mu.Lock()
	p.lut = lut
	p.mu.Unlock()
	return p.setupErr
}

func (p *fakePanel) Update(_ context.Context, frame image.Image) error {
	p.record("update", frame.Bounds())
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failUpdate > 0 {
		p.failUpdate--
		return errors.New("busy timeout")
	}
	p.last = copyGray(frame)
	return nil
}

func (p *fakePanel) PartialUpdate(_ context.Context, frame image.Image, region image.Rectangle) error {
	p.record("partial", region)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPart > 0 {
		p.failPart--
		return errors.New("spi: transfer failed")
	}
	p.last = copyGray(frame)
	return nil
}

func (p *fakePanel) record(op string, r image.Rectangle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call{op: op, region: r})
}

func (p *fakePanel) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ops []string
	for _, c := range p.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func copyGray(src image.Image) *image.Gray {
	dst := image.NewGray(src.Bounds())
	Fill(dst, dst.Bounds(), Off)
	for y := src.Bounds().Min.Y; y < src.Bounds().Max.Y; y++ {
		for x := src.Bounds().Min.X; x < src.Bounds().Max.X; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return dst
}

func TestStartScreenDrawnOnce(t *testing.T) {
	panel := &fakePanel{}
	l := NewLoop(panel, status.NewChannel(20), Config{LUT: LUTMedium, Title: "Hello BlueSky"})

	l.start(context.Background())
	require.Equal(t, []string{"reset", "setup", "update"}, panel.ops())
	require.Equal(t, LUTMedium, panel.lut)

	st := l.State()
	require.Equal(t, 1, st.Frames)
	require.Equal(t, panel.Bounds(), st.Region)

	// Nothing published: no more drawing.
	require.False(t, l.refresh(context.Background()))
	require.Len(t, panel.ops(), 3)
}

func TestPublishedTextRedrawsStatusBand(t *testing.T) {
	panel := &fakePanel{}
	ch := status.NewChannel(20)
	l := NewLoop(panel, ch, Config{})
	l.start(context.Background())

	require.NoError(t, ch.Publish("192.168.1.42"))
	require.True(t, l.refresh(context.Background()))

	calls := panel.calls
	require.Equal(t, call{op: "partial", region: image.Rect(0, 0, 128, StatusBandHeight)}, calls[len(calls)-1])
	st := l.State()
	require.Equal(t, "192.168.1.42", st.Text)
	require.Equal(t, image.Rect(0, 0, 128, StatusBandHeight), st.Region)
	require.Equal(t, 2, st.Frames)

	// Band has the border and some text pixels inside it.
	require.Equal(t, Off, panel.last.GrayAt(0, 0))
	require.Equal(t, On, panel.last.GrayAt(2, 2))
	var textPixels int
	for x := 8; x < 8+12*6; x++ {
		for y := 4; y < 20; y++ {
			if panel.last.GrayAt(x, y) == Off {
				textPixels++
			}
		}
	}
	require.Greater(t, textPixels, 0)

	require.False(t, l.refresh(context.Background()))
}

func TestFailedFrameDoesNotStopLoop(t *testing.T) {
	panel := &fakePanel{failPart: 1}
	ch := status.NewChannel(20)
	l := NewLoop(panel, ch, Config{Interval: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, ch.Publish("10.0.0.1"))
	require.Eventually(t, func() bool { return l.State().Failures == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ch.Publish("10.0.0.2"))
	require.Eventually(t, func() bool { return l.State().Text == "10.0.0.2" }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st := l.State()
	require.Equal(t, 2, st.Frames)
	require.Equal(t, 1, st.Failures)
}

func TestFullRedrawUntilFirstFrameLands(t *testing.T) {
	panel := &fakePanel{failUpdate: 1, setupErr: errors.New("setup failed")}
	ch := status.NewChannel(20)
	l := NewLoop(panel, ch, Config{})
	l.start(context.Background())

	st := l.State()
	require.True(t, st.Region.Empty())
	require.Equal(t, 1, st.Failures)

	require.NoError(t, ch.Publish("10.1.2.3"))
	require.True(t, l.refresh(context.Background()))
	require.Equal(t, []string{"reset", "setup", "update", "update"}, panel.ops())
	require.Equal(t, panel.Bounds(), l.State().Region)

	require.NoError(t, ch.Publish("10.1.2.4"))
	require.True(t, l.refresh(context.Background()))
	require.Equal(t, "partial", panel.ops()[4])
}

func TestParseLUT(t *testing.T) {
	for name, want := range map[string]LUT{"": LUTDefault, "Medium": LUTMedium, "fast": LUTFast, "TURBO": LUTTurbo} {
		got, err := ParseLUT(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLUT("ultra")
	require.Error(t, err)
	require.Equal(t, "medium", LUTMedium.String())
}
