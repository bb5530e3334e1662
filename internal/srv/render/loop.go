// Package render keeps the panel in sync with the status channel.
package render

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/status"
	"github.com/sirupsen/logrus"
)

const DefaultInterval = 100 * time.Millisecond

// Layout of the status band at the top of the panel and of the title.
const (
	StatusBandHeight = 24
	statusTextX      = 8
	statusTextY      = 16
	titleX           = 10
	titleY           = 50
)

type Source interface {
	PollAndTake() (status.Snapshot, bool)
}

type Config struct {
	Interval time.Duration
	LUT      LUT
	Title    string
}

// RenderState is what the loop last put on the panel.
type RenderState struct {
	Region   image.Rectangle
	Text     string
	Frames   int
	Failures int
}

type Loop struct {
	panel  Panel
	source Source
	config Config
	frame  *image.Gray

	lock  sync.RWMutex
	state RenderState

	log *logrus.Entry
}

func NewLoop(panel Panel, source Source, config Config) *Loop {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Loop{
		panel:  panel,
		source: source,
		config: config,
		frame:  image.NewGray(panel.Bounds()),
		log:    logrus.WithField("task", "render"),
	}
}

func (l *Loop) State() RenderState {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state
}

// StatusBand is the region redrawn when the status text changes.
func (l *Loop) StatusBand() image.Rectangle {
	b := l.panel.Bounds()
	return image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+StatusBandHeight).Intersect(b)
}

// Run draws the start screen once, then polls the source every interval and
// redraws the status band when a new text is pending. Drawing errors are
// logged and the frame is dropped. Run only returns when ctx ends.
func (l *Loop) Run(ctx context.Context) error {
	l.start(ctx)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

func (l *Loop) start(ctx context.Context) {
	l.log.Infof("Resetting display")
	if err := l.panel.Reset(ctx); err != nil {
		l.log.Errorf("Display reset failed: %v", err)
	}
	if err := l.panel.Setup(ctx, l.config.LUT); err != nil {
		l.log.Errorf("Display setup failed: %v", err)
	}

	b := l.frame.Bounds()
	Fill(l.frame, b, Off)
	if l.config.Title != "" {
		title := image.Rect(b.Min.X+titleX, b.Min.Y+titleY-12, b.Max.X, b.Min.Y+titleY+3).Intersect(b)
		Fill(l.frame, title, On)
		AddLabel(l.frame, title.Min.X, b.Min.Y+titleY, Off, l.config.Title)
	}

	err := l.panel.Update(ctx, l.frame)

	l.lock.Lock()
	defer l.lock.Unlock()
	if err != nil {
		l.log.Errorf("Display update failed: %v", err)
		l.state.Failures++
		return
	}
	l.state.Region = b
	l.state.Frames++
}

// refresh redraws the status band if a new text is pending. The band is
// only partially updated once a full frame has reached the panel.
func (l *Loop) refresh(ctx context.Context) bool {
	snap, ok := l.source.PollAndTake()
	if !ok {
		return false
	}

	band := l.StatusBand()
	Box(l.frame, band, On, Off)
	AddLabel(l.frame, band.Min.X+statusTextX, band.Min.Y+statusTextY, Off, snap.Text)

	l.lock.RLock()
	full := l.state.Region.Empty()
	l.lock.RUnlock()

	var err error
	region := band
	if full {
		region = l.frame.Bounds()
		err = l.panel.Update(ctx, l.frame)
	} else {
		err = l.panel.PartialUpdate(ctx, l.frame, band)
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	if err != nil {
		l.log.Errorf("Status redraw failed, frame dropped: %v", err)
		l.state.Failures++
		return false
	}
	l.log.Debugf("Status redrawn: %q (seq %d)", snap.Text, snap.Seq)
	l.state.Region = region
	l.state.Text = snap.Text
	l.state.Frames++
	return true
}
