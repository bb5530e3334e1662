//go:build !amd64

package simwindow

import (
	"image"

	"github.com/sirupsen/logrus"
)

// Window is a no-op on boards: there is no desktop to draw on.
type Window struct{}

func Open(bounds image.Rectangle, source func() image.Image) *Window {
	logrus.Infof("Simulation window not available on this architecture, panel %v kept in memory", bounds.Size())
	return &Window{}
}

func (w *Window) Invalidate() {}

func (w *Window) Close() {}
