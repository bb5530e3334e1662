package simwindow

import (
	"image"

	"gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"github.com/sirupsen/logrus"
)

// Window mirrors a simulated panel on the desktop.
type Window struct {
	window *app.Window
	source func() image.Image
}

// Open shows a window twice the panel size. source is called on every frame.
func Open(bounds image.Rectangle, source func() image.Image) *Window {
	w := &Window{
		window: app.NewWindow(
			app.Size(unit.Px(float32(2*bounds.Dx())), unit.Px(float32(2*bounds.Dy()))),
			app.MinSize(unit.Px(float32(bounds.Dx())), unit.Px(float32(bounds.Dy()))),
		),
		source: source,
	}
	go func() {
		if err := w.loop(); err != nil {
			logrus.Errorf("Simulation window: %v", err)
		}
	}()
	go app.Main()
	return w
}

func (w *Window) Invalidate() {
	w.window.Invalidate()
}

func (w *Window) Close() {
	w.window.Close()
}

func (w *Window) loop() error {
	var ops op.Ops
	for {
		e := <-w.window.Events()
		switch e := e.(type) {
		case system.DestroyEvent:
			return e.Err
		case system.FrameEvent:
			gtx := layout.NewContext(&ops, e)
			img := widget.Image{Src: paint.NewImageOp(w.source()), Fit: widget.Contain}
			img.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}
