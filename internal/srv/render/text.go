package render

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/bitmapfont/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

var (
	On  = color.Gray{Y: 0xff}
	Off = color.Gray{Y: 0x00}
)

// AddLabel draws label with its baseline at y.
func AddLabel(img draw.Image, x, y int, c color.Color, label string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: bitmapfont.Face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

func LabelWidth(label string) int {
	return font.MeasureString(bitmapfont.Face, label).Ceil()
}

func Fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// Box fills r and outlines it with a one pixel border.
func Box(img draw.Image, r image.Rectangle, fill, stroke color.Color) {
	Fill(img, r, stroke)
	Fill(img, r.Inset(1), fill)
}
