package render

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Panel is a slow display that can refresh either the whole frame or a
// sub-region of it.
type Panel interface {
	Bounds() image.Rectangle
	Reset(ctx context.Context) error
	Setup(ctx context.Context, lut LUT) error
	Update(ctx context.Context, frame image.Image) error
	PartialUpdate(ctx context.Context, frame image.Image, region image.Rectangle) error
}

// LUT selects the panel refresh profile, from the cleanest to the fastest.
type LUT int

const (
	LUTDefault LUT = iota
	LUTMedium
	LUTFast
	LUTTurbo
)

var lutNames = []string{"default", "medium", "fast", "turbo"}

func (l LUT) String() string {
	if l < 0 || int(l) >= len(lutNames) {
		return fmt.Sprintf("lut(%d)", int(l))
	}
	return lutNames[l]
}

func ParseLUT(name string) (LUT, error) {
	if name == "" {
		return LUTDefault, nil
	}
	for i, n := range lutNames {
		if strings.EqualFold(n, name) {
			return LUT(i), nil
		}
	}
	return LUTDefault, fmt.Errorf("unknown lut %q (want one of %s)", name, strings.Join(lutNames, ", "))
}
