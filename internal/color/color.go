// Package color maps vessel contents to a displayed color or a scalar
// intensity. Every function here is pure: the same contents always yield
// the same result.
package color

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is a displayed color. The zero value with Valid == false is
// "no color" (an empty vessel renders transparent).
type RGB struct {
	R, G, B uint8
	Valid   bool
}

// Transparent is the color of an empty vessel.
var Transparent = RGB{}

// New returns an opaque color.
func New(r, g, b uint8) RGB {
	return RGB{R: r, G: g, B: b, Valid: true}
}

// Parse reads "#RRGGBB" or "RRGGBB". The empty string and "transparent"
// parse to Transparent.
func Parse(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "transparent") {
		return Transparent, nil
	}
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return Transparent, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Transparent, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return New(uint8(v>>16), uint8(v>>8), uint8(v)), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) RGB {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex formats the color as "#RRGGBB", or "transparent".
func (c RGB) Hex() string {
	if !c.Valid {
		return "transparent"
	}
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func (c RGB) String() string { return c.Hex() }

// MarshalText implements encoding.TextMarshaler so colors serialize as hex.
func (c RGB) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *RGB) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Lerp blends each channel linearly at t in [0,1]. Transparent endpoints
// blend as white so a color fades in from (or out to) a clear solution.
func Lerp(from, to RGB, t float64) RGB {
	switch {
	case t <= 0:
		return from
	case t >= 1:
		return to
	case !from.Valid && !to.Valid:
		return Transparent
	}
	a, b := opaque(from), opaque(to)
	return New(
		lerpChannel(a.R, b.R, t),
		lerpChannel(a.G, b.G, t),
		lerpChannel(a.B, b.B, t),
	)
}

func opaque(c RGB) RGB {
	if c.Valid {
		return c
	}
	return New(255, 255, 255)
}

func lerpChannel(a, b uint8, t float64) uint8 {
	return clampChannel(float64(a) + (float64(b)-float64(a))*t)
}

func clampChannel(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
