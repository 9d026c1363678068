// Package convert turns grabbed frames into publishable images.
//
// Every conversion applies the output resolution first and the camera flip
// second. Sources are never modified; when neither step applies the colour
// conversion returns the source itself.
package convert

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// Options describes the output geometry.
type Options struct {
	// Width and Height of the output; zero keeps the source size.
	Width  int
	Height int
	// Flip rotates the output by 180 degrees.
	Flip bool
}

// Error reports a failed conversion.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Converter performs conversions and counts them.
type Converter struct {
	colorCalls atomic.Int64
	grayCalls  atomic.Int64
}

// New returns a converter.
func New() *Converter {
	return &Converter{}
}

// Color returns src resized and flipped according to opts.
func (c *Converter) Color(src *image.NRGBA, opts Options) (*image.NRGBA, error) {
	c.colorCalls.Add(1)
	return Color(src, opts)
}

// Gray returns a single-channel version of src resized and flipped according to opts.
func (c *Converter) Gray(src *image.NRGBA, opts Options) (*image.Gray, error) {
	c.grayCalls.Add(1)
	return Gray(src, opts)
}

// Calls returns the number of colour and gray conversions performed.
func (c *Converter) Calls() (color, gray int64) {
	return c.colorCalls.Load(), c.grayCalls.Load()
}

// Color resizes then flips src.
func Color(src *image.NRGBA, opts Options) (*image.NRGBA, error) {
	w, h, err := target(src, opts)
	if err != nil {
		return nil, &Error{Op: "color", Err: err}
	}

	out := src
	if w != src.Rect.Dx() || h != src.Rect.Dy() {
		out = imaging.Resize(src, w, h, imaging.Box)
	}
	if opts.Flip {
		out = imaging.Rotate180(out)
	}
	return out, nil
}

// Gray converts src to luminance, then resizes and flips it.
func Gray(src *image.NRGBA, opts Options) (*image.Gray, error) {
	w, h, err := target(src, opts)
	if err != nil {
		return nil, &Error{Op: "gray", Err: err}
	}

	var img image.Image = src
	if w != src.Rect.Dx() || h != src.Rect.Dy() {
		img = imaging.Resize(src, w, h, imaging.Box)
	}
	if opts.Flip {
		img = imaging.Rotate180(img)
	}
	lum := imaging.Grayscale(img)

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := lum.Pix[y*lum.Stride:]
		dstRow := out.Pix[y*out.Stride:]
		for x := 0; x < w; x++ {
			dstRow[x] = srcRow[x*4]
		}
	}
	return out, nil
}

func target(src *image.NRGBA, opts Options) (int, int, error) {
	if src == nil || src.Rect.Empty() {
		return 0, 0, fmt.Errorf("empty source image")
	}
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	w, h := opts.Width, opts.Height
	if w == 0 && h == 0 {
		return sw, sh, nil
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid output size %dx%d", w, h)
	}
	if w > sw || h > sh {
		return 0, 0, fmt.Errorf("output %dx%d larger than source %dx%d", w, h, sw, sh)
	}
	return w, h, nil
}
