package camera

import (
	"math"

	"github.com/smazurov/monocam/internal/convert"
	"github.com/smazurov/monocam/internal/device"
)

// OutputPolicy is the derived geometry of published images. Width and
// Height always change together.
type OutputPolicy struct {
	Mode   string  `json:"mode"`
	Factor float64 `json:"factor"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Flip   bool    `json:"flip"`
}

// ComputePolicy derives the output size from the native resolution.
func ComputePolicy(native device.Resolution, d Dynamic) OutputPolicy {
	p := OutputPolicy{
		Mode:   PubNative,
		Factor: 1,
		Width:  native.Width,
		Height: native.Height,
		Flip:   d.Flip,
	}
	if d.PubResolution != PubCustom || !(d.DownscaleFactor > 1) || math.IsInf(d.DownscaleFactor, 0) {
		return p
	}
	p.Mode = PubCustom
	p.Factor = d.DownscaleFactor
	p.Width = max(1, int(math.Round(float64(native.Width)/d.DownscaleFactor)))
	p.Height = max(1, int(math.Round(float64(native.Height)/d.DownscaleFactor)))
	return p
}

// Options returns the conversion options for this policy.
func (p OutputPolicy) Options() convert.Options {
	return convert.Options{Width: p.Width, Height: p.Height, Flip: p.Flip}
}
