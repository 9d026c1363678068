package camera

import (
	"context"
	"image"

	"github.com/smazurov/monocam/internal/metrics"
	"github.com/smazurov/monocam/internal/transport"
)

type videoChannel struct {
	name      string
	gray      bool
	rectified bool
}

// The rectified channels carry the same pixels as the raw ones; only the
// attached calibration differs.
var videoChannels = []videoChannel{
	{name: transport.ChannelColor, rectified: true},
	{name: transport.ChannelColorRaw},
	{name: transport.ChannelGray, gray: true, rectified: true},
	{name: transport.ChannelGrayRaw, gray: true},
}

// runVideo publishes frames in grab order until the frame queue is closed
// and empty or the stop flag is raised.
func (n *Node) runVideo(_ context.Context) error {
	for {
		if n.stop.Raised() {
			return nil
		}
		frame, ok := n.frames.Pop()
		if !ok {
			return nil
		}
		metrics.SetFrameQueueDepth(n.frames.Len())
		n.publishFrame(frame)
	}
}

// frameOutputs converts a frame at most once per kind.
type frameOutputs struct {
	n      *Node
	frame  Frame
	policy OutputPolicy

	color, gray       image.Image
	colorErr, grayErr error
	colorDone         bool
	grayDone          bool
}

func (o *frameOutputs) get(gray bool) (image.Image, error) {
	opts := o.policy.Options()
	if gray {
		if !o.grayDone {
			o.grayDone = true
			img, err := o.n.converter.Gray(o.frame.Image, opts)
			o.gray, o.grayErr = img, err
			o.n.counters.conversions.Add(1)
		}
		return o.gray, o.grayErr
	}
	if !o.colorDone {
		o.colorDone = true
		img, err := o.n.converter.Color(o.frame.Image, opts)
		o.color, o.colorErr = img, err
		o.n.counters.conversions.Add(1)
	}
	return o.color, o.colorErr
}

func (n *Node) publishFrame(frame Frame) {
	// One policy read per frame so width and height always belong together.
	out := &frameOutputs{n: n, frame: frame, policy: n.policy.Load()}
	frames := n.provider.Frames()

	for _, ch := range videoChannels {
		if !n.transport.HasSubscribers(ch.name) {
			continue
		}

		img, err := out.get(ch.gray)
		if err != nil {
			n.counters.convErrors.Add(1)
			n.counters.Channel(ch.name).Dropped.Add(1)
			metrics.IncDropped(ch.name, metrics.DropConversion)
			n.videoLog.Debug("Conversion failed", "channel", ch.name, "sequence", frame.Sequence, "error", err)
			continue
		}

		b := img.Bounds()
		info := n.provider.CameraInfo(b.Dx(), b.Dy(), ch.rectified)
		n.publish(ch.name, img, frame.Timestamp, transport.Metadata{
			FrameID:    frames.Optical,
			Sequence:   frame.Sequence,
			CameraInfo: &info,
		})
	}

	n.videoLog.Debug("Frame published", "sequence", frame.Sequence,
		"width", out.policy.Width, "height", out.policy.Height)
}
