package camera

import (
	"context"

	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/transport"
)

// runSensors publishes IMU samples in arrival order. It never waits on the
// video loop.
func (n *Node) runSensors(_ context.Context) error {
	for {
		if n.stop.Raised() {
			return nil
		}
		s, ok := n.imu.Pop()
		if !ok {
			return nil
		}
		n.publishIMU(s)
	}
}

func (n *Node) publishIMU(s device.SensorSample) {
	wantFiltered := n.transport.HasSubscribers(transport.ChannelIMU)
	wantRaw := n.transport.HasSubscribers(transport.ChannelIMURaw)
	if !wantFiltered && !wantRaw {
		return
	}

	camIMU := n.provider.CamIMU()
	md := transport.Metadata{
		FrameID:   n.provider.Frames().IMU,
		Transform: &camIMU,
	}
	if wantFiltered {
		n.publish(transport.ChannelIMU, imuMessage(s.IMU), s.Timestamp, md)
	}
	if wantRaw {
		n.publish(transport.ChannelIMURaw, imuRawMessage(s.IMU), s.Timestamp, md)
	}
	n.sensorLog.Debug("IMU sample published", "timestamp", s.Timestamp, "filtered", wantFiltered, "raw", wantRaw)
}
