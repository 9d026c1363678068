package camera

import (
	"fmt"
	"time"

	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/metrics"
	"github.com/smazurov/monocam/internal/transport"
)

// publishTemperature runs on the scheduler every TempPubPeriod. A reading
// older than two periods, or a failed read, is published as NotValidTemp.
func (n *Node) publishTemperature() {
	defer func() {
		if r := recover(); r != nil {
			n.sensorLog.Error("Temperature job panicked", "panic", fmt.Sprint(r))
		}
	}()

	now := n.clk.Now()
	r := n.tempRead.Load()
	valid := temperatureValid(r, now, n.cfg.TempPubPeriod)
	celsius := r.Celsius
	if !valid {
		celsius = device.NotValidTemp
	}

	n.tempPub.Store(TempPublished{
		Celsius:     celsius,
		Valid:       valid,
		ReadAt:      r.ReadAt,
		PublishedAt: now,
	})
	metrics.SetTemperature(celsius)

	if !n.transport.HasSubscribers(transport.ChannelTemperature) {
		return
	}
	n.publish(transport.ChannelTemperature, TemperatureMessage{Celsius: celsius, Valid: valid}, now,
		transport.Metadata{FrameID: n.provider.Frames().IMU})
}

func temperatureValid(r TempReading, now time.Time, period time.Duration) bool {
	return r.Valid && r.Err == "" && !r.ReadAt.IsZero() && now.Sub(r.ReadAt) <= 2*period
}
