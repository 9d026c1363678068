package camera

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/device"
)

// IMUMessage is the payload of the imu channel.
type IMUMessage struct {
	Orientation        quat.Number `json:"orientation"`
	AngularVelocity    r3.Vector   `json:"angular_velocity"`
	LinearAcceleration r3.Vector   `json:"linear_acceleration"`
}

// IMURawMessage is the payload of the imu-raw channel. Raw samples carry
// no orientation estimate.
type IMURawMessage struct {
	AngularVelocity    r3.Vector `json:"angular_velocity"`
	LinearAcceleration r3.Vector `json:"linear_acceleration"`
}

// TemperatureMessage is the payload of the temperature channel. Celsius is
// device.NotValidTemp when Valid is false.
type TemperatureMessage struct {
	Celsius float64 `json:"celsius"`
	Valid   bool    `json:"valid"`
}

func imuMessage(d device.IMUData) IMUMessage {
	return IMUMessage{
		Orientation:        d.Orientation,
		AngularVelocity:    d.AngularVelocity,
		LinearAcceleration: d.LinearAcceleration,
	}
}

func imuRawMessage(d device.IMUData) IMURawMessage {
	return IMURawMessage{
		AngularVelocity:    d.AngularVelocityRaw,
		LinearAcceleration: d.LinearAccelerationRaw,
	}
}
