// Package nats connects the node to NATS.
//
// # Architecture
//
//   - Server: optional embedded NATS server (monocam serve --nats-embedded)
//   - Publisher: the node's connection; degrades to a no-op while offline
//   - Bridge: subscribes to transport hub channels and republishes them
//   - ParameterClient: sends parameter change requests (monocam params set)
//
// # Subject Hierarchy
//
//	monocam.{camera}.color          # JPEG, metadata in headers
//	monocam.{camera}.color-raw
//	monocam.{camera}.gray
//	monocam.{camera}.gray-raw
//	monocam.{camera}.imu            # SensorMessage JSON
//	monocam.{camera}.imu-raw
//	monocam.{camera}.temperature
//	monocam.{camera}.health         # HealthMessage JSON on level change
//	monocam.{camera}.parameters     # request/reply, ParameterRequest JSON
//
// Only channels listed in the bridge configuration are subscribed on the
// hub, so unlisted image channels are never converted.
//
// Image headers:
//
//	Monocam-Timestamp     unix nanoseconds of the grab
//	Monocam-Frame-Id      optical frame id
//	Monocam-Sequence      frame sequence number
//	Monocam-Camera-Info   calibration (K, D, R, P) as JSON
//
// # Debugging with nats CLI
//
// Monitor everything a camera publishes:
//
//	nats sub "monocam.zed_one.>"
//
// Follow IMU samples:
//
//	nats sub "monocam.zed_one.imu" | jq .data
//
// Change a dynamic parameter:
//
//	nats req "monocam.zed_one.parameters" \
//	  '{"changes":[{"name":"general.pub_downscale_factor","value":2}]}'
//
// SensorMessage (monocam.{camera}.imu):
//
//	{
//	  "camera": "zed_one",
//	  "channel": "imu",
//	  "timestamp": "2024-01-01T12:00:00.005Z",
//	  "frame_id": "zed_one_imu_link",
//	  "data": {"orientation": {...}, "angular_velocity": {...}, "linear_acceleration": {...}}
//	}
//
// ParameterReply:
//
//	{
//	  "applied": false,
//	  "results": [{"name": "general.grab_resolution", "error": "parameter general.grab_resolution: read-only"}]
//	}
package nats
