// Package logging configures slog for the node.
//
// Initialize builds one root handler from a Config: journald when the
// journal socket is reachable, stdout (text or JSON) when a terminal, pipe
// or file is attached, or both. Every record also lands in an in-memory
// ring buffer so the API can replay recent history to a new log stream
// before switching to live entries. Buffer entries carry a sequence number
// the stream uses to drop entries it already replayed.
//
// Loggers are per module:
//
//	logger := logging.GetLogger("camera")
//	logger.Info("Session opened", "serial", info.Serial)
//
// Each module has its own level. A module without an override follows the
// global level. Levels can change at runtime:
//
//	logging.SetModuleLevel("sdk", slog.LevelDebug)
//	defer logging.ResetModuleLevel("sdk")
//
// The camera node uses this for its verbose parameters, raising the sdk and
// sensors modules without a restart.
//
// Journal fields are the upper-cased attribute keys, so records can be
// filtered by module or camera:
//
//	journalctl -t monocam MODULE=camera
//	journalctl -t monocam -p warning --since -10m
//
// Configuration comes from the [logging] table:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	camera = "debug"
//	api = "warn"
package logging
