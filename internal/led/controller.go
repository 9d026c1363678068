// Package led drives board status LEDs from camera health.
package led

// Patterns understood by controllers.
const (
	PatternSolid     = "solid"
	PatternSlowBlink = "blink-slow"
	PatternFastBlink = "blink-fast"
	PatternHeartbeat = "heartbeat"
)

// Controller sets board LEDs by logical name ("system", "user", ...).
type Controller interface {
	// Set switches an LED on or off. A non-empty pattern replaces the
	// current one.
	Set(name string, enabled bool, pattern string) error

	// Available returns the LED names in sorted order.
	Available() []string

	Patterns() []string
}

// PatternForLevel maps a diagnostic level to the status LED pattern.
func PatternForLevel(level string) string {
	switch level {
	case "ok":
		return PatternSolid
	case "warn":
		return PatternSlowBlink
	case "error":
		return PatternFastBlink
	default:
		return PatternHeartbeat
	}
}
