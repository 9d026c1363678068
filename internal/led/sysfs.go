package led

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const sysfsLEDPath = "/sys/class/leds"

// timer trigger delays in milliseconds.
var blinkDelays = map[string][2]int{
	PatternSlowBlink: {500, 500},
	PatternFastBlink: {100, 100},
}

// sysfs drives LEDs through /sys/class/leds/<name>/{trigger,brightness}.
type sysfs struct {
	root string
	leds map[string]string // logical name -> sysfs directory
}

func newSysfs(root string, leds map[string]string) *sysfs {
	return &sysfs{root: root, leds: leds}
}

func (s *sysfs) write(dir, file, value string) error {
	if err := os.WriteFile(filepath.Join(dir, file), []byte(value), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", file, err)
	}
	return nil
}

// maxBrightness returns the LED's max_brightness, or 1 when unreadable.
func maxBrightness(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return "1"
	}
	v := strings.TrimSpace(string(data))
	if n, err := strconv.Atoi(v); err != nil || n <= 0 {
		return "1"
	}
	return v
}

// Set applies pattern through the kernel trigger and then brightness.
// Blink patterns use the timer trigger so no goroutine toggles the LED.
func (s *sysfs) Set(name string, enabled bool, pattern string) error {
	sysName, ok := s.leds[name]
	if !ok {
		return fmt.Errorf("LED %q not available on this board", name)
	}
	dir := filepath.Join(s.root, sysName)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("LED %q: %w", name, err)
	}

	if !enabled {
		if err := s.write(dir, "trigger", "none"); err != nil {
			return err
		}
		return s.write(dir, "brightness", "0")
	}

	switch pattern {
	case "":
	case PatternSolid:
		if err := s.write(dir, "trigger", "none"); err != nil {
			return err
		}
	case PatternSlowBlink, PatternFastBlink:
		if err := s.write(dir, "trigger", "timer"); err != nil {
			return err
		}
		d := blinkDelays[pattern]
		if err := s.write(dir, "delay_on", strconv.Itoa(d[0])); err != nil {
			return err
		}
		if err := s.write(dir, "delay_off", strconv.Itoa(d[1])); err != nil {
			return err
		}
		return nil
	case PatternHeartbeat:
		return s.write(dir, "trigger", "heartbeat")
	default:
		return fmt.Errorf("unsupported LED pattern %q", pattern)
	}
	return s.write(dir, "brightness", maxBrightness(dir))
}

func (s *sysfs) Available() []string {
	return slices.Sorted(maps.Keys(s.leds))
}

func (s *sysfs) Patterns() []string {
	return []string{PatternSolid, PatternSlowBlink, PatternFastBlink, PatternHeartbeat}
}
