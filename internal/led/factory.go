package led

import (
	"os"
	"strings"

	"github.com/smazurov/monocam/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// board maps logical LED names to sysfs names on a known carrier board.
type board struct {
	match string
	leds  map[string]string
}

var boards = []board{
	{match: "Jetson", leds: map[string]string{"system": "pwr"}},
	{match: "NanoPC-T6", leds: map[string]string{"user": "usr_led", "system": "sys_led"}},
	{match: "Raspberry Pi", leds: map[string]string{"system": "ACT"}},
}

// New returns a sysfs controller for the detected board. Unknown boards
// expose every LED under /sys/class/leds by its own name; without any LED
// a no-op controller is returned.
func New(logger logging.Logger) Controller {
	return detect(detectBoard(deviceTreeModelPath), sysfsLEDPath, logger)
}

func detect(model, root string, logger logging.Logger) Controller {
	for _, b := range boards {
		if strings.Contains(model, b.match) {
			logger.Info("Using board LED mapping", "board_model", model, "leds", len(b.leds))
			return newSysfs(root, b.leds)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil || len(entries) == 0 {
		logger.Info("No LED support detected, using no-op controller", "board_model", model)
		return newNoop(logger)
	}
	leds := make(map[string]string, len(entries))
	for _, e := range entries {
		leds[e.Name()] = e.Name()
	}
	logger.Info("Using discovered sysfs LEDs", "board_model", model, "leds", len(leds))
	return newSysfs(root, leds)
}

// detectBoard reads the device tree model, "unknown" when absent.
func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimRight(string(data), "\x00\n")
}
