package led

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// fakeLED creates a sysfs-like LED directory under root.
func fakeLED(t *testing.T, root, name, maxBrightness string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for file, content := range map[string]string{
		"trigger":        "[none] timer heartbeat",
		"brightness":     "0",
		"max_brightness": maxBrightness,
	} {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readFile(t *testing.T, dir, file string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(data))
}

func TestNoopController(t *testing.T) {
	ctrl := newNoop(testLogger())

	if err := ctrl.Set("system", true, PatternSolid); err != nil {
		t.Errorf("Set() returned error: %v", err)
	}
	if types := ctrl.Available(); len(types) != 0 {
		t.Errorf("Available() = %v, want empty slice", types)
	}
	if patterns := ctrl.Patterns(); len(patterns) != 0 {
		t.Errorf("Patterns() = %v, want empty slice", patterns)
	}
}

func TestSysfsPatterns(t *testing.T) {
	root := t.TempDir()
	dir := fakeLED(t, root, "sys_led", "255")
	ctrl := newSysfs(root, map[string]string{"system": "sys_led"})

	tests := []struct {
		name       string
		enabled    bool
		pattern    string
		trigger    string
		brightness string
		delayOn    string
	}{
		{"solid", true, PatternSolid, "none", "255", ""},
		{"slow blink", true, PatternSlowBlink, "timer", "0", "500"},
		{"fast blink", true, PatternFastBlink, "timer", "0", "100"},
		{"heartbeat", true, PatternHeartbeat, "heartbeat", "0", ""},
		{"off", false, "", "none", "0", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte("0"), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := ctrl.Set("system", tt.enabled, tt.pattern); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if got := readFile(t, dir, "trigger"); got != tt.trigger {
				t.Errorf("trigger = %q, want %q", got, tt.trigger)
			}
			if got := readFile(t, dir, "brightness"); got != tt.brightness {
				t.Errorf("brightness = %q, want %q", got, tt.brightness)
			}
			if tt.delayOn != "" {
				if got := readFile(t, dir, "delay_on"); got != tt.delayOn {
					t.Errorf("delay_on = %q, want %q", got, tt.delayOn)
				}
			}
		})
	}
}

func TestSysfsErrors(t *testing.T) {
	root := t.TempDir()
	fakeLED(t, root, "sys_led", "1")
	ctrl := newSysfs(root, map[string]string{"system": "sys_led", "user": "missing"})

	if err := ctrl.Set("green", true, PatternSolid); err == nil {
		t.Error("Set() on an unmapped LED succeeded")
	}
	if err := ctrl.Set("user", true, PatternSolid); err == nil {
		t.Error("Set() on a missing sysfs directory succeeded")
	}
	if err := ctrl.Set("system", true, "rainbow"); err == nil {
		t.Error("Set() with an unknown pattern succeeded")
	}
}

func TestSysfsAvailableSorted(t *testing.T) {
	ctrl := newSysfs(t.TempDir(), map[string]string{"user": "usr_led", "system": "sys_led"})
	if got, want := ctrl.Available(), []string{"system", "user"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
	if len(ctrl.Patterns()) != 4 {
		t.Errorf("Patterns() = %v", ctrl.Patterns())
	}
}

func TestPatternForLevel(t *testing.T) {
	for level, want := range map[string]string{
		"ok":    PatternSolid,
		"warn":  PatternSlowBlink,
		"error": PatternFastBlink,
		"":      PatternHeartbeat,
	} {
		if got := PatternForLevel(level); got != want {
			t.Errorf("PatternForLevel(%q) = %q, want %q", level, got, want)
		}
	}
}

func TestDetect(t *testing.T) {
	root := t.TempDir()
	fakeLED(t, root, "pwr", "1")
	fakeLED(t, root, "mmc0::", "1")

	jetson := detect("NVIDIA Jetson AGX Orin", root, testLogger())
	if got := jetson.Available(); !reflect.DeepEqual(got, []string{"system"}) {
		t.Errorf("Jetson LEDs = %v, want [system]", got)
	}

	discovered := detect("unknown", root, testLogger())
	if got := discovered.Available(); !reflect.DeepEqual(got, []string{"mmc0::", "pwr"}) {
		t.Errorf("discovered LEDs = %v", got)
	}

	if _, ok := detect("unknown", filepath.Join(root, "absent"), testLogger()).(*noop); !ok {
		t.Error("expected no-op controller without sysfs LEDs")
	}
}

func TestDetectBoard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model")
	if err := os.WriteFile(path, []byte("Raspberry Pi 5 Model B\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := detectBoard(path); got != "Raspberry Pi 5 Model B" {
		t.Errorf("detectBoard() = %q", got)
	}
	if got := detectBoard(filepath.Join(t.TempDir(), "absent")); got != "unknown" {
		t.Errorf("detectBoard() = %q, want unknown", got)
	}
}
