package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseChange(t *testing.T) {
	tests := []struct {
		arg     string
		name    string
		value   any
		wantErr bool
	}{
		{"general.camera_flip=true", "general.camera_flip", true, false},
		{"general.pub_downscale_factor=2.5", "general.pub_downscale_factor", 2.5, false},
		{"general.grab_frame_rate=60", "general.grab_frame_rate", 60, false},
		{"general.pub_resolution=CUSTOM", "general.pub_resolution", "CUSTOM", false},
		{`general.camera_name="left"`, "general.camera_name", "left", false},
		{" debug.video = false ", "debug.video", false, false},
		{"no-equals", "", nil, true},
		{"=1", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			c, err := ParseChange(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseChange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Name != tt.name || c.Value != tt.value {
				t.Errorf("ParseChange() = %s=%#v, want %s=%#v", c.Name, c.Value, tt.name, tt.value)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateOverrides(t *testing.T) {
	path := writeConfig(t, `
[camera.general]
camera_name = "left"
camera_flip = "yes"
grab_frame_rate = 500

[camera.unknown]
key = 1
`)

	store, overrides, cfg, err := loadParameters(path, discardLogger())
	if err != nil {
		t.Fatalf("loadParameters() error = %v", err)
	}
	if cfg.CameraName != "left" {
		t.Errorf("camera name = %q, want left", cfg.CameraName)
	}
	if cfg.FrameRate != 30 {
		t.Errorf("frame rate = %d, want the default 30", cfg.FrameRate)
	}

	problems := ValidateOverrides(store, overrides)
	want := []string{"general.camera_flip", "general.grab_frame_rate", "unknown.key"}
	if len(problems) != len(want) {
		t.Fatalf("problems = %+v, want %v", problems, want)
	}
	for i, p := range problems {
		if p.Name != want[i] {
			t.Errorf("problem[%d] = %s, want %s", i, p.Name, want[i])
		}
	}
	if problems[2].Reason != "unknown parameter" {
		t.Errorf("unknown reason = %q", problems[2].Reason)
	}
}

func TestLoadParametersMissingFile(t *testing.T) {
	store, overrides, cfg, err := loadParameters(filepath.Join(t.TempDir(), "absent.toml"), discardLogger())
	if err != nil {
		t.Fatalf("loadParameters() error = %v", err)
	}
	if len(overrides) != 0 {
		t.Errorf("overrides = %v, want none", overrides)
	}
	if cfg.CameraName != "zed_one" || cfg.Resolution.Name != "HD1080" {
		t.Errorf("config = %+v", cfg)
	}
	if len(ValidateOverrides(store, overrides)) != 0 {
		t.Error("defaults reported as invalid")
	}
}

func TestParamsListCommand(t *testing.T) {
	path := writeConfig(t, "[camera.general]\ncamera_flip = true\n")

	cmd := CreateParamsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var flipLine string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "general.camera_flip ") {
			flipLine = line
		}
	}
	if flipLine == "" {
		t.Fatalf("camera_flip missing from:\n%s", out.String())
	}
	if fields := strings.Fields(flipLine); fields[2] != "dynamic" || fields[3] != "true" || fields[4] != "false" {
		t.Errorf("camera_flip row = %q", flipLine)
	}
}

func TestParamsValidateCommand(t *testing.T) {
	path := writeConfig(t, "[camera.general]\ngrab_resolution = \"HD720\"\n")

	cmd := CreateParamsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"validate", "--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() succeeded on an invalid resolution")
	}
	if !strings.Contains(out.String(), "general.grab_resolution") {
		t.Errorf("output = %q", out.String())
	}
}
