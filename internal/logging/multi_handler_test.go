package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type failingHandler struct {
	slog.Handler
	err error
}

func (f failingHandler) Handle(context.Context, slog.Record) error { return f.err }

func TestMultiHandlerContinuesAfterError(t *testing.T) {
	var buf bytes.Buffer
	failing := failingHandler{Handler: slog.NewTextHandler(&buf, nil), err: errors.New("journal gone")}
	text := slog.NewTextHandler(&buf, nil)

	h := NewMultiHandler(failing, nil, text)
	err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "frame dropped", 0))
	if err == nil || !strings.Contains(err.Error(), "journal gone") {
		t.Errorf("Handle() error = %v, want journal gone", err)
	}
	if !strings.Contains(buf.String(), "frame dropped") {
		t.Errorf("text handler did not receive the record: %q", buf.String())
	}
}

func TestMultiHandlerWithAttrs(t *testing.T) {
	var a, b bytes.Buffer
	h := NewMultiHandler(slog.NewTextHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	slog.New(h).With("camera", "zed_one").WithGroup("imu").Info("sample", "rate", 400)

	if !strings.Contains(a.String(), "camera=zed_one") || !strings.Contains(a.String(), "imu.rate=400") {
		t.Errorf("text output = %q", a.String())
	}
	if !strings.Contains(b.String(), `"imu":{"rate":400}`) {
		t.Errorf("json output = %q", b.String())
	}
}
