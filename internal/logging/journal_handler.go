package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags every journal entry written by the node.
const SyslogIdentifier = "monocam"

// JournalHandler writes records to the systemd journal. Attribute keys become
// upper-case journal fields; groups are joined with underscores.
type JournalHandler struct {
	level  slog.Leveler
	prefix string
	fixed  map[string]string
	send   func(message string, priority journal.Priority, fields map[string]string) error
}

// NewJournalHandler creates a journal handler filtering below level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level: level,
		fixed: map[string]string{},
		send:  journal.Send,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal, falling back to a note on stderr
// when the socket is unreachable.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]string, len(h.fixed)+r.NumAttrs()+1)
	for k, v := range h.fixed {
		fields[k] = v
	}
	fields["SYSLOG_IDENTIFIER"] = SyslogIdentifier
	r.Attrs(func(attr slog.Attr) bool {
		flattenJournalAttr(fields, h.prefix, attr)
		return true
	})

	if err := h.send(r.Message, priorityFor(r.Level), fields); err != nil {
		fmt.Fprintf(os.Stderr, "journal unavailable: %v\n", err)
		return err
	}
	return nil
}

// WithAttrs resolves attrs into fixed journal fields once.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	for _, attr := range attrs {
		flattenJournalAttr(clone.fixed, clone.prefix, attr)
	}
	return clone
}

// WithGroup prefixes later attribute keys with name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.prefix = h.prefix + strings.ToUpper(name) + "_"
	return clone
}

func (h *JournalHandler) clone() *JournalHandler {
	fixed := make(map[string]string, len(h.fixed))
	for k, v := range h.fixed {
		fixed[k] = v
	}
	return &JournalHandler{level: h.level, prefix: h.prefix, fixed: fixed, send: h.send}
}

func priorityFor(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalKey maps an attribute key to a valid journal field name: upper-case
// letters, digits and underscores, not starting with an underscore.
func journalKey(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return strings.TrimLeft(key, "_")
}

func flattenJournalAttr(fields map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = prefix + journalKey(attr.Key) + "_"
		}
		for _, a := range attr.Value.Group() {
			flattenJournalAttr(fields, next, a)
		}
		return
	}

	key := journalKey(prefix + attr.Key)
	if key == "" {
		return
	}
	switch attr.Value.Kind() {
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(attr.Value.Float64(), 'g', -1, 64)
	case slog.KindTime:
		fields[key] = attr.Value.Time().Format(time.RFC3339Nano)
	default:
		fields[key] = attr.Value.String()
	}
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
