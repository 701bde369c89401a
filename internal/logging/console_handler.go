package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one header line per record, naming the component,
// device and task, followed by one indented line per field. Info and above
// use display labels; debug records list raw keys.
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	prefix    string
	attrs     []field
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = appendFields(append([]field(nil), h.attrs...), h.prefix, attrs)
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	fields := make([]field, len(h.attrs), len(h.attrs)+record.NumAttrs())
	copy(fields, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFields(fields, h.prefix, []slog.Attr{attr})
		return true
	})
	fields = lastValueWins(fields)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.Grow(128 + 32*len(fields))
	buf.WriteString(formatTimestamp(ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if component := lookupField(fields, FieldComponent); component != "" {
		buf.WriteString(" [" + component + "]")
	}
	if subject := consoleSubject(lookupField(fields, FieldDeviceID), lookupField(fields, FieldTaskID)); subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" – " + message)
	if src := record.Source(); h.addSource && src != nil {
		buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
	buf.WriteByte('\n')

	if record.Level < slog.LevelInfo {
		for _, f := range fields {
			if f.key == FieldComponent {
				continue
			}
			buf.WriteString("    " + f.key + ": " + formatValue(f.value) + "\n")
		}
	} else {
		for _, f := range infoFields(fields) {
			buf.WriteString("    - " + consoleLabel(f.key) + ": " + consoleValue(f.key, f.value) + "\n")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// appendFields flattens groups into dotted keys.
func appendFields(dst []field, prefix string, attrs []slog.Attr) []field {
	for _, attr := range attrs {
		attr.Value = attr.Value.Resolve()
		if attr.Equal(slog.Attr{}) {
			continue
		}
		if attr.Value.Kind() == slog.KindGroup {
			next := prefix
			if attr.Key != "" {
				next += attr.Key + "."
			}
			dst = appendFields(dst, next, attr.Value.Group())
			continue
		}
		if attr.Key == "" {
			continue
		}
		dst = append(dst, field{key: prefix + attr.Key, value: attr.Value})
	}
	return dst
}

// lastValueWins keeps the first position of each key with its latest value.
func lastValueWins(fields []field) []field {
	if len(fields) < 2 {
		return fields
	}
	pos := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if i, ok := pos[f.key]; ok {
			out[i].value = f.value
			continue
		}
		pos[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func lookupField(fields []field, key string) string {
	for _, f := range fields {
		if f.key == key {
			return strings.TrimSpace(attrString(f.value))
		}
	}
	return ""
}

// consoleSubject renders "video2 · Task #7".
func consoleSubject(device, taskID string) string {
	var parts []string
	if device != "" {
		parts = append(parts, filepath.Base(device))
	}
	if id, err := strconv.ParseUint(taskID, 10, 64); err == nil {
		if label := TaskLabel(id); label != "" {
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, " · ")
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
