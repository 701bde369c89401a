package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// consoleLabels orders the fields shown first at info level.
var consoleLabels = []struct{ key, label string }{
	{FieldAlert, "Alert"},
	{FieldEventType, "Event"},
	{FieldState, "State"},
	{FieldBarcode, "Barcode"},
	{"found", "Found"},
	{"vin_valid", "VIN Valid"},
	{"vin_canonical", "VIN"},
	{FieldInFlight, "In Flight"},
	{"tasks_requested", "Requested"},
	{"tasks_delivered", "Delivered"},
	{"device_name", "Camera"},
	{"device_count", "Cameras"},
	{"drain_duration", "Drain Time"},
	{"preview_duration", "Preview Time"},
	{"decode_duration", "Decode Time"},
	{"capture_size_bytes", "Photo Size"},
	{FieldErrorHint, "Hint"},
	{FieldImpact, "Impact"},
	{"reason", "Reason"},
}

var consoleRank = func() map[string]int {
	rank := make(map[string]int, len(consoleLabels))
	for i, l := range consoleLabels {
		rank[l.key] = i
	}
	return rank
}()

const maxErrorLen = 200

// infoFields drops the keys already rendered in the header and puts labelled
// keys first.
func infoFields(fields []field) []field {
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent, FieldDeviceID, FieldTaskID:
			continue
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i].key) < rankOf(out[j].key)
	})
	return out
}

func rankOf(key string) int {
	if r, ok := consoleRank[key]; ok {
		return r
	}
	return len(consoleLabels)
}

func consoleLabel(key string) string {
	if r, ok := consoleRank[key]; ok {
		return consoleLabels[r].label
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func consoleValue(key string, v slog.Value) string {
	switch v.Kind() {
	case slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case slog.KindDuration:
		return formatDurationHuman(v.Duration())
	case slog.KindInt64:
		if strings.HasSuffix(key, "_bytes") {
			return formatBytes(v.Int64())
		}
	case slog.KindUint64:
		if strings.HasSuffix(key, "_bytes") {
			return formatBytes(int64(v.Uint64()))
		}
	}
	s := formatValue(v)
	if key == "error" || key == "error_message" {
		s = strings.TrimSpace(s)
		if len(s) > maxErrorLen {
			s = s[:maxErrorLen] + "…"
		}
	}
	return s
}
