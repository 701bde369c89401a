package api

import (
	"testing"
	"time"

	"vinscan/internal/history"
	"vinscan/internal/scanner"
	"vinscan/internal/session"
	"vinscan/internal/vin"
)

func TestFromEventByType(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	info := vin.Validate("1M8GDM9AXKP042788")

	tests := []struct {
		name  string
		event scanner.Event
		check func(t *testing.T, msg StreamMessage)
	}{
		{
			name:  "result",
			event: scanner.Event{Type: scanner.EventResult, Time: ts, SessionID: "s1", TaskID: 3, Barcode: info.Input, Found: true, VIN: &info, ScanID: 9},
			check: func(t *testing.T, msg StreamMessage) {
				if msg.Result == nil || msg.Result.TaskID != 3 || msg.Result.ScanID != 9 {
					t.Fatalf("unexpected result payload %+v", msg.Result)
				}
				if msg.Result.VIN == nil || !msg.Result.VIN.IsValid {
					t.Fatalf("expected VIN verdict in payload")
				}
			},
		},
		{
			name:  "session",
			event: scanner.Event{Type: scanner.EventSession, Time: ts, SessionID: "s1", DeviceID: "/dev/video0", State: "capturing"},
			check: func(t *testing.T, msg StreamMessage) {
				if msg.Session == nil || msg.Session.State != "capturing" || msg.Session.DeviceID != "/dev/video0" {
					t.Fatalf("unexpected session payload %+v", msg.Session)
				}
			},
		},
		{
			name:  "device",
			event: scanner.Event{Type: scanner.EventDevice, Time: ts, DeviceID: "/dev/video2", Action: "remove"},
			check: func(t *testing.T, msg StreamMessage) {
				if msg.Device == nil || msg.Device.Action != "remove" || msg.Device.Device != "/dev/video2" {
					t.Fatalf("unexpected device payload %+v", msg.Device)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := FromEvent(tc.event)
			if msg.Type != tc.event.Type {
				t.Fatalf("expected type %q, got %q", tc.event.Type, msg.Type)
			}
			if msg.Time != "2026-03-04T05:06:07.008Z" {
				t.Fatalf("unexpected time %q", msg.Time)
			}
			tc.check(t, msg)
		})
	}
}

func TestFromScanFormatsTimestamp(t *testing.T) {
	scan := history.Scan{ID: 4, SessionID: "s", TaskID: 2, Found: true, VINValid: true, VINCanonical: "X", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	rec := FromScan(scan)
	if rec.CreatedAt != "2026-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected createdAt %q", rec.CreatedAt)
	}
	if !rec.VINValid || rec.VINCanonical != "X" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if FromScan(history.Scan{}).CreatedAt != "" {
		t.Fatalf("zero time should be omitted")
	}
}

func TestFromSessionStatus(t *testing.T) {
	st := FromSessionStatus(session.Status{ID: "a", State: "capturing", NextTaskID: 5, Delivered: 4, Found: 2})
	if st.NextTaskID != 5 || st.Delivered != 4 || st.Found != 2 || st.State != "capturing" {
		t.Fatalf("unexpected conversion %+v", st)
	}
}
