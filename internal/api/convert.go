package api

import (
	"time"

	"vinscan/internal/device"
	"vinscan/internal/history"
	"vinscan/internal/scanner"
	"vinscan/internal/session"
)

// FromSessionStatus converts a session snapshot.
func FromSessionStatus(st session.Status) SessionStatus {
	return SessionStatus{
		ID:         st.ID,
		DeviceID:   st.DeviceID,
		State:      st.State,
		InFlight:   st.InFlight,
		NextTaskID: uint64(st.NextTaskID),
		Accepted:   st.Accepted,
		Delivered:  st.Delivered,
		Found:      st.Found,
	}
}

// FromScan converts a stored history row.
func FromScan(scan history.Scan) ScanRecord {
	return ScanRecord{
		ID:           scan.ID,
		SessionID:    scan.SessionID,
		DeviceID:     scan.DeviceID,
		TaskID:       scan.TaskID,
		Barcode:      scan.Barcode,
		Found:        scan.Found,
		VINValid:     scan.VINValid,
		VINCanonical: scan.VINCanonical,
		CreatedAt:    formatTime(scan.CreatedAt),
	}
}

// FromScans converts a slice of history rows.
func FromScans(scans []history.Scan) []ScanRecord {
	out := make([]ScanRecord, 0, len(scans))
	for _, scan := range scans {
		out = append(out, FromScan(scan))
	}
	return out
}

// FromSummary converts history totals.
func FromSummary(summary history.Summary) HistorySummary {
	return HistorySummary{Total: summary.Total, Found: summary.Found, Valid: summary.Valid}
}

// FromDevice converts an enumerated device.
func FromDevice(info device.Info) Device {
	return Device{
		ID:      info.ID,
		Name:    info.Name,
		Index:   info.Index,
		Capture: info.Capture,
		Enabled: info.Enabled,
		Detail:  info.Detail,
	}
}

// FromDevices converts a device list.
func FromDevices(infos []device.Info) []Device {
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, FromDevice(info))
	}
	return out
}

// FromResultEvent converts a scanner result event. It returns nil for other
// event types.
func FromResultEvent(ev scanner.Event) *ScanResult {
	if ev.Type != scanner.EventResult {
		return nil
	}
	return &ScanResult{
		ScanID:    ev.ScanID,
		SessionID: ev.SessionID,
		DeviceID:  ev.DeviceID,
		TaskID:    ev.TaskID,
		Barcode:   ev.Barcode,
		Found:     ev.Found,
		VIN:       ev.VIN,
		Time:      formatTime(ev.Time),
	}
}

// FromEvent converts any scanner event into a stream message.
func FromEvent(ev scanner.Event) StreamMessage {
	msg := StreamMessage{Type: ev.Type, Time: formatTime(ev.Time)}
	switch ev.Type {
	case scanner.EventResult:
		msg.Type = StreamResult
		msg.Result = FromResultEvent(ev)
	case scanner.EventSession:
		msg.Type = StreamSession
		msg.Session = &SessionEvent{ID: ev.SessionID, DeviceID: ev.DeviceID, State: ev.State}
	case scanner.EventDevice:
		msg.Type = StreamDevice
		msg.Device = &DeviceEvent{Action: ev.Action, Device: ev.DeviceID}
	}
	return msg
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
