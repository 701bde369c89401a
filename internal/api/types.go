package api

import "vinscan/internal/vin"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DaemonStatus aggregates runtime information.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	LockFilePath  string             `json:"lockFilePath"`
	HistoryDBPath string             `json:"historyDbPath,omitempty"`
	Watching      bool               `json:"watching"`
	Session       *SessionStatus     `json:"session,omitempty"`
	LastResult    *ScanResult        `json:"lastResult,omitempty"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// SessionStatus describes the running capture session.
type SessionStatus struct {
	ID         string `json:"id"`
	DeviceID   string `json:"deviceId"`
	State      string `json:"state"`
	InFlight   int    `json:"inFlight"`
	NextTaskID uint64 `json:"nextTaskId"`
	Accepted   uint64 `json:"accepted"`
	Delivered  uint64 `json:"delivered"`
	Found      uint64 `json:"found"`
}

// ScanResult is one delivered decode.
type ScanResult struct {
	ScanID    int64     `json:"scanId,omitempty"`
	SessionID string    `json:"sessionId"`
	DeviceID  string    `json:"deviceId"`
	TaskID    uint64    `json:"taskId"`
	Barcode   string    `json:"barcode,omitempty"`
	Found     bool      `json:"found"`
	VIN       *vin.Info `json:"vin,omitempty"`
	Time      string    `json:"time,omitempty"`
}

// ScanRecord is a stored history row.
type ScanRecord struct {
	ID           int64  `json:"id"`
	SessionID    string `json:"sessionId"`
	DeviceID     string `json:"deviceId"`
	TaskID       uint64 `json:"taskId"`
	Barcode      string `json:"barcode,omitempty"`
	Found        bool   `json:"found"`
	VINValid     bool   `json:"vinValid"`
	VINCanonical string `json:"vinCanonical,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// HistorySummary mirrors history.Summary.
type HistorySummary struct {
	Total int64 `json:"total"`
	Found int64 `json:"found"`
	Valid int64 `json:"valid"`
}

// Device describes an enumerated capture device.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Capture bool   `json:"capture"`
	Enabled bool   `json:"enabled"`
	Detail  string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// StartSessionRequest opens a capture session. An empty Device selects the
// configured one.
type StartSessionRequest struct {
	Device string `json:"device,omitempty"`
}

// SessionResponse wraps a session snapshot.
type SessionResponse struct {
	Session SessionStatus `json:"session"`
}

// DecodeResponse acknowledges a decode request.
type DecodeResponse struct {
	TaskID uint64 `json:"taskId"`
}

// DevicesResponse lists capture devices.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// HistoryResponse lists stored scans.
type HistoryResponse struct {
	Scans   []ScanRecord   `json:"scans"`
	Summary HistorySummary `json:"summary"`
}

// ScanResponse wraps one stored scan.
type ScanResponse struct {
	Scan ScanRecord `json:"scan"`
}

// VINRequest asks the daemon to validate a candidate string.
type VINRequest struct {
	Value string `json:"value"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Stream message types.
const (
	StreamResult  = "result"
	StreamSession = "session"
	StreamDevice  = "device"
	StreamHello   = "hello"
)

// StreamMessage is one websocket frame on the results stream.
type StreamMessage struct {
	Type    string         `json:"type"`
	Time    string         `json:"time"`
	Result  *ScanResult    `json:"result,omitempty"`
	Session *SessionEvent  `json:"session,omitempty"`
	Device  *DeviceEvent   `json:"device,omitempty"`
	Status  *SessionStatus `json:"status,omitempty"`
}

// SessionEvent reports a session lifecycle change.
type SessionEvent struct {
	ID       string `json:"id"`
	DeviceID string `json:"deviceId"`
	State    string `json:"state"`
}

// DeviceEvent reports a hotplug change.
type DeviceEvent struct {
	Action string `json:"action"`
	Device string `json:"device"`
}
