package scanner

import (
	"time"

	"vinscan/internal/vin"
)

// Event types published by the scanner.
const (
	EventResult  = "result"
	EventSession = "session"
	EventDevice  = "device"
)

// Event is one notification for subscribers.
type Event struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	TaskID    uint64    `json:"task_id,omitempty"`
	Barcode   string    `json:"barcode,omitempty"`
	Found     bool      `json:"found,omitempty"`
	VIN       *vin.Info `json:"vin,omitempty"`
	ScanID    int64     `json:"scan_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Action    string    `json:"action,omitempty"`
}

// Publisher receives scanner events. Publish must not block.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f.
func (f PublisherFunc) Publish(event Event) {
	f(event)
}
