package device

// Cursor cycles through an enumerated device list. The zero value is empty.
type Cursor struct {
	Devices []Info
	Index   int
}

// NewCursor starts a cursor at the first device.
func NewCursor(devices []Info) *Cursor {
	return &Cursor{Devices: devices}
}

// Next returns the device under the cursor and advances it, wrapping at the
// end. It returns "" when the list is empty or the device under the cursor
// is unavailable, so callers can step past it.
func (c *Cursor) Next() string {
	if c == nil || len(c.Devices) == 0 {
		return ""
	}
	if c.Index < 0 || c.Index >= len(c.Devices) {
		c.Index = 0
	}
	info := c.Devices[c.Index]
	c.Index = (c.Index + 1) % len(c.Devices)
	if !info.Enabled {
		return ""
	}
	return info.ID
}

// NextEnabled steps over unavailable devices, trying each entry at most once.
func (c *Cursor) NextEnabled() (string, bool) {
	if c == nil {
		return "", false
	}
	for range c.Devices {
		if id := c.Next(); id != "" {
			return id, true
		}
	}
	return "", false
}

// Len reports the number of devices the cursor cycles through.
func (c *Cursor) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Devices)
}
