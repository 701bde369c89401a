package device

import (
	"context"
	"path/filepath"
	"strings"
)

// Device is an opened capture handle. Implementations are not reentrant;
// callers serialize access.
type Device interface {
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	// CapturePhoto returns one encoded still from the running preview.
	CapturePhoto(ctx context.Context) ([]byte, error)
	// Close releases the handle and any lock held on the hardware.
	Close() error
}

// Opener acquires devices by identifier.
type Opener interface {
	Open(ctx context.Context, id string) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, id string) (Device, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, id string) (Device, error) {
	return f(ctx, id)
}

// ResolvePath maps short node names such as "video0" onto /dev paths.
func ResolvePath(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.ContainsRune(id, filepath.Separator) {
		return filepath.Clean(id)
	}
	return filepath.Join("/dev", id)
}

// NodeName returns the kernel node name for a device path.
func NodeName(id string) string {
	return filepath.Base(ResolvePath(id))
}
