package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"vinscan/internal/services"
)

var stillExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// FileOpener serves stills from disk. The id names an image file or a
// directory whose images are returned round robin.
type FileOpener struct{}

// Open resolves the stills behind id.
func (FileOpener) Open(ctx context.Context, id string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(id)
	if path == "" {
		return nil, services.Wrap(services.ErrDevice, "device", "open", "image path is empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDevice, "device", "open", fmt.Sprintf("stat %s", path), err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, services.Wrap(services.ErrDevice, "device", "open", "read image directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !stillExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, services.Wrap(services.ErrDevice, "device", "open", fmt.Sprintf("no images in %s", path), nil)
	}
	return &fileDevice{files: files}, nil
}

type fileDevice struct {
	mu         sync.Mutex
	files      []string
	next       int
	previewing bool
	closed     bool
}

func (d *fileDevice) StartPreview(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return services.Wrap(services.ErrDevice, "device", "start preview", "device is closed", nil)
	}
	d.previewing = true
	return nil
}

func (d *fileDevice) StopPreview(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	return nil
}

func (d *fileDevice) CapturePhoto(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if !d.previewing {
		d.mu.Unlock()
		return nil, services.Wrap(services.ErrDevice, "device", "capture photo", "preview is not running", nil)
	}
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrDevice, "device", "capture photo", fmt.Sprintf("read %s", path), err)
	}
	return data, nil
}

func (d *fileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.previewing = false
	return nil
}
