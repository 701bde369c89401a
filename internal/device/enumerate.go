package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"vinscan/internal/services"
)

// Info describes one enumerated video node.
type Info struct {
	ID    string `json:"id"`
	Node  string `json:"node"`
	Name  string `json:"name"`
	Index int    `json:"index"`
	// Capture is false for metadata nodes that share hardware with a capture node.
	Capture bool   `json:"capture"`
	Enabled bool   `json:"enabled"`
	Detail  string `json:"detail,omitempty"`
}

// Enumerator lists video nodes from sysfs.
type Enumerator struct {
	SysfsDir string
	DevDir   string
	// Probe checks a node for access; nil uses Probe.
	Probe func(ctx context.Context, path string) error
}

// DefaultEnumerator reads the live system.
func DefaultEnumerator() Enumerator {
	return Enumerator{SysfsDir: "/sys/class/video4linux", DevDir: "/dev"}
}

// List enumerates video nodes on the running system.
func List(ctx context.Context) ([]Info, error) {
	return DefaultEnumerator().List(ctx)
}

// List returns every node in index order, capture nodes first per device.
func (e Enumerator) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(e.SysfsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrDevice, "device", "list", "read video4linux class", err)
	}

	probe := e.Probe
	if probe == nil {
		probe = Probe
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := entry.Name()
		if !strings.HasPrefix(node, "video") {
			continue
		}
		dir := filepath.Join(e.SysfsDir, node)
		info := Info{
			ID:   filepath.Join(e.DevDir, node),
			Node: node,
			Name: readAttr(dir, "name"),
		}
		if idx, err := strconv.Atoi(readAttr(dir, "index")); err == nil {
			info.Index = idx
		}
		info.Capture = info.Index == 0
		if err := probe(ctx, info.ID); err != nil {
			info.Detail = err.Error()
		} else {
			info.Enabled = info.Capture
			if !info.Capture {
				info.Detail = "metadata node"
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return nodeNumber(infos[i].Node) < nodeNumber(infos[j].Node)
	})
	return infos, nil
}

// Probe verifies that path is a character device the process can read and write.
func Probe(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path = ResolvePath(path)
	if path == "" {
		return services.Wrap(services.ErrValidation, "device", "probe", "device id is empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrNotFound, "device", "probe", fmt.Sprintf("%s does not exist", path), nil)
		}
		return services.Wrap(services.ErrDevice, "device", "probe", "stat device", err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return services.Wrap(services.ErrDevice, "device", "probe", fmt.Sprintf("%s is not a character device", path), nil)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return services.Wrap(services.ErrDevice, "device", "probe", fmt.Sprintf("insufficient permissions on %s (add the user to the video group)", path), err)
	}
	return nil
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func nodeNumber(node string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(node, "video"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
