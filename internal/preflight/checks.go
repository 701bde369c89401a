package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"vinscan/internal/config"
	"vinscan/internal/deps"
	"vinscan/internal/device"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCaptureDevice probes the configured device node.
func CheckCaptureDevice(ctx context.Context, id string) Result {
	const name = "Capture device"
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{Name: name, Passed: true, Detail: "auto-select"}
	}
	path := device.ResolvePath(id)
	if err := device.Probe(ctx, path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckAPIExposure fails when the API listens beyond loopback without a token.
func CheckAPIExposure(bind, token string) Result {
	const name = "API access"
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return Result{Name: name, Passed: true, Detail: "API disabled"}
	}
	if strings.TrimSpace(token) != "" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (token required)", bind)}
	}
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", bind, err)}
	}
	if host == "localhost" {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (loopback only)", bind)}
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (loopback only)", bind)}
	}
	return Result{Name: name, Detail: fmt.Sprintf("%s (error: reachable without api_token)", bind)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
// Both the daemon and the CLI probe command use it.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Capture.FFmpegBinary,
			Description: "Required for camera preview and still capture",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
		{
			Name:        "v4l2-ctl",
			Command:     "v4l2-ctl",
			Description: "Inspects camera formats when tuning capture settings",
			Optional:    true,
		},
	})
}
