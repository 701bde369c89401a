package preflight

import (
	"context"
	"fmt"

	"vinscan/internal/config"
	"vinscan/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Lock directory", cfg.Paths.LockDir),
	}
	if cfg.Paths.FrameDir != "" {
		results = append(results, CheckDirectoryAccess("Frame directory", cfg.Paths.FrameDir))
	}
	results = append(results, CheckCaptureDevice(ctx, cfg.Capture.Device))
	results = append(results, CheckAPIExposure(cfg.Paths.APIBind, cfg.Paths.APIToken))
	for _, st := range CheckSystemDeps(ctx, cfg) {
		results = append(results, FromDependency(st))
	}
	return results
}

// FromDependency converts a dependency status into a check result. Missing
// optional binaries pass.
func FromDependency(st deps.Status) Result {
	switch {
	case st.Available && st.Version != "":
		return Result{Name: st.Name, Passed: true, Detail: st.Version}
	case st.Available:
		return Result{Name: st.Name, Passed: true, Detail: st.Command}
	case st.Optional:
		return Result{Name: st.Name, Passed: true, Detail: fmt.Sprintf("optional: %s", st.Detail)}
	default:
		return Result{Name: st.Name, Detail: st.Detail}
	}
}

// Failed filters failed results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
