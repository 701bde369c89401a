package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"vinscan/internal/services"
)

func allowAll(context.Context, string) error { return nil }

func TestResolvePath(t *testing.T) {
	tests := map[string]string{
		"":             "",
		"video0":       "/dev/video0",
		" video2 ":     "/dev/video2",
		"/dev/video1":  "/dev/video1",
		"/dev//video3": "/dev/video3",
	}
	for input, want := range tests {
		if got := ResolvePath(input); got != want {
			t.Errorf("ResolvePath(%q) = %q, want %q", input, got, want)
		}
	}
	if NodeName("/dev/video5") != "video5" {
		t.Fatalf("unexpected node name %q", NodeName("/dev/video5"))
	}
}

func TestCursorCyclesAndSkipsUnavailable(t *testing.T) {
	cursor := NewCursor([]Info{
		{ID: "/dev/video0", Enabled: true},
		{ID: "/dev/video1", Enabled: false},
		{ID: "/dev/video2", Enabled: true},
	})

	want := []string{"/dev/video0", "", "/dev/video2", "/dev/video0"}
	for i, expected := range want {
		if got := cursor.Next(); got != expected {
			t.Fatalf("step %d: got %q want %q", i, got, expected)
		}
	}

	id, ok := cursor.NextEnabled()
	if !ok || id != "/dev/video2" {
		t.Fatalf("NextEnabled = %q, %v", id, ok)
	}
}

func TestCursorEmpty(t *testing.T) {
	var nilCursor *Cursor
	if nilCursor.Next() != "" || nilCursor.Len() != 0 {
		t.Fatal("nil cursor should be empty")
	}
	cursor := NewCursor([]Info{{ID: "/dev/video0"}})
	if _, ok := cursor.NextEnabled(); ok {
		t.Fatal("expected no enabled device")
	}
}

func TestEnumeratorListsSysfsNodes(t *testing.T) {
	sysfs := t.TempDir()
	writeNode := func(node, name, index string) {
		dir := filepath.Join(sysfs, node)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		_ = os.WriteFile(filepath.Join(dir, "name"), []byte(name+"\n"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "index"), []byte(index+"\n"), 0o644)
	}
	writeNode("video10", "Rear Cam", "0")
	writeNode("video2", "Integrated Camera", "0")
	writeNode("video3", "Integrated Camera", "1")
	if err := os.MkdirAll(filepath.Join(sysfs, "v4l-subdev0"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	enum := Enumerator{
		SysfsDir: sysfs,
		DevDir:   "/dev",
		Probe: func(_ context.Context, path string) error {
			if path == "/dev/video10" {
				return errors.New("permission denied")
			}
			return nil
		},
	}
	infos, err := enum.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %+v", len(infos), infos)
	}
	if infos[0].Node != "video2" || infos[1].Node != "video3" || infos[2].Node != "video10" {
		t.Fatalf("unexpected order: %+v", infos)
	}
	if !infos[0].Enabled || infos[0].Name != "Integrated Camera" {
		t.Fatalf("unexpected capture node: %+v", infos[0])
	}
	if infos[1].Enabled || infos[1].Capture {
		t.Fatalf("metadata node should be disabled: %+v", infos[1])
	}
	if infos[2].Enabled || infos[2].Detail == "" {
		t.Fatalf("inaccessible node should be disabled with detail: %+v", infos[2])
	}
}

func TestEnumeratorMissingSysfs(t *testing.T) {
	enum := Enumerator{SysfsDir: filepath.Join(t.TempDir(), "absent")}
	infos, err := enum.List(context.Background())
	if err != nil || len(infos) != 0 {
		t.Fatalf("expected empty list, got %v, %v", infos, err)
	}
}

func TestProbeClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	if err := Probe(ctx, filepath.Join(t.TempDir(), "video0")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	regular := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(regular, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Probe(ctx, regular); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected device error for regular file, got %v", err)
	}
	if err := Probe(ctx, ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFileOpenerRoundRobin(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"b.png": "second", "a.jpg": "first", "notes.txt": "skip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ctx := context.Background()
	dev, err := FileOpener{}.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	if _, err := dev.CapturePhoto(ctx); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("capture before preview should fail, got %v", err)
	}
	if err := dev.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	var got []string
	for range 3 {
		data, err := dev.CapturePhoto(ctx)
		if err != nil {
			t.Fatalf("CapturePhoto: %v", err)
		}
		got = append(got, string(data))
	}
	if got[0] != "first" || got[1] != "second" || got[2] != "first" {
		t.Fatalf("unexpected rotation: %v", got)
	}
}

func TestFileOpenerRejectsEmptyDirectory(t *testing.T) {
	if _, err := (FileOpener{}).Open(context.Background(), t.TempDir()); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestV4L2OpenLocksNodeWithoutLockDir(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	opener := &V4L2Opener{Config: PreviewConfig{FrameDir: t.TempDir()}, Probe: allowAll}
	ctx := context.Background()

	first, err := opener.Open(ctx, "video9")
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer first.Close()
	if _, err := os.Stat(filepath.Join(tmp, fallbackLockDir, "video9.lock")); err != nil {
		t.Fatalf("expected lock file under temp dir: %v", err)
	}
	other := &V4L2Opener{Config: PreviewConfig{FrameDir: t.TempDir()}, Probe: allowAll}
	if _, err := other.Open(ctx, "/dev/video9"); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected second open to fail while locked, got %v", err)
	}
}

func TestV4L2OpenLocksNode(t *testing.T) {
	cfg := PreviewConfig{LockDir: t.TempDir(), FrameDir: t.TempDir()}
	opener := &V4L2Opener{Config: cfg, Probe: allowAll}
	ctx := context.Background()

	first, err := opener.Open(ctx, "video7")
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := opener.Open(ctx, "/dev/video7"); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected second open to fail while locked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	again, err := opener.Open(ctx, "video7")
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	_ = again.Close()
}

func TestV4L2PreviewWithStubFFmpeg(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	binDir := t.TempDir()
	stub := filepath.Join(binDir, "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\nprintf 'frame-bytes' > \"$last\"\nexec sleep 30\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	frameBase := t.TempDir()
	opener := &V4L2Opener{
		Config: PreviewConfig{
			FFmpegBinary: stub,
			InputFormat:  "v4l2",
			Width:        640,
			Height:       480,
			FrameRate:    5,
			FrameDir:     frameBase,
			LockDir:      t.TempDir(),
			StartTimeout: 5 * time.Second,
			StopTimeout:  2 * time.Second,
		},
		Probe: allowAll,
	}
	ctx := context.Background()
	dev, err := opener.Open(ctx, "video0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := dev.StartPreview(ctx); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	data, err := dev.CapturePhoto(ctx)
	if err != nil {
		t.Fatalf("CapturePhoto: %v", err)
	}
	if string(data) != "frame-bytes" {
		t.Fatalf("unexpected frame %q", data)
	}
	if err := dev.StopPreview(ctx); err != nil {
		t.Fatalf("StopPreview: %v", err)
	}
	if _, err := dev.CapturePhoto(ctx); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("capture after stop should fail, got %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	entries, _ := os.ReadDir(frameBase)
	if len(entries) != 0 {
		t.Fatalf("expected frame directory to be removed, found %d entries", len(entries))
	}
}

func TestV4L2PreviewFailsWhenFFmpegExits(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	stub := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'cannot open device' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	opener := &V4L2Opener{
		Config: PreviewConfig{FFmpegBinary: stub, FrameDir: t.TempDir(), LockDir: t.TempDir(), StartTimeout: 5 * time.Second},
		Probe:  allowAll,
	}
	dev, err := opener.Open(context.Background(), "video0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()
	err = dev.StartPreview(context.Background())
	if !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	add := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "video4linux"}}
	if !matcher.Evaluate(add) {
		t.Error("expected add event to match")
	}
	remove := netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{"SUBSYSTEM": "video4linux"}}
	if !matcher.Evaluate(remove) {
		t.Error("expected remove event to match")
	}
	change := netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "video4linux"}}
	if matcher.Evaluate(change) {
		t.Error("expected change event to be ignored")
	}
	block := netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}
	if matcher.Evaluate(block) {
		t.Error("expected block event to be ignored")
	}
}

func TestWatcherHandleEvent(t *testing.T) {
	var events []Event
	w := NewWatcher(nil, func(_ context.Context, event Event) {
		events = append(events, event)
	})

	w.handleEvent(context.Background(), netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
	w.handleEvent(context.Background(), netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "video4"}})
	w.handleEvent(context.Background(), netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"DEVPATH": "/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/video4linux/video6"},
	})

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	if events[0] != (Event{Action: "add", Device: "/dev/video4"}) {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1] != (Event{Action: "remove", Device: "/dev/video6"}) {
		t.Fatalf("unexpected second event %+v", events[1])
	}
}

func TestWatcherNilSafety(t *testing.T) {
	var w *Watcher
	w.Stop()
	if w.Running() {
		t.Fatal("nil watcher should not run")
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil watcher: %v", err)
	}
}
