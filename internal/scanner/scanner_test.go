package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vinscan/internal/device"
	"vinscan/internal/history"
	"vinscan/internal/scanner"
	"vinscan/internal/services"
	"vinscan/internal/session"
	"vinscan/internal/testsupport"
)

const goodVIN = "1M8GDM9AXKP042788"

type eventSink chan scanner.Event

func (s eventSink) Publish(event scanner.Event) {
	select {
	case s <- event:
	default:
	}
}

func waitEvent(t *testing.T, sink eventSink, typ string) scanner.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sink:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func newFileScanner(t *testing.T, sink eventSink, store *history.Store) *scanner.Scanner {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	s := scanner.New(cfg, store, sink, nil,
		scanner.WithSessionOptions(
			session.WithOpener(device.FileOpener{}),
			session.WithDrainPollInterval(5*time.Millisecond),
		),
	)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func TestScanRecordsAndPublishesResult(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	sink := make(eventSink, 16)
	s := newFileScanner(t, sink, store)

	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, goodVIN)

	ctx := context.Background()
	status, err := s.Start(ctx, image)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status.State != "capturing" {
		t.Fatalf("expected capturing state, got %q", status.State)
	}

	id, err := s.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	ev := waitEvent(t, sink, scanner.EventResult)
	if ev.TaskID != uint64(id) {
		t.Fatalf("expected task %d, got %d", id, ev.TaskID)
	}
	if !ev.Found || ev.Barcode != goodVIN {
		t.Fatalf("unexpected result %+v", ev)
	}
	if ev.VIN == nil || !ev.VIN.IsValid {
		t.Fatalf("expected valid VIN verdict, got %+v", ev.VIN)
	}
	if ev.ScanID == 0 {
		t.Fatalf("expected stored scan id")
	}

	stored, err := store.Get(ctx, ev.ScanID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v %v", stored, err)
	}
	if !stored.VINValid || stored.VINCanonical != goodVIN {
		t.Fatalf("unexpected stored scan %+v", stored)
	}

	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status().Running {
		t.Fatalf("expected scanner to be idle after stop")
	}
	if last := s.Status().Last; last == nil || last.ScanID != ev.ScanID {
		t.Fatalf("expected last result to be kept, got %+v", last)
	}
}

func TestStartTwiceIsProtocolError(t *testing.T) {
	sink := make(eventSink, 16)
	s := newFileScanner(t, sink, nil)
	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, goodVIN)

	if _, err := s.Start(context.Background(), image); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(context.Background(), image); !errors.Is(err, services.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestRequestAndStopWithoutSession(t *testing.T) {
	s := newFileScanner(t, make(eventSink, 1), nil)
	if _, err := s.Request(context.Background()); !errors.Is(err, services.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := s.Stop(context.Background()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStartSelectsFirstEnabledDevice(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var opened string
	factory := func(ctx context.Context, id string, cb session.Callback, opts ...session.Option) (*session.Session, error) {
		opened = id
		return nil, services.Wrap(services.ErrDevice, "test", "open", "stop here", nil)
	}
	lister := func(context.Context) ([]device.Info, error) {
		return []device.Info{
			{ID: "/dev/video0", Enabled: false},
			{ID: "/dev/video2", Enabled: true},
		}, nil
	}
	s := scanner.New(cfg, nil, nil, nil, scanner.WithSessionFactory(factory), scanner.WithLister(lister))
	defer s.Close(context.Background())

	if _, err := s.Start(context.Background(), ""); !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if opened != "/dev/video2" {
		t.Fatalf("expected /dev/video2, got %q", opened)
	}
	if s.Status().Running {
		t.Fatalf("failed start must not leave a session")
	}
}

func TestStartWithoutDevices(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	lister := func(context.Context) ([]device.Info, error) { return nil, nil }
	s := scanner.New(cfg, nil, nil, nil, scanner.WithLister(lister))
	defer s.Close(context.Background())

	if _, err := s.Start(context.Background(), ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeviceEventsArePublished(t *testing.T) {
	sink := make(eventSink, 4)
	s := newFileScanner(t, sink, nil)
	s.HandleDeviceEvent(context.Background(), device.Event{Action: "add", Device: "/dev/video4"})
	ev := waitEvent(t, sink, scanner.EventDevice)
	if ev.Action != "add" || ev.DeviceID != "/dev/video4" {
		t.Fatalf("unexpected device event %+v", ev)
	}
}

func TestSessionLogWritten(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logDir := filepath.Join(t.TempDir(), "sessions")
	sink := make(eventSink, 16)
	s := scanner.New(cfg, nil, sink, nil,
		scanner.WithSessionLogDir(logDir),
		scanner.WithSessionOptions(
			session.WithOpener(device.FileOpener{}),
			session.WithDrainPollInterval(5*time.Millisecond),
		),
	)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, goodVIN)
	ctx := context.Background()
	status, err := s.Start(ctx, image)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Request(ctx); err != nil {
		t.Fatalf("Request: %v", err)
	}
	waitEvent(t, sink, scanner.EventResult)
	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(logDir, status.ID+".log"))
	if err != nil {
		t.Fatalf("read session log: %v", err)
	}
	for _, want := range []string{`"msg":"decode requested"`, `"session_id":"` + status.ID + `"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("session log missing %s:\n%s", want, data)
		}
	}
}

type gatedDevice struct {
	device.Device
	gate <-chan struct{}
}

func (d gatedDevice) CapturePhoto(ctx context.Context) ([]byte, error) {
	<-d.gate
	return d.Device.CapturePhoto(ctx)
}

func TestStopDrainsTaskInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	gate := make(chan struct{})
	opener := device.OpenerFunc(func(ctx context.Context, id string) (device.Device, error) {
		dev, err := device.FileOpener{}.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		return gatedDevice{Device: dev, gate: gate}, nil
	})
	sink := make(eventSink, 16)
	s := scanner.New(cfg, store, sink, nil,
		scanner.WithSessionOptions(
			session.WithOpener(opener),
			session.WithDrainPollInterval(5*time.Millisecond),
		),
	)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, goodVIN)
	ctx := context.Background()
	if _, err := s.Start(ctx, image); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := s.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	time.AfterFunc(50*time.Millisecond, func() { close(gate) })

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status, err := s.Stop(stopCtx)
	if err != nil {
		t.Fatalf("Stop with task in flight: %v", err)
	}
	if status.InFlight != 0 || status.Delivered != 1 {
		t.Fatalf("expected drained session, got %+v", status)
	}
	if last := s.Status().Last; last == nil || last.TaskID != uint64(id) || !last.Found {
		t.Fatalf("expected drained result to be recorded, got %+v", last)
	}
	if s.Status().Running {
		t.Fatal("expected scanner to be idle after stop")
	}
}

func TestRequestRejectedWhileStopping(t *testing.T) {
	gate := make(chan struct{})
	opener := device.OpenerFunc(func(ctx context.Context, id string) (device.Device, error) {
		dev, err := device.FileOpener{}.Open(ctx, id)
		if err != nil {
			return nil, err
		}
		return gatedDevice{Device: dev, gate: gate}, nil
	})
	s := scanner.New(testsupport.NewConfig(t), nil, make(eventSink, 16), nil,
		scanner.WithSessionOptions(
			session.WithOpener(opener),
			session.WithDrainPollInterval(5*time.Millisecond),
		),
	)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, goodVIN)
	ctx := context.Background()
	if _, err := s.Start(ctx, image); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Request(ctx); err != nil {
		t.Fatalf("Request: %v", err)
	}

	stopped := make(chan error, 1)
	go func() {
		_, err := s.Stop(ctx)
		stopped <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := s.Status()
		if st.Session != nil && st.Session.State == "in_async_task" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never entered the drain, status %+v", st.Session)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := s.Request(ctx); !errors.Is(err, services.ErrRejected) {
		t.Fatalf("expected rejection during drain, got %v", err)
	}
	close(gate)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
}
