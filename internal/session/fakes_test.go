package session_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"vinscan/internal/decoder"
	"vinscan/internal/device"
	"vinscan/internal/services"
	"vinscan/internal/session"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.snapshot() {
		if e == event {
			return i
		}
	}
	return -1
}

func (l *eventLog) count(event string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	log *eventLog

	startErr   error
	stopErr    error
	captureErr error
	// gate, when set, holds every capture until it is closed.
	gate chan struct{}

	captures atomic.Int32
}

func (d *fakeDevice) StartPreview(context.Context) error {
	d.log.add("start")
	return d.startErr
}

func (d *fakeDevice) StopPreview(context.Context) error {
	d.log.add("stop")
	return d.stopErr
}

func (d *fakeDevice) CapturePhoto(ctx context.Context) ([]byte, error) {
	d.captures.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.captureErr != nil {
		return nil, d.captureErr
	}
	id, _ := services.TaskIDFromContext(ctx)
	return []byte(fmt.Sprintf("task-%d", id)), nil
}

func (d *fakeDevice) Close() error {
	d.log.add("close")
	return nil
}

type fakeOpener struct {
	dev     *fakeDevice
	openErr error
	opens   atomic.Int32
}

func (o *fakeOpener) Open(_ context.Context, id string) (device.Device, error) {
	o.opens.Add(1)
	o.dev.log.add("open:%s", id)
	if o.openErr != nil {
		return nil, o.openErr
	}
	return o.dev, nil
}

// passThroughImage keeps the captured bytes as the pixel buffer so the fake
// reader can see which task captured them.
func passThroughImage(data []byte) (decoder.Frame, error) {
	return decoder.Frame{Pixels: data, Width: len(data), Height: 1, Format: decoder.FormatGray8}, nil
}

type fakeReader struct {
	// hits maps captured payloads to decoded text.
	hits  map[string]string
	err   error
	panic bool
	gate  chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
}

func (r *fakeReader) Decode(pixels []byte, _, _ int, _ decoder.PixelFormat, _ decoder.Options) (string, bool, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		prev := r.maxActive.Load()
		if n <= prev || r.maxActive.CompareAndSwap(prev, n) {
			break
		}
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.panic {
		panic("reader exploded")
	}
	if r.err != nil {
		return "", false, r.err
	}
	text, ok := r.hits[string(pixels)]
	return text, ok, nil
}

var errFlaky = errors.New("flaky hardware")

type decoderFrame = decoder.Frame

func itoa(id session.TaskID) string {
	return strconv.FormatUint(uint64(id), 10)
}
