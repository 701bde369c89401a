package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vinscan/internal/api"
	"vinscan/internal/device"
	"vinscan/internal/logging"
	"vinscan/internal/scanner"
	"vinscan/internal/session"
	"vinscan/internal/testsupport"
	"vinscan/internal/vin"
)

const testVIN = "1M8GDM9AXKP042788"

type apiHarness struct {
	daemon *Daemon
	server *httptest.Server
	token  string
	image  string
}

func newAPIHarness(t *testing.T, token string) *apiHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(token))
	store := testsupport.MustOpenStore(t, cfg)
	lister := func(context.Context) ([]device.Info, error) {
		return []device.Info{{ID: "/dev/video0", Name: "Test Cam", Capture: true, Enabled: true}}, nil
	}
	d, err := New(cfg, store, logging.NewNop(),
		WithoutWatcher(),
		WithLister(lister),
		WithScannerOptions(scanner.WithSessionOptions(
			session.WithOpener(device.FileOpener{}),
			session.WithDrainPollInterval(5*time.Millisecond),
		)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = d.scanner.Close(context.Background())
		d.hub.Close()
	})

	image := filepath.Join(t.TempDir(), "vin.png")
	testsupport.WriteBarcodePNG(t, image, testVIN)
	return &apiHarness{daemon: d, server: srv, token: token, image: image}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected %s header on %s", requestIDHeader, path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (h *apiHarness) dialStream(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/results/stream"
	header := http.Header{}
	if h.token != "" {
		header.Set("Authorization", "Bearer "+h.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStream(t *testing.T, conn *websocket.Conn, typ string) api.StreamMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestAPISessionLifecycleStreamsResults(t *testing.T) {
	h := newAPIHarness(t, "")
	conn := h.dialStream(t)
	readStream(t, conn, api.StreamHello)

	var started api.SessionResponse
	if code := h.do(t, http.MethodPost, "/api/session", api.StartSessionRequest{Device: h.image}, &started); code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", code)
	}
	if started.Session.State != "capturing" {
		t.Fatalf("unexpected state %q", started.Session.State)
	}
	readStream(t, conn, api.StreamSession)

	var decode api.DecodeResponse
	if code := h.do(t, http.MethodPost, "/api/session/decode", nil, &decode); code != http.StatusAccepted {
		t.Fatalf("decode: expected 202, got %d", code)
	}
	if decode.TaskID != 1 {
		t.Fatalf("expected first task id 1, got %d", decode.TaskID)
	}

	msg := readStream(t, conn, api.StreamResult)
	if msg.Result == nil || msg.Result.TaskID != decode.TaskID || msg.Result.Barcode != testVIN {
		t.Fatalf("unexpected streamed result %+v", msg.Result)
	}
	if msg.Result.VIN == nil || !msg.Result.VIN.IsValid {
		t.Fatalf("expected valid VIN verdict")
	}

	var hist api.HistoryResponse
	if code := h.do(t, http.MethodGet, "/api/history?found=1", nil, &hist); code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", code)
	}
	if len(hist.Scans) != 1 || !hist.Scans[0].VINValid || hist.Summary.Valid != 1 {
		t.Fatalf("unexpected history %+v", hist)
	}

	var item api.ScanResponse
	path := "/api/history/" + strings.TrimSpace(jsonNumber(hist.Scans[0].ID))
	if code := h.do(t, http.MethodGet, path, nil, &item); code != http.StatusOK {
		t.Fatalf("history item: expected 200, got %d", code)
	}
	if item.Scan.VINCanonical != testVIN {
		t.Fatalf("unexpected scan %+v", item.Scan)
	}

	var stopped api.SessionResponse
	if code := h.do(t, http.MethodDelete, "/api/session", nil, &stopped); code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", code)
	}
	if stopped.Session.Delivered != 1 || stopped.Session.InFlight != 0 {
		t.Fatalf("unexpected stop snapshot %+v", stopped.Session)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	h := newAPIHarness(t, "")

	var errResp api.ErrorResponse
	if code := h.do(t, http.MethodPost, "/api/session/decode", nil, &errResp); code != http.StatusConflict {
		t.Fatalf("decode without session: expected 409, got %d", code)
	}
	if errResp.Kind != "request rejected" {
		t.Fatalf("unexpected error kind %q", errResp.Kind)
	}
	if code := h.do(t, http.MethodDelete, "/api/session", nil, nil); code != http.StatusNotFound {
		t.Fatalf("stop without session: expected 404, got %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/session", nil, nil); code != http.StatusNotFound {
		t.Fatalf("status without session: expected 404, got %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/history/999", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing scan: expected 404, got %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/history?limit=x", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", code)
	}
	if code := h.do(t, http.MethodPut, "/api/session", nil, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: expected 405, got %d", code)
	}

	if code := h.do(t, http.MethodPost, "/api/session", api.StartSessionRequest{Device: h.image}, nil); code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", code)
	}
	if code := h.do(t, http.MethodPost, "/api/session", api.StartSessionRequest{Device: h.image}, nil); code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", code)
	}
}

func TestAPIDevicesAndVIN(t *testing.T) {
	h := newAPIHarness(t, "")

	var devices api.DevicesResponse
	if code := h.do(t, http.MethodGet, "/api/devices", nil, &devices); code != http.StatusOK {
		t.Fatalf("devices: expected 200, got %d", code)
	}
	if len(devices.Devices) != 1 || devices.Devices[0].Name != "Test Cam" {
		t.Fatalf("unexpected devices %+v", devices)
	}

	var info vin.Info
	if code := h.do(t, http.MethodPost, "/api/vin", api.VINRequest{Value: "1m8gdm9axkp042788"}, &info); code != http.StatusOK {
		t.Fatalf("vin: expected 200, got %d", code)
	}
	if info.IsValid || !info.IsChecksumValidAfterCanonicalization {
		t.Fatalf("lowercase input should only validate after canonicalization: %+v", info)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newAPIHarness(t, "secret")

	resp, err := http.Get(h.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	var status api.DaemonStatus
	if code := h.do(t, http.MethodGet, "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if status.PID == 0 {
		t.Fatalf("expected pid in status")
	}

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/results/stream?access_token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	conn.Close()
}

func jsonNumber(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
