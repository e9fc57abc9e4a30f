package admin

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/prolink/internal/arbitration"
	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/protocol"
	"github.com/danmuck/prolink/internal/testutil/testlog"
)

type stubSource struct {
	dir   *directory.Directory
	state arbitration.State
}

func (s stubSource) Directory() *directory.Directory { return s.dir }
func (s stubSource) Master() arbitration.State       { return s.state }
func (s stubSource) DeviceNumber() uint8             { return s.state.Self }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := directory.New(time.Minute)
	dir.Observe(&protocol.KeepAlive{
		Name:       "CDJ-2000nexus",
		Number:     2,
		DeviceType: protocol.DeviceTypePlayer,
		MAC:        protocol.MAC{0x00, 0xe0, 0x36, 0x01, 0x02, 0x03},
		IP:         netip.MustParseAddr("192.168.1.12"),
	}, time.Now())
	src := stubSource{
		dir:   dir,
		state: arbitration.State{Self: 5, Master: 2, Role: arbitration.NotMaster},
	}
	return New(src, nil, testlog.Logger(t))
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rr.Code, body
}

func TestHealthAndMaster(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/health")
	if code != http.StatusOK || body["status"] != "ok" || body["device_number"] != float64(5) {
		t.Fatalf("unexpected health: %d %#v", code, body)
	}

	code, body = get(t, s, "/master")
	if code != http.StatusOK || body["role"] != "not_master" || body["master"] != float64(2) || body["self"] != float64(5) {
		t.Fatalf("unexpected master view: %d %#v", code, body)
	}
}

func TestDevices(t *testing.T) {
	s := newTestServer(t)

	code, body := get(t, s, "/devices")
	if code != http.StatusOK {
		t.Fatalf("devices status %d", code)
	}
	list, ok := body["devices"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("unexpected device list: %#v", body)
	}
	dev := list[0].(map[string]any)
	if dev["number"] != float64(2) || dev["ip"] != "192.168.1.12" || dev["type"] != "player" || dev["mac"] != "00:e0:36:01:02:03" {
		t.Fatalf("unexpected device: %#v", dev)
	}

	if code, _ := get(t, s, "/devices/2"); code != http.StatusOK {
		t.Fatalf("lookup status %d", code)
	}
	if code, _ := get(t, s, "/devices/9"); code != http.StatusNotFound {
		t.Fatalf("missing device status %d", code)
	}
	for _, bad := range []string{"/devices/0", "/devices/abc", "/devices/300"} {
		if code, _ := get(t, s, bad); code != http.StatusBadRequest {
			t.Fatalf("%s status %d", bad, code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	get(t, s, "/health")

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "prolink_http_requests_total") {
		t.Fatalf("metrics missing request counter: %d", rr.Code)
	}
}

func TestServeListenerShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
