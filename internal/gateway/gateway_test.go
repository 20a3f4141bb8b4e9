package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/accordvoice/accord/internal/wire"
	"github.com/accordvoice/accord/server"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEnv(t *testing.T, requireAuth bool) (*server.Library, *httptest.Server) {
	t.Helper()

	lib, err := server.NewLibrary(server.Options{
		Logger:      discard(),
		StorageRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	if _, err := lib.CreateServer("test", 16, ""); err != nil {
		t.Fatalf("create server: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	NewServer(lib, requireAuth, discard()).RegisterRoutes(e, nil)

	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		ts.Close()
		lib.Shutdown("test over")
	})
	return lib, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func TestVoiceEndpointAttachesClient(t *testing.T) {
	_, ts := testEnv(t, false)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/voice/1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	env, err := wire.New(wire.TypeConnect, wire.Connect{Identity: "id-alice", Nickname: "alice"})
	if err != nil {
		t.Fatalf("build connect: %v", err)
	}
	data, _ := json.Marshal(env)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got wire.Envelope
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.T != wire.TypeWelcome {
		t.Fatalf("first envelope = %s, want %s", got.T, wire.TypeWelcome)
	}
}

func TestVoiceEndpointUnknownServer(t *testing.T) {
	_, ts := testEnv(t, false)

	resp, err := http.Get(ts.URL + "/v1/voice/99")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestVoiceEndpointRejectsBadServerID(t *testing.T) {
	_, ts := testEnv(t, false)

	resp, err := http.Get(ts.URL + "/v1/voice/banana")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestVoiceEndpointRequiresToken(t *testing.T) {
	lib, ts := testEnv(t, true)

	resp, err := http.Get(ts.URL + "/v1/voice/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	token, err := lib.Issuer().Issue(2, "id-bob", "bob")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp, err = http.Get(ts.URL + "/v1/voice/1?token=" + token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token: status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	token, err = lib.Issuer().Issue(1, "id-bob", "bob")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/v1/voice/1?token="+token), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	ws.Close()
}

func TestRateLimiterThrottles(t *testing.T) {
	e := echo.New()
	e.HideBanner = true
	e.GET("/ping", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		CleanupInterval:   time.Hour,
	}))

	statuses := make([]int, 3)
	for i := range statuses {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		statuses[i] = rec.Code
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests = %v, want first two 200", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want %d", statuses[2], http.StatusTooManyRequests)
	}

	// A different address gets its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh address = %d, want %d", rec.Code, http.StatusOK)
	}
}
