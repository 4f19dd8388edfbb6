package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adlens/adlens/pkg/types"
	"github.com/adlens/adlens/server/internal/store"
	wsHub "github.com/adlens/adlens/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

func newStore(results ...*types.Result) *store.Store {
	st := store.New(time.Hour)
	for _, r := range results {
		st.Put(r)
	}
	return st
}

func result(id, state string) *types.Result {
	return &types.Result{JobID: id, Kind: "budget", State: state, RowsRead: 3}
}

// startHub starts a test HTTP server with the hub as its handler and runs
// the hub's broadcast loop until the test ends or cancel is called.
func startHub(t *testing.T, st *store.Store) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(st, nil, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads and decodes one message from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func snapshotResults(t *testing.T, m map[string]any) []any {
	t.Helper()
	if m["event"] != "snapshot" {
		t.Fatalf("event: got %v, want snapshot", m["event"])
	}
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatal("data: missing or wrong type")
	}
	if data["generated_at"] == nil || data["generated_at"] == "" {
		t.Error("generated_at: missing")
	}
	results, ok := data["results"].([]any)
	if !ok {
		t.Fatal("results: missing or wrong type")
	}
	return results
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesImmediateSnapshot(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore(result("budget-daily", "ok"), result("abtest", "warning")))
	conn := dial(t, wsURL)
	if got := snapshotResults(t, readMessage(t, conn)); len(got) != 2 {
		t.Errorf("results: got %d, want 2", len(got))
	}
}

func TestHub_EmptyStore_EmptyResults(t *testing.T) {
	wsURL, _, _ := startHub(t, newStore())
	conn := dial(t, wsURL)
	if got := snapshotResults(t, readMessage(t, conn)); len(got) != 0 {
		t.Errorf("results: got %d, want 0", len(got))
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, newStore())

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i]) // consume initial message
	}
	time.Sleep(10 * time.Millisecond)
	if n := hub.Count(); n != 3 {
		t.Errorf("Count: got %d, want 3", n)
	}

	conns[0].Close()
	time.Sleep(50 * time.Millisecond) // let readPump detect the close
	if n := hub.Count(); n != 2 {
		t.Errorf("Count after disconnect: got %d, want 2", n)
	}
}

func TestHub_ReceivesBroadcastOnTick(t *testing.T) {
	st := newStore()
	wsURL, _, _ := startHub(t, st)

	conn := dial(t, wsURL)
	readMessage(t, conn) // immediate snapshot of the empty store

	st.Put(result("new-job", "critical"))

	got := snapshotResults(t, readMessage(t, conn))
	if len(got) != 1 {
		t.Fatalf("tick broadcast: got %d results, want 1", len(got))
	}
	if r := got[0].(map[string]any); r["job_id"] != "new-job" {
		t.Errorf("job_id: got %v, want new-job", r["job_id"])
	}
}

func TestHub_Publish(t *testing.T) {
	st := newStore()
	hub := wsHub.New(st, nil, time.Hour) // no ticks during the test
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	hub.Publish(result("budget-daily", "critical"))
	m := readMessage(t, conn)
	if m["event"] != "result" {
		t.Fatalf("event: got %v, want result", m["event"])
	}
	if data := m["data"].(map[string]any); data["job_id"] != "budget-daily" || data["state"] != "critical" {
		t.Errorf("data: %v", data)
	}
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	wsURL, hub, cancel := startHub(t, newStore())

	conn := dial(t, wsURL)
	readMessage(t, conn)
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after cancel: got %d, want 0", n)
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(newStore(), nil, testInterval)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
