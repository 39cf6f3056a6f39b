package wsout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stock-evalv1/internal/model"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func testRecord(symbol string, ema float64) model.FeatureRecord {
	return model.FeatureRecord{
		Symbol: symbol,
		TS:     time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC),
		Features: map[string]model.FeatureValue{
			"EMA_20": {Value: ema, Ready: true},
		},
	}
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	hub := NewHub()
	recCh := make(chan model.FeatureRecord, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, recCh)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	// Wait for registration before broadcasting
	waitForClients(t, hub, 1)

	recCh <- testRecord("AAPL", 101.25)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, msg)
	}
	if env.Channel != "feat:AAPL" {
		t.Errorf("channel: got %q, want feat:AAPL", env.Channel)
	}

	var rec model.FeatureRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if v, ok := rec.Value("EMA_20"); !ok || v != 101.25 {
		t.Errorf("EMA_20: got %v ok=%v", v, ok)
	}
}

func TestHub_SymbolFilter(t *testing.T) {
	hub := NewHub()
	recCh := make(chan model.FeatureRecord, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, recCh)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(subscribeMsg{Type: "SUBSCRIBE", Symbols: []string{"MSFT"}}); err != nil {
		t.Fatal(err)
	}
	// Give the read pump time to apply the filter
	time.Sleep(100 * time.Millisecond)

	recCh <- testRecord("AAPL", 1)
	recCh <- testRecord("MSFT", 2)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Coalesced writes pack frames with newline separators; the AAPL
	// record must not appear in any of them.
	for _, line := range strings.Split(string(msg), "\n") {
		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Channel != "feat:MSFT" {
			t.Errorf("filtered symbol leaked: %s", env.Channel)
		}
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
