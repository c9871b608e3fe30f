package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
	"github.com/louisbranch/storepulse/internal/services/traffic/engine"
	"golang.org/x/net/websocket"
)

type wsTestFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func subscribeStore(t *testing.T, conn *websocket.Conn, storeID int) {
	t.Helper()
	err := json.NewEncoder(conn).Encode(map[string]any{
		"type":    frameTypeSubscribe,
		"storeId": storeID,
	})
	if err != nil {
		t.Fatalf("encode subscribe: %v", err)
	}
}

func readWSFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func TestWebSocketSubscribeDeliversInitialData(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 3, 11, 0, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return now }))

	err := server.HandleDelta(context.Background(), domain.TrafficDelta{
		StoreID:      10,
		CustomersIn:  3,
		CustomersOut: 1,
		OccurredAt:   now,
	})
	if err != nil {
		t.Fatalf("handle delta: %v", err)
	}

	conn := dialWS(t, srv)
	subscribeStore(t, conn, 10)

	got := readWSFrame(t, conn)
	if got.Type != frameTypeInitialData {
		t.Fatalf("frame type = %q, want %q", got.Type, frameTypeInitialData)
	}

	var snapshot initialDataView
	if err := json.Unmarshal(got.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.CurrentStats.CurrentCustomers != 2 {
		t.Fatalf("snapshot occupancy = %d, want 2", snapshot.CurrentStats.CurrentCustomers)
	}
	if len(snapshot.RecentEvents) != 1 {
		t.Fatalf("snapshot events = %d, want 1", len(snapshot.RecentEvents))
	}
	if len(snapshot.HourlyTraffic) != 1 {
		t.Fatalf("snapshot buckets = %d, want 1", len(snapshot.HourlyTraffic))
	}
}

func TestWebSocketDeltaFramesFollowSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 3, 11, 0, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return now }))

	conn := dialWS(t, srv)
	subscribeStore(t, conn, 10)

	if got := readWSFrame(t, conn); got.Type != frameTypeInitialData {
		t.Fatalf("first frame type = %q, want %q", got.Type, frameTypeInitialData)
	}

	err := server.HandleDelta(context.Background(), domain.TrafficDelta{
		StoreID:      10,
		CustomersIn:  2,
		CustomersOut: 1,
		OccurredAt:   now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("handle delta: %v", err)
	}

	got := readWSFrame(t, conn)
	if got.Type != frameTypeDelta {
		t.Fatalf("frame type = %q, want %q", got.Type, frameTypeDelta)
	}

	var view deltaView
	if err := json.Unmarshal(got.Payload, &view); err != nil {
		t.Fatalf("decode delta payload: %v", err)
	}
	if view.StoreID != 10 || view.CustomersIn != 2 || view.CustomersOut != 1 {
		t.Fatalf("delta payload = %+v, want store 10 in=2 out=1", view)
	}
	if view.TimeStamp != "11.00.01" {
		t.Fatalf("time_stamp = %q, want %q", view.TimeStamp, "11.00.01")
	}
}

func TestWebSocketResubscribeMovesObserver(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 3, 11, 0, 0, 0, time.UTC)
	server, srv := newTestServer(t, engine.WithClock(func() time.Time { return now }))

	conn := dialWS(t, srv)

	subscribeStore(t, conn, 10)
	if got := readWSFrame(t, conn); got.Type != frameTypeInitialData {
		t.Fatalf("first frame type = %q, want %q", got.Type, frameTypeInitialData)
	}

	subscribeStore(t, conn, 11)
	if got := readWSFrame(t, conn); got.Type != frameTypeInitialData {
		t.Fatalf("resubscribe frame type = %q, want %q", got.Type, frameTypeInitialData)
	}

	// Deltas for the abandoned store must not reach the observer.
	for _, storeID := range []int{10, 11} {
		err := server.HandleDelta(context.Background(), domain.TrafficDelta{
			StoreID:     storeID,
			CustomersIn: 1,
			OccurredAt:  now.Add(time.Second),
		})
		if err != nil {
			t.Fatalf("handle delta store %d: %v", storeID, err)
		}
	}

	got := readWSFrame(t, conn)
	if got.Type != frameTypeDelta {
		t.Fatalf("frame type = %q, want %q", got.Type, frameTypeDelta)
	}
	var view deltaView
	if err := json.Unmarshal(got.Payload, &view); err != nil {
		t.Fatalf("decode delta payload: %v", err)
	}
	if view.StoreID != 11 {
		t.Fatalf("delta store = %d, want 11", view.StoreID)
	}
}

func TestWebSocketIgnoresUnknownFrameTypes(t *testing.T) {
	t.Parallel()

	_, srv := newTestServer(t)

	conn := dialWS(t, srv)
	err := json.NewEncoder(conn).Encode(map[string]any{"type": "PING"})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}

	subscribeStore(t, conn, 10)
	if got := readWSFrame(t, conn); got.Type != frameTypeInitialData {
		t.Fatalf("frame type = %q, want %q", got.Type, frameTypeInitialData)
	}
}

func TestHubPublishEvictsFullObserverWithoutBlocking(t *testing.T) {
	t.Parallel()

	h := newHub()
	snapshot := func() (outboundFrame, error) {
		return outboundFrame{Type: frameTypeInitialData}, nil
	}

	stalled := newObserver()
	healthy := newObserver()
	if err := h.subscribe(stalled, 10, snapshot); err != nil {
		t.Fatalf("subscribe stalled: %v", err)
	}
	if err := h.subscribe(healthy, 10, snapshot); err != nil {
		t.Fatalf("subscribe healthy: %v", err)
	}

	// Nobody drains the stalled observer, so its buffer eventually fills and
	// publish must cut it loose while the healthy observer keeps draining.
	var drained sync.WaitGroup
	drained.Add(1)
	received := 0
	done := make(chan struct{})
	go func() {
		defer drained.Done()
		for range healthy.frames {
			received++
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	frame := outboundFrame{Type: frameTypeDelta}
	for i := 0; i < observerQueueDepth+10; i++ {
		h.publish(10, frame)
	}

	stalled.mu.Lock()
	stalledClosed := stalled.closed
	stalled.mu.Unlock()
	if !stalledClosed {
		t.Fatal("stalled observer was not closed")
	}

	close(done)
	h.drop(healthy)
	drained.Wait()

	if received == 0 {
		t.Fatal("healthy observer received no frames")
	}
}

func TestHubSnapshotAlwaysPrecedesIncrements(t *testing.T) {
	t.Parallel()

	h := newHub()

	stop := make(chan struct{})
	var publishers sync.WaitGroup
	for i := 0; i < 4; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.publish(10, outboundFrame{Type: frameTypeDelta})
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		obs := newObserver()
		err := h.subscribe(obs, 10, func() (outboundFrame, error) {
			return outboundFrame{Type: frameTypeInitialData}, nil
		})
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		first := <-obs.frames
		if first.Type != frameTypeInitialData {
			t.Fatalf("first frame type = %q, want %q", first.Type, frameTypeInitialData)
		}
		h.drop(obs)
	}

	close(stop)
	publishers.Wait()
}

func TestHubSubscribeSnapshotErrorLeavesObserverUnregistered(t *testing.T) {
	t.Parallel()

	h := newHub()
	obs := newObserver()

	wantErr := errors.New("snapshot failed")
	err := h.subscribe(obs, 10, func() (outboundFrame, error) {
		return outboundFrame{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("subscribe error = %v, want %v", err, wantErr)
	}

	h.publish(10, outboundFrame{Type: frameTypeDelta})
	select {
	case frame := <-obs.frames:
		t.Fatalf("unexpected frame after failed subscribe: %+v", frame)
	default:
	}
}
