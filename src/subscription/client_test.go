package subscription

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-observer/src/helpers"
	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------

func testClientConfig(wsURL string) *models.MConfig {
	return &models.MConfig{
		Exchange: models.MExchangeConfig{
			WsURL:            wsURL,
			ChannelType:      "trade",
			MaxSubscriptions: 5,
		},
		Backoff: models.MBackoffConfig{
			BaseDelayMs: 10,
			MaxDelayMs:  50,
		},
	}
}

// -----------------------------------------------------------------------------

// feedServer upgrades inbound connections, captures the subscribe frame and
// hands the connection to the provided session function.
func feedServer(t *testing.T, session func(conn *websocket.Conn, subscribe []byte)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session(conn, frame)
	}))
}

// -----------------------------------------------------------------------------

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// -----------------------------------------------------------------------------

func TestConnectRejectsSymbolOverflowBeforeIO(t *testing.T) {
	// No server behind this URL: a ceiling violation must fail before any
	// transport activity.
	cfg := testClientConfig("ws://127.0.0.1:1/ws")
	client := NewClient(cfg, logger.NewLogger("error", "test"))

	symbols := []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-ADA", "KRW-DOGE"}
	err := client.Connect(context.Background(), symbols)

	var limitErr *helpers.SubscriptionLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 6, limitErr.Requested)
	assert.Equal(t, 5, limitErr.Limit)
}

// -----------------------------------------------------------------------------

func TestSubscribeFrameShape(t *testing.T) {
	frames := make(chan []byte, 1)
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		frames <- subscribe
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC", "KRW-ETH"}))
	defer client.Dispose()

	select {
	case raw := <-frames:
		var frame []map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &frame))
		require.Len(t, frame, 3)
		assert.NotEmpty(t, frame[0]["ticket"])
		assert.Equal(t, "trade", frame[1]["type"])
		assert.Equal(t, []interface{}{"KRW-BTC", "KRW-ETH"}, frame[1]["codes"])
		assert.Equal(t, "DEFAULT", frame[2]["format"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe frame never arrived")
	}
}

// -----------------------------------------------------------------------------

func TestStreamDecodesObjectAndArrayFrames(t *testing.T) {
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		single := `{"type":"trade","code":"KRW-BTC","trade_price":100.5,"trade_volume":2,"ask_bid":"BID","sequential_id":1,"timestamp":1700000000000}`
		batch := `[{"type":"trade","code":"KRW-ETH","trade_price":50,"trade_volume":1,"ask_bid":"ASK","sequential_id":2,"timestamp":1700000000500},` +
			`{"type":"trade","code":"KRW-XRP","trade_price":0.5,"trade_volume":100,"ask_bid":"BID","sequential_id":3,"timestamp":1700000001000}]`
		conn.WriteMessage(websocket.TextMessage, []byte(single))
		conn.WriteMessage(websocket.TextMessage, []byte(batch))
		time.Sleep(500 * time.Millisecond)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))
	defer client.Dispose()

	var trades []models.MTrade
	timeout := time.After(2 * time.Second)
	for len(trades) < 3 {
		select {
		case trade := <-client.Stream():
			trades = append(trades, trade)
		case <-timeout:
			t.Fatalf("expected 3 trades, got %d", len(trades))
		}
	}

	assert.Equal(t, "KRW-BTC", trades[0].Symbol)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.Equal(t, 100.5, trades[0].Price)
	assert.Equal(t, "KRW-ETH", trades[1].Symbol)
	assert.Equal(t, models.SideSell, trades[1].Side)
	assert.Equal(t, "KRW-XRP", trades[2].Symbol)
	assert.Equal(t, "3", trades[2].SequenceID)
}

// -----------------------------------------------------------------------------

func TestInvalidMessagesAreDroppedNotFatal(t *testing.T) {
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		// Zero-volume message is rejected by validation; the good one that
		// follows must still flow through.
		bad := `{"type":"trade","code":"KRW-BTC","trade_price":100,"trade_volume":0,"ask_bid":"BID","sequential_id":1,"timestamp":1700000000000}`
		good := `{"type":"trade","code":"KRW-BTC","trade_price":101,"trade_volume":1,"ask_bid":"ASK","sequential_id":2,"timestamp":1700000000100}`
		conn.WriteMessage(websocket.TextMessage, []byte(bad))
		conn.WriteMessage(websocket.TextMessage, []byte(good))
		time.Sleep(500 * time.Millisecond)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))
	defer client.Dispose()

	select {
	case trade := <-client.Stream():
		assert.Equal(t, 101.0, trade.Price)
		assert.Equal(t, models.SideSell, trade.Side)
	case <-time.After(2 * time.Second):
		t.Fatal("valid trade never arrived")
	}
}

// -----------------------------------------------------------------------------

func TestReconnectResendsSubscribeFrame(t *testing.T) {
	var connects int32
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		n := atomic.AddInt32(&connects, 1)
		if n == 1 {
			// Drop the first session immediately to force a reconnect.
			return
		}
		trade := `{"type":"trade","code":"KRW-BTC","trade_price":100,"trade_volume":1,"ask_bid":"BID","sequential_id":9,"timestamp":1700000000000}`
		conn.WriteMessage(websocket.TextMessage, []byte(trade))
		time.Sleep(500 * time.Millisecond)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))
	defer client.Dispose()

	select {
	case trade := <-client.Stream():
		assert.Equal(t, "KRW-BTC", trade.Symbol)
		assert.GreaterOrEqual(t, atomic.LoadInt32(&connects), int32(2))
	case <-time.After(5 * time.Second):
		t.Fatal("trade never arrived after reconnect")
	}
}

// -----------------------------------------------------------------------------

func TestDisposeStopsStreamAndReconnects(t *testing.T) {
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))

	client.Dispose()

	_, open := <-client.Stream()
	assert.False(t, open, "stream must be closed after dispose")
	assert.Equal(t, models.StatusDisconnected, client.Status())
}

// -----------------------------------------------------------------------------

func TestDisposeUnblocksSilentConnection(t *testing.T) {
	// The server accepts the subscription and then goes quiet without ever
	// closing its side. Dispose must close the transport itself rather than
	// wait for the peer.
	hold := make(chan struct{})
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		<-hold
	})
	defer ts.Close()
	defer close(hold) // release the handler before the server teardown waits on it

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))

	require.Eventually(t, func() bool {
		return client.Status() == models.StatusConnected
	}, 2*time.Second, 10*time.Millisecond, "client never reached connected")

	disposed := make(chan struct{})
	go func() {
		client.Dispose()
		close(disposed)
	}()

	select {
	case <-disposed:
	case <-time.After(2 * time.Second):
		t.Fatal("dispose blocked on a silent connection")
	}
	assert.Equal(t, models.StatusDisconnected, client.Status())
}

// -----------------------------------------------------------------------------

func TestDisposeClosesStatusChannel(t *testing.T) {
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))

	client.Dispose()

	// Drain buffered transitions; the channel must end closed so consumers
	// ranging over it terminate.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-client.StatusChanges():
			if !open {
				return
			}
		case <-timeout:
			t.Fatal("status channel never closed after dispose")
		}
	}
}

// -----------------------------------------------------------------------------

func TestFailureStreakHonorsConfiguredCooldown(t *testing.T) {
	cfg := testClientConfig("ws://127.0.0.1:1/ws")
	cfg.Backoff.CooldownSeconds = 1
	client := NewClient(cfg, logger.NewLogger("error", "test"))

	client.recordFailure()
	client.recordFailure()
	client.mu.Lock()
	streak := client.consecutiveFailures
	client.mu.Unlock()
	require.Equal(t, 2, streak)

	// Age the last failure past the configured one-second cooldown; the next
	// failure starts a fresh streak.
	client.mu.Lock()
	client.lastFailureAt = time.Now().Add(-2 * time.Second)
	client.mu.Unlock()

	client.recordFailure()
	client.mu.Lock()
	streak = client.consecutiveFailures
	client.mu.Unlock()
	assert.Equal(t, 1, streak)
}

// -----------------------------------------------------------------------------

func TestStatusTransitionsReachConnected(t *testing.T) {
	ts := feedServer(t, func(conn *websocket.Conn, subscribe []byte) {
		time.Sleep(time.Second)
	})
	defer ts.Close()

	cfg := testClientConfig(wsURL(ts))
	client := NewClient(cfg, logger.NewLogger("error", "test"))
	require.NoError(t, client.Connect(context.Background(), []string{"KRW-BTC"}))
	defer client.Dispose()

	seen := map[models.ConnectionStatus]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[models.StatusConnected] {
		select {
		case change := <-client.StatusChanges():
			seen[change.Status] = true
		case <-timeout:
			t.Fatalf("never reached connected, saw %v", seen)
		}
	}
	assert.True(t, seen[models.StatusConnecting])
}
