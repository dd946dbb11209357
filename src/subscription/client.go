package subscription

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"upbit-observer/src/backoff"
	"upbit-observer/src/helpers"
	"upbit-observer/src/logger"
	"upbit-observer/src/models"
)

// -----------------------------------------------------------------------------
// Subscription Client
//
// Owns one logical push-subscription channel against the exchange websocket.
// On connect it sends a single subscribe frame for the requested symbol set
// and decodes inbound frames into typed trades. Any transport close or decode
// failure sends the client through Backoff and a reconnect that re-sends the
// same subscribe frame for the last known symbol set. Reconnection is
// unbounded; callers cap it by disposing the client.
// -----------------------------------------------------------------------------

const (
	handshakeTimeout = 10 * time.Second
	pingPeriod       = 15 * time.Second
	writeWait        = 5 * time.Second
	readLimit        = 1 << 20 // 1MB
)

// -----------------------------------------------------------------------------

type Client struct {
	Config *models.MConfig
	Logger *logger.Logger

	ticket  string
	decoder *frameDecoder
	dialer  *websocket.Dialer
	rng     *rand.Rand

	out      chan models.MTrade
	statusCh chan models.MStatusChange

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu                  sync.Mutex
	status              models.ConnectionStatus
	symbols             []string
	consecutiveFailures int
	lastFailureAt       time.Time
	lastDataAt          time.Time
	started             bool
}

// -----------------------------------------------------------------------------

func NewClient(cfg *models.MConfig, log *logger.Logger) *Client {
	return &Client{
		Config:  cfg,
		Logger:  log,
		ticket:  uuid.NewString(),
		decoder: newFrameDecoder(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		out:      make(chan models.MTrade, 1000),
		statusCh: make(chan models.MStatusChange, 16),
		status:   models.StatusDisconnected,
	}
}

// -----------------------------------------------------------------------------

// Connect validates the symbol set and starts the connection loop. The symbol
// ceiling is checked before any transport I/O; exceeding it is a caller-side
// contract violation surfaced as a typed error.
func (c *Client) Connect(ctx context.Context, symbols []string) error {
	limit := c.Config.Exchange.MaxSubscriptions
	if len(symbols) > limit {
		return helpers.NewSubscriptionLimitError(len(symbols), limit)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("subscription client already connected")
	}
	c.started = true
	c.symbols = append([]string(nil), symbols...)
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.runLoop()

	c.Logger.Info("Subscription client started for %d symbols", len(symbols))
	return nil
}

// -----------------------------------------------------------------------------

// Stream returns the decoded trade stream. The channel is closed on dispose;
// it is lazy, infinite, and not restartable.
func (c *Client) Stream() <-chan models.MTrade {
	return c.out
}

// -----------------------------------------------------------------------------

// StatusChanges returns connection transition notifications. Slow consumers
// miss intermediate transitions rather than blocking the client. The channel
// is closed on dispose.
func (c *Client) StatusChanges() <-chan models.MStatusChange {
	return c.statusCh
}

// -----------------------------------------------------------------------------

// Dispose cancels any in-flight reconnect wait, closes the transport and
// stops the stream. Both channels are closed once the run loop has drained.
// Safe to call more than once.
func (c *Client) Dispose() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.transition(models.StatusDisconnected)
		close(c.out)
		close(c.statusCh)
		c.Logger.Info("Subscription client disposed")
	})
}

// -----------------------------------------------------------------------------

// runLoop drives the connect / read / backoff cycle until dispose.
func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.transition(models.StatusConnecting)
		conn, err := c.connectAndSubscribe()
		if err != nil {
			c.Logger.Warning("Connection attempt failed: %v", err)
			if !c.backoffWait() {
				return
			}
			continue
		}

		c.transition(models.StatusConnected)
		c.readFrames(conn)
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		if !c.backoffWait() {
			return
		}
	}
}

// -----------------------------------------------------------------------------

// connectAndSubscribe opens the transport and sends the subscribe frame for
// the last known symbol set.
func (c *Client) connectAndSubscribe() (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(c.ctx, c.Config.Exchange.WsURL, nil)
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	conn.SetReadLimit(readLimit)

	frame, err := c.buildSubscribeFrame()
	if err != nil {
		conn.Close()
		c.recordFailure()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		c.recordFailure()
		return nil, fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	return conn, nil
}

// -----------------------------------------------------------------------------

// buildSubscribeFrame encodes the three-element subscription message:
// ticket, channel request, format. The symbol list is truncated to the
// protocol's per-connection ceiling.
func (c *Client) buildSubscribeFrame() ([]byte, error) {
	c.mu.Lock()
	symbols := append([]string(nil), c.symbols...)
	c.mu.Unlock()

	if limit := c.Config.Exchange.MaxSubscriptions; len(symbols) > limit {
		symbols = symbols[:limit]
	}

	frame := []interface{}{
		map[string]string{"ticket": c.ticket},
		map[string]interface{}{
			"type":  c.Config.Exchange.ChannelType,
			"codes": symbols,
		},
		map[string]string{"format": "DEFAULT"},
	}
	return json.Marshal(frame)
}

// -----------------------------------------------------------------------------

// readFrames pumps inbound frames until the transport fails. Individual
// decode failures are dropped and logged; they never stop the stream.
func (c *Client) readFrames(conn *websocket.Conn) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	// Keepalive pings on the side; a write failure here surfaces as a read
	// error in the main pump. On dispose the transport is closed from here,
	// which unblocks ReadMessage on an otherwise silent connection.
	go func() {
		for {
			select {
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.PingMessage, nil)
			case <-done:
				return
			case <-c.ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.Logger.Warning("Read error, reconnecting: %v", err)
				c.recordFailure()
			}
			return
		}

		msgs, err := c.decoder.decodeFrame(data)
		if err != nil {
			c.Logger.Warning("Dropping undecodable frame: %v", err)
			continue
		}

		for _, msg := range msgs {
			trade, err := c.decoder.normalize(msg)
			if err != nil {
				c.Logger.Debug("Dropping invalid trade message: %v", err)
				continue
			}

			select {
			case c.out <- trade:
				c.recordData()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// backoffWait sleeps the computed backoff delay. Returns false when the
// client was disposed during the wait.
func (c *Client) backoffWait() bool {
	c.transition(models.StatusBackoff)

	c.mu.Lock()
	attempt := c.consecutiveFailures - 1
	if attempt < 0 {
		attempt = 0
	}
	streak := c.consecutiveFailures
	quality := c.linkQualityLocked(time.Now())
	jitter := c.rng.Float64()*2 - 1
	c.mu.Unlock()

	base := time.Duration(c.Config.Backoff.BaseDelayMs) * time.Millisecond
	ceiling := time.Duration(c.Config.Backoff.MaxDelayMs) * time.Millisecond
	delay := backoff.ComputeDelay(attempt, base, ceiling, quality, streak, jitter)

	c.Logger.Info("Reconnecting in %v (failure streak %d)", delay, streak)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// -----------------------------------------------------------------------------

// linkQualityLocked probes link quality from data recency. Caller holds c.mu.
func (c *Client) linkQualityLocked(now time.Time) models.LinkQuality {
	if c.lastDataAt.IsZero() {
		return models.LinkNone
	}
	since := now.Sub(c.lastDataAt)
	switch {
	case since < 30*time.Second:
		return models.LinkFast
	case since < 5*time.Minute:
		return models.LinkSlow
	default:
		return models.LinkNone
	}
}

// -----------------------------------------------------------------------------

// recordData resets the failure streak: successful receipt of data counts as
// a sustained recovery.
func (c *Client) recordData() {
	c.mu.Lock()
	c.lastDataAt = time.Now()
	c.consecutiveFailures = 0
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *Client) recordFailure() {
	cooldown := backoff.StreakCooldown
	if s := c.Config.Backoff.CooldownSeconds; s > 0 {
		cooldown = time.Duration(s) * time.Second
	}

	c.mu.Lock()
	now := time.Now()
	if !c.lastFailureAt.IsZero() && now.Sub(c.lastFailureAt) > cooldown {
		c.consecutiveFailures = 0
	}
	c.consecutiveFailures++
	c.lastFailureAt = now
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// transition updates the connection status and notifies observers without
// ever blocking on a slow consumer.
func (c *Client) transition(status models.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	change := models.MStatusChange{
		Status:              status,
		ConsecutiveFailures: c.consecutiveFailures,
		SubscribedSymbols:   len(c.symbols),
		At:                  time.Now(),
	}
	c.mu.Unlock()

	select {
	case c.statusCh <- change:
	default:
	}
}

// -----------------------------------------------------------------------------

// Status returns the current connection status.
func (c *Client) Status() models.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
