// Package realtime maintains the duplex event channel to the room server.
// It reconnects with bounded exponential backoff; every reconnect replays
// the join intent and is surfaced as a synthetic resync event, because the
// server is the source of truth and nothing can be assumed about events
// lost across the boundary.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kotkoti/voiceroom/internal/core"
	"github.com/kotkoti/voiceroom/internal/domain"
)

const sendBuffer = 32

type Options struct {
	URL         string
	ReadLimit   int64
	PingPeriod  time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxRetries is the attempt count after which the channel reports
	// itself down. Background retry continues at the backoff cap.
	MaxRetries int
	Limiter    *IntentLimiter

	// OnReconnect is an optional hook, fired after every successful
	// re-dial (metrics).
	OnReconnect func()
}

// Channel implements core.EventChannel over a gorilla websocket.
type Channel struct {
	opts Options

	roomID domain.RoomID
	userID domain.UserID
	token  string

	send   chan []byte
	events chan core.ServerEvent
	// done unblocks any delivery stuck on a full events buffer during
	// teardown. Only the pump side ever closes events itself.
	done chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	connStop  context.CancelFunc
	reconnect bool
	closed    bool

	cancel    context.CancelFunc
	closeOnce sync.Once
	doneOnce  sync.Once
}

func NewChannel(opts Options) *Channel {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	return &Channel{
		opts:      opts,
		send:      make(chan []byte, sendBuffer),
		events:    make(chan core.ServerEvent, 64),
		done:      make(chan struct{}),
		reconnect: true,
	}
}

func (c *Channel) Connect(ctx context.Context, roomID domain.RoomID, userID domain.UserID, token string) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return core.ErrClosed
	}
	c.roomID, c.userID, c.token = roomID, userID, token
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		cancel()
		return err
	}
	return c.sendJoin()
}

func (c *Channel) Events() <-chan core.ServerEvent { return c.events }

// Send queues one intent. It never retries silently: a full buffer returns
// ErrBackpressure and an over-limit intent returns ErrRateLimited, and the
// caller decides what to do.
func (c *Channel) Send(intent core.ClientIntent) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrClosed
	}
	if c.opts.Limiter != nil && !c.opts.Limiter.Allow(intent.Type) {
		return core.ErrRateLimited
	}

	b, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// DisableReconnect makes the next disconnect final. A kicked user must not
// silently rejoin through auto-reconnect.
func (c *Channel) DisableReconnect() {
	c.mu.Lock()
	c.reconnect = false
	c.mu.Unlock()
}

// Close tears the channel down. The events channel is closed by the read
// pump's exit path, never here: a delivery blocked on a full buffer is
// released through done instead, so Close can race a burst of inbound
// events safely.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.reconnect = false
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
		return
	}
	// Never dialed, so no pump will ever close events.
	c.closeEvents()
}

func (c *Channel) closeEvents() {
	c.closeOnce.Do(func() { close(c.events) })
}

func (c *Channel) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return err
	}
	if c.opts.ReadLimit > 0 {
		conn.SetReadLimit(c.opts.ReadLimit)
	}

	connCtx, connStop := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.connStop = connStop
	c.mu.Unlock()

	go c.writePump(connCtx, conn)
	go c.readPump(ctx, connCtx, conn)
	return nil
}

func (c *Channel) sendJoin() error {
	return c.Send(core.ClientIntent{Type: core.IntentJoin, RoomID: c.roomID, UserID: c.userID})
}

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	var ping *time.Ticker
	if c.opts.PingPeriod > 0 {
		ping = time.NewTicker(c.opts.PingPeriod)
		defer ping.Stop()
	} else {
		ping = time.NewTicker(time.Hour)
		defer ping.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "realtime").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "realtime").Msg("writePump ping")
				return
			}
		case data := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump set deadline")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Channel) readPump(ctx, connCtx context.Context, conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		stop := c.connStop
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		_ = conn.Close()
	}()

	for {
		select {
		case <-connCtx.Done():
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Warn().Err(err).Str("module", "realtime").Msg("readPump read error")
				c.onDisconnect(ctx)
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Channel) dispatch(data []byte) {
	var env struct {
		Type core.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "realtime").Msg("bad json")
		return
	}
	if env.Type == "" {
		log.Warn().Str("module", "realtime").Msg("envelope without type")
		return
	}
	// Blocking send keeps receipt order; the buffer absorbs bursts.
	c.deliver(core.ServerEvent{Type: env.Type, Payload: data})
}

func (c *Channel) emit(t core.EventType) {
	c.deliver(core.ServerEvent{Type: t})
}

func (c *Channel) deliver(ev core.ServerEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Channel) onDisconnect(ctx context.Context) {
	c.mu.Lock()
	retry := c.reconnect && !c.closed
	c.mu.Unlock()

	if !retry || ctx.Err() != nil {
		c.closeEvents()
		return
	}
	go c.reconnectLoop(ctx)
}

func (c *Channel) reconnectLoop(ctx context.Context) {
	reportedDown := false
	for attempt := 0; ; attempt++ {
		delay := Backoff(c.opts.BackoffBase, c.opts.BackoffCap, attempt)
		select {
		case <-ctx.Done():
			c.closeEvents()
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		retry := c.reconnect && !c.closed
		c.mu.Unlock()
		if !retry {
			c.closeEvents()
			return
		}

		if err := c.dial(ctx); err != nil {
			log.Warn().Err(err).Str("module", "realtime").Int("attempt", attempt+1).Msg("reconnect failed")
			if !reportedDown && c.opts.MaxRetries > 0 && attempt+1 >= c.opts.MaxRetries {
				// Degraded, not dead: the caller is told, retry continues.
				reportedDown = true
				c.emit(core.EventDown)
			}
			continue
		}

		log.Info().Str("module", "realtime").Int("attempt", attempt+1).Msg("reconnected")
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
		if err := c.sendJoin(); err != nil {
			log.Warn().Err(err).Str("module", "realtime").Msg("join replay after reconnect")
		}
		c.emit(core.EventResync)
		return
	}
}

// Backoff computes the bounded exponential reconnect delay for an attempt.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
