// Package websocket wraps gorilla/websocket in a client that reconnects on
// its own. The exchange streams lose their subscriptions when the socket
// drops, so the client re-runs the OnConnected callback after every dial.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flashgate/internal/core"
	"flashgate/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler receives every raw frame read off the socket.
type MessageHandler func(message []byte)

// Client keeps one WebSocket connection alive, redialing after errors.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	onConnected func()

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger core.ILogger

	tracer      trace.Tracer
	frames      metric.Int64Counter
	dials       metric.Int64Counter
	handlerTime metric.Float64Histogram
}

func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("ws-client")
	frames, _ := meter.Int64Counter("ws_frames_total",
		metric.WithDescription("Frames read from exchange streams"))
	dials, _ := meter.Int64Counter("ws_dials_total",
		metric.WithDescription("Stream connection attempts"))
	handlerTime, _ := meter.Float64Histogram("ws_handler_seconds",
		metric.WithDescription("Time spent in the frame handler"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		tracer:        telemetry.GetTracer("ws-client"),
		frames:        frames,
		dials:         dials,
		handlerTime:   handlerTime,
	}
}

// SetPingConfig overrides the heartbeat cadence. Call before Start.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected registers a callback run after every successful dial,
// including redials. Subscriptions and login go here.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message to the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start launches the connect/read loop in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop tears the connection down and waits for the loops to exit.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("Stream goroutines did not exit within timeout", "url", c.url)
		}
	}

	c.closeConn()
}

func (c *Client) run() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		if err := c.dial(); err != nil {
			if c.logger != nil {
				c.logger.Error("Stream dial failed", "url", c.url, "error", err)
			}
			if !c.pause() {
				return
			}
			continue
		}
		c.session()
		if !c.pause() {
			return
		}
	}
}

// session runs one connected lifetime: callback, heartbeat, read loop.
func (c *Client) session() {
	c.mu.Lock()
	onConnected := c.onConnected
	pingInterval := c.pingInterval
	c.mu.Unlock()

	if onConnected != nil {
		onConnected()
	}

	hbCtx, hbCancel := context.WithCancel(c.ctx)
	defer hbCancel()
	if pingInterval > 0 {
		c.wg.Add(1)
		go c.heartbeat(hbCtx)
	}

	c.readLoop()
}

func (c *Client) pause() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(c.reconnectWait):
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				// A failed ping means the peer is gone; drop the
				// connection so the read loop unblocks and redials.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) dial() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Dial",
		trace.WithAttributes(attribute.String("ws.url", c.url)))
	defer span.End()

	c.dials.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for c.ctx.Err() == nil {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		c.frames.Add(c.ctx, 1)
		start := time.Now()
		if c.handler != nil {
			c.handler(message)
		}
		c.handlerTime.Record(c.ctx, time.Since(start).Seconds())
	}
}
