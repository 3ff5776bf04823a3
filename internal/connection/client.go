package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single websocket to the sync server.
type Client interface {
	// Connect dials the server and starts the read loop.
	Connect(ctx context.Context) error

	// Close closes the socket with a normal closure.
	Close() error

	// CloseWithCode closes the socket with the given close code.
	CloseWithCode(code int, reason string) error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages delivers inbound frames. It is closed when the socket ends,
	// after which Err reports why.
	Messages() <-chan Frame

	// Err returns the close reason once Messages is closed.
	Err() *CloseError

	IsConnected() bool
}

// Dialer opens a connected Client for the given wire URL.
type Dialer func(ctx context.Context, url string) (Client, error)

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	frames chan Frame
	done   chan struct{}

	writeMu sync.Mutex

	mu        sync.RWMutex
	connected bool
	closed    bool
	closeErr  *CloseError
}

// NewClient creates a websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}

	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

// Connect establishes the websocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected")
	return nil
}

// Close sends a normal closure and closes the socket.
func (c *client) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with code and closes the socket. The
// code becomes the client's close reason.
func (c *client) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	if c.closeErr == nil {
		c.closeErr = &CloseError{Code: code, Text: reason}
	}
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes a text frame.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan Frame {
	return c.frames
}

func (c *client) Err() *CloseError {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeErr
}

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop forwards frames until the socket fails or is closed locally.
func (c *client) readLoop() {
	var readErr error
	defer func() {
		c.finish(readErr)
		close(c.frames)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			readErr = err
			return
		}

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// finish records the close reason unless a local close already did.
func (c *client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.closeErr != nil {
		return
	}
	c.closeErr = closeErrorFrom(err)
	c.logger.Debug("websocket closed", "code", c.closeErr.Code, "error", err)
}

// closeErrorFrom maps a read error to a close code. Anything that is not
// a close frame from the peer counts as an abnormal closure.
func closeErrorFrom(err error) *CloseError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	if err == nil {
		return &CloseError{Code: websocket.CloseAbnormalClosure}
	}
	return &CloseError{Code: websocket.CloseAbnormalClosure, Text: err.Error()}
}

// DialClient returns a Dialer that opens gorilla websocket clients.
func DialClient(cfg ClientConfig, logger *slog.Logger) Dialer {
	return func(ctx context.Context, url string) (Client, error) {
		cc := cfg
		cc.URL = url
		c := NewClient(cc, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}
