package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"batchgate/internal/jsonrpc"
)

// ErrClosed is returned for calls on a closed client or calls pending when
// the connection is lost
var ErrClosed = errors.New("connection closed")

const handshakeTimeout = 10 * time.Second

// Client owns a single WebSocket connection to the service
type Client struct {
	url    string
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	pending   map[string]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the WebSocket endpoint at url
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c := &Client{
		url:     url,
		conn:    conn,
		logger:  logger.With().Str("component", "client").Str("url", url).Logger(),
		pending: make(map[string]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Debug().Msg("WebSocket connected")
	return c, nil
}

// Call sends method with params and waits for its response.
// JSON-RPC errors are returned inside the response, not as err.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*jsonrpc.Response, error) {
	id := jsonrpc.NewIDInt(c.reqID.Add(1))
	req, err := jsonrpc.NewRequest(method, params, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respChan := make(chan *jsonrpc.Response, 1)
	key := id.Key()

	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.pending[key] = respChan
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	writeErr := c.conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.forget(key)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(key)
		return nil, ctx.Err()
	}
}

// forget removes a pending call
func (c *Client) forget(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

// readLoop dispatches responses to pending calls until the connection fails
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.failPending()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("WebSocket connection lost")
			}
			return
		}
		c.dispatchMessage(data)
	}
}

// dispatchMessage routes a single response or a batch of responses
func (c *Client) dispatchMessage(data []byte) {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) > 0 && data[0] == '[' {
		var responses []*jsonrpc.Response
		if err := json.Unmarshal(data, &responses); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse batch response")
			return
		}
		for _, resp := range responses {
			c.deliver(resp)
		}
		return
	}

	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse response")
		return
	}
	c.deliver(resp)
}

// deliver hands resp to the call waiting for its ID
func (c *Client) deliver(resp *jsonrpc.Response) {
	key := resp.ID.Key()

	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug().Str("id", key).Msg("response for unknown request")
		return
	}
	ch <- resp
}

// failPending releases every pending call with ErrClosed
func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
}

// Close closes the connection and waits for the reader to stop
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.wg.Wait()
		c.logger.Debug().Msg("WebSocket disconnected")
	})
	return err
}
