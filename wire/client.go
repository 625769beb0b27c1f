// Package wire is the lowest layer of the gateway: a single JSON-RPC-over-
// WebSocket connection to the Q-SYS Core (the QRWC dialect). It knows
// nothing about change groups, retries, or circuit breakers — those are
// the supervisor's and adapter's concerns. It only frames requests,
// correlates responses by id, and routes unsolicited frames to subscribers.
package wire

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qrwc/gateway/errors"
	"github.com/qrwc/gateway/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20 // 4MB; component/control dumps can be large
)

// Config is the wire client's configuration surface.
type Config struct {
	Host                    string
	Port                    int
	Username                string
	Password                string
	Secure                  bool
	RejectUnauthorized      bool
	PollingInterval         time.Duration
	ReconnectInterval       time.Duration
	MaxReconnectAttempts    int
	ConnectionTimeout       time.Duration
	EnableAutoReconnect     bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:                 host,
		Port:                 port,
		Secure:               true,
		RejectUnauthorized:   false,
		PollingInterval:      30 * time.Millisecond,
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 10,
		ConnectionTimeout:    5 * time.Second,
		EnableAutoReconnect:  true,
	}
}

// request mirrors the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// Response mirrors the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UnsolicitedFrame is a server-initiated message with no matching request id
// (change-group poll pushes, status broadcasts).
type UnsolicitedFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Event names emitted on the Events channel.
type Event struct {
	Name   string // connected, disconnected, frame:in, frame:out
	Reason string
	Code   int
	Attempt int
	Err    error
}

// Client is a single QRWC connection. It never retries on its own;
// reconnection is the supervisor's job.
type Client struct {
	cfg Config
	log *zap.SugaredLogger

	conn   *websocket.Conn
	connMu sync.RWMutex

	nextID  atomic.Int64
	pending map[int64]chan *Response
	pendMu  sync.Mutex

	Unsolicited chan UnsolicitedFrame
	Events      chan Event

	writeMu  sync.Mutex
	closed   atomic.Bool
	doneOnce sync.Once
	done     chan struct{}
}

// New creates a client bound to cfg. Dial must be called before SendFrame.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	return &Client{
		cfg:         cfg,
		log:         logger.AddWireSymbol(log),
		pending:     make(map[int64]chan *Response),
		Unsolicited: make(chan UnsolicitedFrame, 64),
		Events:      make(chan Event, 64),
		done:        make(chan struct{}),
	}
}

func (c *Client) url() string {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port), Path: "/qrc-ws"}
	return u.String()
}

// Dial opens the WebSocket connection and starts the read/ping pumps.
// It does not retry; a failed dial returns a QSYS_CONNECTION_FAILED error.
func (c *Client) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectionTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: !c.cfg.RejectUnauthorized},
	}

	conn, _, err := dialer.DialContext(ctx, c.url(), nil)
	if err != nil {
		return errors.WrapCategory(errors.CategoryConnectionFailed, err, "dial QRWC endpoint").
			WithContext("host", c.cfg.Host).WithContext("port", c.cfg.Port)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		conn.Close()
		return errors.WrapCategory(errors.CategoryConnectionFailed, err, "set initial read deadline")
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.closed.Store(false)
	c.done = make(chan struct{})
	c.doneOnce = sync.Once{}

	go c.readPump()
	go c.pingPump()

	c.emit(Event{Name: "connected"})
	c.log.Infow("dialed QRWC endpoint", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// Close shuts down the connection and fails every outstanding future with
// NetworkDropped.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.doneOnce.Do(func() { close(c.done) })

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	c.failAllPending(errors.NewCategory(errors.CategoryNetworkDropped, "connection closed"))

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SendFrame sends a JSON-RPC request and blocks until the matching response
// arrives, the per-call context deadline expires (NetworkTimeout), or the
// socket closes (NetworkDropped). It never retries.
func (c *Client) SendFrame(ctx context.Context, method string, params interface{}) (*Response, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil || c.closed.Load() {
		return nil, errors.NewCategory(errors.CategoryConnectionFailed, "wire client not connected")
	}

	id := c.nextID.Add(1)
	respCh := make(chan *Response, 1)

	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()
	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal QRWC request")
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	writeErr := conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if writeErr != nil {
		return nil, errors.WrapCategory(errors.CategoryNetworkDropped, writeErr, "write QRWC frame")
	}
	c.emit(Event{Name: "frame:out"})
	if logger.ShouldOutput(logger.Verbosity, logger.OutputWireFrames) {
		c.log.Debugw("frame:out", "method", method, "id", id)
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, errors.NewCategory(errors.CategoryNetworkTimeout, "QRWC frame timed out").
			WithContext("method", method)
	case <-c.done:
		return nil, errors.NewCategory(errors.CategoryNetworkDropped, "connection closed while awaiting response")
	}
}

func (c *Client) readPump() {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed.Store(true)
			c.doneOnce.Do(func() { close(c.done) })
			c.failAllPending(errors.WrapCategory(errors.CategoryNetworkDropped, err, "read QRWC frame"))
			c.emit(Event{Name: "disconnected", Reason: err.Error()})
			return
		}
		c.emit(Event{Name: "frame:in"})
		if logger.ShouldOutput(logger.Verbosity, logger.OutputWireFrames) {
			c.log.Debugw("frame:in", "bytes", len(data))
		}
		c.route(data)
	}
}

func (c *Client) route(data []byte) {
	var probe struct {
		ID     *int64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.log.Warnw("discarding unparseable QRWC frame", "error", err)
		return
	}

	if probe.ID == nil {
		var uf UnsolicitedFrame
		if err := json.Unmarshal(data, &uf); err == nil {
			select {
			case c.Unsolicited <- uf:
			default:
				c.log.Warnw("unsolicited frame channel full, dropping", "method", uf.Method)
			}
		}
		return
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.log.Warnw("discarding unparseable QRWC response", "error", err)
		return
	}

	c.pendMu.Lock()
	ch, ok := c.pending[resp.ID]
	c.pendMu.Unlock()
	if ok {
		select {
		case ch <- &resp:
		default:
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- &Response{ID: id, Error: &RPCError{Code: -1, Message: err.Error()}}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.Events <- e:
	default:
	}
}
