// Package channel is the client side of the SAGE3 subscription socket.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	frameBuffer    = 1024
)

// Option configures a connection.
type Option func(*Conn)

// WithMalformedHandler is called for every frame that cannot be parsed.
// The frame itself is discarded.
func WithMalformedHandler(fn func(err error)) Option {
	return func(c *Conn) { c.onMalformed = fn }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// Conn is one live connection. Its frame channel yields parsed push frames
// until the connection dies and is never reopened; reconnecting means
// dialing a new Conn.
type Conn struct {
	endpoint    string
	dialer      *websocket.Dialer
	onMalformed func(err error)
	logger      *logrus.Entry

	ws      *websocket.Conn
	writeMu sync.Mutex

	frames   chan models.Frame
	queueMu  sync.Mutex
	queue    []models.Frame
	queued   chan struct{}
	done     chan struct{}
	stop     chan struct{}
	lastSeen atomic.Int64

	mu      sync.Mutex
	waiters map[string]chan models.Frame
	routes  map[string]string
	err     error
	closed  bool
}

// Dial connects to endpoint authenticating with a bearer token.
func Dial(ctx context.Context, endpoint, token string, opts ...Option) (*Conn, error) {
	c := &Conn{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		logger:   logging.NewLogger("channel"),
		frames:   make(chan models.Frame, frameBuffer),
		queued:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		waiters:  make(map[string]chan models.Frame),
		routes:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, errors.Transport(endpoint, err)
	}
	c.ws = ws
	c.touch()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		c.touch()
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.deliverLoop()
	go c.pingLoop()
	return c, nil
}

// Frames yields push notifications and unmatched replies. It is closed
// once the connection has ended and every received frame was delivered.
// Replies to pending commands never wait behind unread frames.
func (c *Conn) Frames() <-chan models.Frame {
	return c.frames
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended: a TRANSPORT error when it broke,
// nil when it was closed locally or is still alive.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LastSeen is the arrival time of the most recent inbound frame.
func (c *Conn) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Endpoint returns the URL the connection was dialed with.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Routes lists the routes subscribed on this connection.
func (c *Conn) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.routes))
	for _, r := range c.routes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Subscribe asks the server to push changes on route and waits for the
// acknowledgement. It returns the subscription id.
func (c *Conn) Subscribe(ctx context.Context, route string) (string, error) {
	env := models.Envelope{Route: route, ID: uuid.NewString(), Method: models.MethodSub}
	if _, err := c.request(ctx, env); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.routes[env.ID] = route
	c.mu.Unlock()
	return env.ID, nil
}

// Get fetches route and returns the reply data.
func (c *Conn) Get(ctx context.Context, route string) (json.RawMessage, error) {
	return c.request(ctx, models.Envelope{Route: route, ID: uuid.NewString(), Method: models.MethodGet})
}

// Put writes body to route and waits for the reply.
func (c *Conn) Put(ctx context.Context, route string, body interface{}) (json.RawMessage, error) {
	return c.request(ctx, models.Envelope{Route: route, ID: uuid.NewString(), Method: models.MethodPut, Body: body})
}

// Send writes an envelope without waiting for its reply. A failed reply
// is logged when it arrives.
func (c *Conn) Send(env models.Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	return c.write(env)
}

// Close ends the connection. Frames is closed without delivering what is
// still queued.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	return c.ws.Close()
}

func (c *Conn) request(ctx context.Context, env models.Envelope) (json.RawMessage, error) {
	reply := make(chan models.Frame, 1)

	c.mu.Lock()
	if c.err != nil || c.closed {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = errors.Transport(c.endpoint, errConnClosed)
		}
		return nil, err
	}
	c.waiters[env.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, env.ID)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return nil, err
	}

	select {
	case f := <-reply:
		if !f.OK() {
			msg := f.Message
			if msg == "" {
				msg = "request rejected"
			}
			return nil, errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("%s %s: %s", env.Method, env.Route, msg)).
				WithDetail("route", env.Route)
		}
		return f.Data, nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Transport(c.endpoint, errConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to encode envelope")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Transport(c.endpoint, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.touch()
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.malformed(err)
			continue
		}
		if !f.IsPush() && f.ID == "" {
			c.malformed(fmt.Errorf("frame has neither event nor id"))
			continue
		}

		if !f.IsPush() {
			c.mu.Lock()
			waiter, ok := c.waiters[f.ID]
			c.mu.Unlock()
			if ok {
				select {
				case waiter <- f:
				default:
				}
				continue
			}
			if !f.OK() {
				c.logger.WithField("id", f.ID).Warnf("Server rejected command: %s", f.Message)
			}
		}

		c.enqueue(f)
	}
}

// enqueue hands f to deliverLoop without blocking the reader.
func (c *Conn) enqueue(f models.Frame) {
	c.queueMu.Lock()
	c.queue = append(c.queue, f)
	c.queueMu.Unlock()
	select {
	case c.queued <- struct{}{}:
	default:
	}
}

func (c *Conn) dequeueAll() []models.Frame {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

// deliverLoop moves queued frames onto the frame channel in arrival order.
func (c *Conn) deliverLoop() {
	defer close(c.frames)

	deliver := func(batch []models.Frame) bool {
		for _, f := range batch {
			select {
			case c.frames <- f:
			case <-c.stop:
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-c.queued:
			if !deliver(c.dequeueAll()) {
				return
			}
		case <-c.done:
			deliver(c.dequeueAll())
			return
		case <-c.stop:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.err = errors.Transport(c.endpoint, err)
	c.logger.WithField("endpoint", c.endpoint).Warnf("Connection lost: %v", err)
	_ = c.ws.Close()
}

func (c *Conn) malformed(err error) {
	merr := errors.Malformed(c.endpoint, err)
	c.logger.WithField("code", merr.Code).Warnf("Discarding frame: %v", err)
	if c.onMalformed != nil {
		c.onMalformed(merr)
	}
}

func (c *Conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

var (
	errNotConnected = fmt.Errorf("not connected")
	errConnClosed   = fmt.Errorf("connection closed")
)
