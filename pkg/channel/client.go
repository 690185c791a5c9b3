package channel

import (
	"context"
	"sync"
	"time"

	"github.com/sage3/foresight/errors"
	"github.com/sage3/foresight/logging"
	"github.com/sage3/foresight/pkg/models"
	"github.com/sirupsen/logrus"
)

const maxReconnectDelay = 30 * time.Second

// Session receives the traffic of each connection a Client makes.
type Session interface {
	// OnConnect runs after routes have been resubscribed and before any
	// frame of the new connection is delivered.
	OnConnect(ctx context.Context, conn *Conn) error
	// OnFrame is called for every frame, in arrival order, from one goroutine.
	OnFrame(frame models.Frame)
}

// Client keeps a connection to the server alive. Routes subscribed through
// the client are subscribed again on every new connection.
type Client struct {
	endpoint string
	token    string
	delay    time.Duration
	opts     []Option
	logger   *logrus.Entry

	mu          sync.Mutex
	conn        *Conn
	routes      []string
	lastSeen    time.Time
	connects    int
	lastErr     error
	connectedAt time.Time
}

// NewClient creates a client for endpoint. delay is the first pause between
// reconnect attempts; it doubles up to 30s while dialing keeps failing.
func NewClient(endpoint, token string, delay time.Duration, opts ...Option) *Client {
	if delay <= 0 {
		delay = time.Second
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		delay:    delay,
		opts:     opts,
		logger:   logging.NewLogger("channel"),
	}
}

// Subscribe marks route as active. If a connection is up the route is
// subscribed on it immediately.
func (c *Client) Subscribe(ctx context.Context, route string) error {
	c.mu.Lock()
	for _, r := range c.routes {
		if r == route {
			c.mu.Unlock()
			return nil
		}
	}
	c.routes = append(c.routes, route)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_, err := conn.Subscribe(ctx, route)
	return err
}

// Routes returns the active routes in subscription order.
func (c *Client) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.routes...)
}

// Resubscribe subscribes every active route on conn.
func (c *Client) Resubscribe(ctx context.Context, conn *Conn) error {
	for _, route := range c.Routes() {
		if _, err := conn.Subscribe(ctx, route); err != nil {
			return err
		}
		c.logger.WithField("route", route).Debug("Subscribed")
	}
	return nil
}

// Conn returns the live connection, or nil between connections.
func (c *Client) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Send writes env on the live connection.
func (c *Client) Send(env models.Envelope) error {
	conn := c.Conn()
	if conn == nil {
		return errors.Transport(c.endpoint, errNotConnected)
	}
	return conn.Send(env)
}

// Status is a snapshot of the client's connection state.
type Status struct {
	Endpoint    string    `json:"endpoint"`
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Connects    int       `json:"connects"`
	Routes      []string  `json:"routes"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status reports the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Endpoint:    c.endpoint,
		Connected:   c.conn != nil,
		ConnectedAt: c.connectedAt,
		LastSeen:    c.lastSeen,
		Connects:    c.connects,
		Routes:      append([]string(nil), c.routes...),
	}
	if c.conn != nil {
		s.LastSeen = c.conn.LastSeen()
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// LastSeen is the arrival time of the most recent frame on any connection.
func (c *Client) LastSeen() time.Time {
	return c.Status().LastSeen
}

// Run dials, resubscribes, and feeds frames to s until ctx is cancelled.
// Broken connections are redialed with backoff.
func (c *Client) Run(ctx context.Context, s Session) error {
	delay := c.delay
	for {
		conn, err := Dial(ctx, c.endpoint, c.token, c.opts...)
		if err == nil {
			err = c.serve(ctx, conn, s)
			delay = c.delay
		}

		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"endpoint": c.endpoint,
			"code":     errors.GetCode(err),
			"retry_in": delay.String(),
		}).Warnf("Reconnect required: %v", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *Conn, s Session) error {
	defer conn.Close()

	if err := c.Resubscribe(ctx, conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connects++
	c.connectedAt = time.Now()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.lastSeen = conn.LastSeen()
		c.mu.Unlock()
	}()

	c.logger.WithField("endpoint", c.endpoint).Info("Connected")

	if err := s.OnConnect(ctx, conn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-conn.Frames():
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return errors.Transport(c.endpoint, errConnClosed)
			}
			s.OnFrame(f)
		}
	}
}
