package downstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/revittco/mcpmux/internal/store"
)

// Status is the lifecycle state of a backend connection.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrDisabled     = errors.New("server is disabled")
	ErrNotConnected = errors.New("server is not connected")
)

// Info is a point-in-time view of a connection.
type Info struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Transport    string `json:"transport"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	AutoStart    bool   `json:"auto_start"`
	Disabled     bool   `json:"disabled"`
}

// Connection owns one configured backend and its live client, if any.
type Connection struct {
	factory Factory
	observe func(name string, s Status)

	mu       sync.Mutex
	server   store.Server
	status   Status
	errMsg   string
	client   Client
	starting chan struct{} // closed when an in-flight start finishes
}

func newConnection(srv store.Server, f Factory, observe func(string, Status)) *Connection {
	if observe == nil {
		observe = func(string, Status) {}
	}
	return &Connection{factory: f, observe: observe, server: srv}
}

// Start connects the backend. Starting a running connection is a no-op;
// concurrent starts share one attempt.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.status == StatusRunning:
		c.mu.Unlock()
		return nil
	case c.server.Disabled:
		c.mu.Unlock()
		return ErrDisabled
	case c.status == StatusStarting:
		wait := c.starting
		c.mu.Unlock()
		<-wait
		return c.startResult()
	}
	c.status = StatusStarting
	c.starting = make(chan struct{})
	srv := c.server
	c.mu.Unlock()
	c.observe(srv.Name, StatusStarting)

	cl, err := c.factory.Connect(ctx, srv)

	c.mu.Lock()
	if err != nil {
		c.status = StatusError
		c.errMsg = connectMessage(err)
	} else {
		c.status = StatusRunning
		c.errMsg = ""
		c.client = cl
	}
	status := c.status
	close(c.starting)
	c.starting = nil
	c.mu.Unlock()
	c.observe(srv.Name, status)

	if err != nil {
		return fmt.Errorf("start %s: %w", srv.Name, err)
	}
	return nil
}

func (c *Connection) startResult() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning {
		return nil
	}
	return fmt.Errorf("start %s: %s", c.server.Name, c.errMsg)
}

// connectMessage prefers captured subprocess stderr over the transport error.
func connectMessage(err error) string {
	var ce *ConnectError
	if errors.As(err, &ce) && ce.Stderr != "" {
		return ce.Stderr
	}
	return err.Error()
}

// Stop closes the live client. It never returns an error; false means
// the transport failed to close and the connection is now in error.
func (c *Connection) Stop() bool {
	c.mu.Lock()
	if wait := c.starting; wait != nil {
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
	}
	if c.client == nil {
		c.mu.Unlock()
		return true
	}
	cl := c.client
	c.client = nil
	c.status = StatusStopping
	name := c.server.Name
	c.mu.Unlock()
	c.observe(name, StatusStopping)

	err := cl.Close()

	c.mu.Lock()
	if err != nil {
		c.status = StatusError
		c.errMsg = fmt.Sprintf("close: %v", err)
	} else {
		c.status = StatusStopped
	}
	status := c.status
	c.mu.Unlock()
	c.observe(name, status)
	return err == nil
}

// Client returns the live client when the connection is running.
func (c *Connection) Client() (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning || c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// Status reports the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Server returns a copy of the connection's configuration.
func (c *Connection) Server() store.Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Info snapshots the connection for status reporting.
func (c *Connection) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:           c.server.ID,
		Name:         c.server.Name,
		Transport:    c.server.Transport,
		Status:       c.status,
		ErrorMessage: c.errMsg,
		AutoStart:    c.server.AutoStart,
		Disabled:     c.server.Disabled,
	}
}

// ID returns the stable server id.
func (c *Connection) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.ID
}

// Name returns the current display name.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.Name
}

// update replaces the configuration; the live client is kept.
func (c *Connection) update(srv store.Server) {
	c.mu.Lock()
	c.server = srv
	c.mu.Unlock()
}
