// Package ctrl implements the request/response and event-subscription channel
// to a wpa_supplicant style control socket.
//
// Two unixgram connections are opened per client: one carries commands and
// their replies, the other is attached as a monitor and yields asynchronous
// event lines. Both bind abstract local addresses so nothing is left on disk.
package ctrl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRetryCount is the number of attempts made for one request.
	DefaultRetryCount = 3
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultBufferSize is the maximum size of one datagram.
	DefaultBufferSize = 4096

	eventQueueSize = 64
	reopenDelay    = 500 * time.Millisecond
)

var (
	// ErrTimeout is returned when a request attempt receives no reply in time.
	ErrTimeout = errors.New("ctrl: request timed out")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("ctrl: connection closed")
)

// Result classifies a command reply.
type Result int

const (
	// ResultSuccess is an "OK" reply.
	ResultSuccess Result = iota
	// ResultCommandFailed is a "FAIL" reply.
	ResultCommandFailed
	// ResultCommandUnknown is an "UNKNOWN COMMAND" reply.
	ResultCommandUnknown
	// ResultError is any other reply. Value queries land here with their text intact.
	ResultError
)

// String returns the metric label for r.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "ok"
	case ResultCommandFailed:
		return "fail"
	case ResultCommandUnknown:
		return "unknown"
	default:
		return "error"
	}
}

// Reply is the text returned for a command plus its classification.
type Reply struct {
	Text   string
	Result Result
}

// Config holds control channel settings.
type Config struct {
	SocketPath string
	RetryCount int
	Timeout    time.Duration
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Client is an open control channel.
type Client struct {
	cfg Config

	reqMu sync.Mutex
	cmd   *net.UnixConn

	monMu  sync.Mutex
	mon    *net.UnixConn
	closed bool
	done   chan struct{}

	events chan string
}

// Open dials the control socket, attaches the monitor connection and starts
// reading event lines.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.SocketPath == "" {
		return nil, errors.New("ctrl: socket path is required")
	}

	cmd, err := dial(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("ctrl: dial command connection: %w", err)
	}
	mon, err := dial(cfg.SocketPath)
	if err != nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("ctrl: dial monitor connection: %w", err)
	}
	if err := attach(ctx, mon, cfg); err != nil {
		_ = cmd.Close()
		_ = mon.Close()
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		cmd:    cmd,
		mon:    mon,
		done:   make(chan struct{}),
		events: make(chan string, eventQueueSize),
	}
	go c.readEvents()
	return c, nil
}

func dial(path string) (*net.UnixConn, error) {
	local := &net.UnixAddr{Name: "@wifid-" + uuid.NewString(), Net: "unixgram"}
	remote := &net.UnixAddr{Name: path, Net: "unixgram"}
	return net.DialUnix("unixgram", local, remote)
}

// attach subscribes a connection to events. ATTACH is matched exactly by the
// supplicant so it is sent without a trailing newline.
func attach(ctx context.Context, conn *net.UnixConn, cfg Config) error {
	text, err := exchange(ctx, conn, "ATTACH", cfg)
	if err != nil {
		return fmt.Errorf("ctrl: attach: %w", err)
	}
	if Classify(text) != ResultSuccess {
		return fmt.Errorf("ctrl: attach rejected: %q", strings.TrimSpace(text))
	}
	return nil
}

// exchange writes one command and waits for its reply. Unsolicited event
// lines, which start with '<', are skipped.
func exchange(ctx context.Context, conn *net.UnixConn, command string, cfg Config) (string, error) {
	deadline := time.Now().Add(cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(command)); err != nil {
		return "", err
	}

	buf := make([]byte, cfg.BufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", ErrTimeout
			}
			return "", err
		}
		if n > 0 && buf[0] == '<' {
			continue
		}
		return string(buf[:n]), nil
	}
}

// Request sends a command and returns its reply. Transport failures and
// timeouts are retried up to RetryCount times; FAIL and UNKNOWN COMMAND replies
// are returned as they are.
func (c *Client) Request(ctx context.Context, command string) (Reply, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if c.cmd == nil {
		return Reply{}, ErrClosed
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		text, err := exchange(ctx, c.cmd, command, c.cfg)
		if err == nil {
			return Reply{Text: text, Result: Classify(text)}, nil
		}
		lastErr = err
		log.Printf("ctrl: %s attempt %d failed: %v", verb(command), attempt+1, err)
	}
	return Reply{}, fmt.Errorf("ctrl: %s: %w", verb(command), lastErr)
}

// Pending returns an already received event line without blocking.
func (c *Client) Pending() (string, bool, error) {
	select {
	case line, ok := <-c.events:
		if !ok {
			return "", false, ErrClosed
		}
		return line, true, nil
	default:
		return "", false, nil
	}
}

// Recv blocks until an event line arrives, the context ends or the client is
// closed.
func (c *Client) Recv(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.events:
		if !ok {
			return "", ErrClosed
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readEvents pumps monitor datagrams into the event queue. A read error while
// the client is open closes and reopens the monitor connection.
func (c *Client) readEvents() {
	defer close(c.events)

	buf := make([]byte, c.cfg.BufferSize)
	for {
		c.monMu.Lock()
		conn := c.mon
		c.monMu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			log.Printf("ctrl: monitor read failed, reopening: %v", err)
			if !c.reopenMonitor() {
				return
			}
			continue
		}

		select {
		case c.events <- string(buf[:n]):
		case <-c.done:
			return
		}
	}
}

func (c *Client) reopenMonitor() bool {
	for {
		c.monMu.Lock()
		if c.closed {
			c.monMu.Unlock()
			return false
		}
		if c.mon != nil {
			_ = c.mon.Close()
			c.mon = nil
		}
		c.monMu.Unlock()

		conn, err := dial(c.cfg.SocketPath)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			err = attach(ctx, conn, c.cfg)
			cancel()
			if err != nil {
				_ = conn.Close()
			}
		}
		if err == nil {
			c.monMu.Lock()
			if c.closed {
				c.monMu.Unlock()
				_ = conn.Close()
				return false
			}
			c.mon = conn
			c.monMu.Unlock()
			log.Printf("ctrl: monitor reattached to %s", c.cfg.SocketPath)
			return true
		}

		log.Printf("ctrl: reopen %s failed: %v", c.cfg.SocketPath, err)
		select {
		case <-c.done:
			return false
		case <-time.After(reopenDelay):
		}
	}
}

func (c *Client) isClosed() bool {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	return c.closed
}

// Close shuts both connections. DETACH is only sent when graceful is true; a
// terminating supplicant cannot answer it.
func (c *Client) Close(graceful bool) error {
	c.monMu.Lock()
	if c.closed {
		c.monMu.Unlock()
		return ErrClosed
	}
	c.closed = true
	close(c.done)
	mon := c.mon
	c.mon = nil
	c.monMu.Unlock()

	if mon != nil {
		if graceful {
			_ = mon.SetWriteDeadline(time.Now().Add(time.Second))
			if _, err := mon.Write([]byte("DETACH")); err != nil {
				log.Printf("ctrl: detach failed: %v", err)
			}
		}
		_ = mon.Close()
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if c.cmd != nil {
		err := c.cmd.Close()
		c.cmd = nil
		return err
	}
	return nil
}

// Classify maps reply text onto a Result by prefix.
func Classify(text string) Result {
	switch {
	case strings.HasPrefix(text, "OK"):
		return ResultSuccess
	case strings.HasPrefix(text, "FAIL"):
		return ResultCommandFailed
	case strings.HasPrefix(text, "UNKNOWN COMMAND"):
		return ResultCommandUnknown
	default:
		return ResultError
	}
}

// StripPriority removes the "<N>" framing prefix from an event line. Lines
// without a '>' are not events.
func StripPriority(line string) (string, bool) {
	i := strings.IndexByte(line, '>')
	if i < 0 {
		return "", false
	}
	return line[i+1:], true
}

func verb(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}
