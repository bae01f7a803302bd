// Package client is the point-to-point socket client for the relay daemon:
// one dial (with a single start-and-retry on absence), one blocking write,
// one blocking read.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/mkalinski/ccrelay/internal/protocol"
)

var (
	// ErrConnect means the daemon stayed unreachable even after a startup
	// attempt. There is no further retry.
	ErrConnect = errors.New("could not connect to daemon after starting it")

	// ErrTruncated means the reply filled the whole receive buffer.
	// Replies at or above protocol.MaxMessageSize cannot be represented;
	// this is a documented limit, not silent truncation.
	ErrTruncated = errors.New("daemon reply exceeds the receive buffer")
)

// Starter runs the daemon startup race. Satisfied by *launcher.Launcher.
type Starter interface {
	EnsureStarted() error
}

// Client dials the daemon's unix socket.
type Client struct {
	socketPath string
	starter    Starter
	logger     *slog.Logger
}

func New(socketPath string, starter Starter, logger *slog.Logger) *Client {
	return &Client{socketPath: socketPath, starter: starter, logger: logger}
}

// Connect returns a connection to the daemon. If the first dial fails the
// daemon is assumed absent: the startup race runs once, then exactly one
// retry. The caller owns the returned connection.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err == nil {
		return conn, nil
	}

	c.logger.Info("daemon unreachable, entering startup race", "socket", c.socketPath, "error", err)
	if err := c.starter.EnsureStarted(); err != nil {
		return nil, err
	}

	conn, err = net.Dial("unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return conn, nil
}

// Send writes the encoded request in a single blocking write.
func Send(conn net.Conn, request []byte) error {
	n, err := conn.Write(request)
	if err != nil {
		return fmt.Errorf("write request to daemon: %w", err)
	}
	if n != len(request) {
		return fmt.Errorf("short write to daemon: %d of %d bytes", n, len(request))
	}
	return nil
}

// Receive performs the single blocking read of the reply. The daemon writes
// the whole reply in one piece and only after the requested work is done, so
// one read suffices in the supported size range.
func Receive(conn net.Conn) ([]byte, error) {
	buf := make([]byte, protocol.MaxMessageSize)
	n, err := conn.Read(buf)
	if n <= 0 {
		if err != nil {
			return nil, fmt.Errorf("read reply from daemon: %w", err)
		}
		return nil, errors.New("empty read from daemon")
	}
	if n == len(buf) {
		return nil, ErrTruncated
	}
	return buf[:n], nil
}
