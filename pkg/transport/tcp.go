package transport

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"io"
	"k8s.io/klog/v2"
	"net"
	"sync"
	"time"
)

const (
	// CommandPort serves command/response Modbus requests.
	CommandPort = 502
	// StreamPort delivers spontaneous stream packets.
	StreamPort = 702
)

// TCPConn is a blocking byte stream to the device. Every Write and ReadFull
// runs under the configured timeout.
type TCPConn struct {
	mu          sync.Mutex
	conn        net.Conn
	timeout     time.Duration
	addr        string
	interrupted bool
}

// ErrInterrupted is returned by reads after Interrupt.
var ErrInterrupted = errors.New("read interrupted")

// Open dials address:port. A zero timeout leaves the connection without
// deadlines.
func Open(ctx context.Context, address string, port int, timeout time.Duration) (*TCPConn, error) {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		klog.V(2).InfoS("Failed to connect device", "address", addr, "err", err)
		return nil, errors.Wrapf(err, "connect %s", addr)
	}
	klog.V(4).InfoS("Connected device", "address", addr)
	return &TCPConn{conn: conn, timeout: timeout, addr: addr}, nil
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, timeout time.Duration) *TCPConn {
	return &TCPConn{conn: conn, timeout: timeout, addr: conn.RemoteAddr().String()}
}

func (c *TCPConn) Address() string {
	return c.addr
}

// SetTimeout sets the read and write timeout used by later calls.
func (c *TCPConn) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

func (c *TCPConn) deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

func (c *TCPConn) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(c.deadline()); err != nil {
		return 0, errors.Wrap(err, "set write deadline")
	}
	n, err := c.conn.Write(p)
	if err != nil {
		klog.V(2).InfoS("Failed to write", "address", c.addr, "written", n, "expected", len(p), "err", err)
		return n, errors.Wrapf(err, "write %s", c.addr)
	}
	return n, nil
}

// ReadFull reads exactly len(p) bytes.
func (c *TCPConn) ReadFull(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(c.deadline()); err != nil {
		return 0, errors.Wrap(err, "set read deadline")
	}
	if c.isInterrupted() {
		return 0, ErrInterrupted
	}
	n, err := io.ReadFull(c.conn, p)
	if err != nil {
		klog.V(4).InfoS("Failed to read", "address", c.addr, "read", n, "expected", len(p), "err", err)
		return n, errors.Wrapf(err, "read %s", c.addr)
	}
	return n, nil
}

// Interrupt makes a pending ReadFull return immediately with a timeout error.
func (c *TCPConn) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.mu.Unlock()
	_ = c.conn.SetReadDeadline(time.Unix(1, 0))
}

func (c *TCPConn) isInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

func (c *TCPConn) Close() error {
	return c.conn.Close()
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
