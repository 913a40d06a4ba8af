// Package scpi talks line-terminated SCPI to instruments behind a TCP socket
// (LAN instruments or a GPIB/USB-to-Ethernet gateway).
package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	// DefaultTimeout bounds a single command or query.
	DefaultTimeout = 5 * time.Second
	terminator     = "\n"

	// notANumber is the SCPI "not a number" response (9.91E37); anything at or
	// above this magnitude is not a measurement.
	notANumber = 9.9e37
)

// ErrNotANumber is returned when an instrument answers a numeric query with
// NaN, an infinity or the SCPI not-a-number value.
var ErrNotANumber = errors.New("not a number")

// Transport sends commands and queries to one instrument.
type Transport interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
}

// Conn is a Transport over a TCP connection. It serializes access.
type Conn struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a SCPI instrument at addr (host:port).
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %s: %w", addr, err)
	}
	return &Conn{
		addr:    addr,
		timeout: timeout,
		conn:    conn,
		r:       bufio.NewReader(conn),
	}, nil
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

func (c *Conn) write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	glog.V(2).Infof("%s <- %s\n", c.addr, cmd)
	if _, err := c.conn.Write([]byte(cmd + terminator)); err != nil {
		return fmt.Errorf("%s: write %q: %w", c.addr, cmd, err)
	}
	return nil
}

// Write sends a command that has no response.
func (c *Conn) Write(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(ctx, cmd)
}

// Query sends a command and returns the response line without terminator.
func (c *Conn) Query(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.write(ctx, cmd); err != nil {
		return "", err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%s: read response to %q: %w", c.addr, cmd, err)
	}
	line = strings.TrimRight(line, "\r\n")
	glog.V(2).Infof("%s -> %s\n", c.addr, line)
	return line, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// QueryFloat runs a query and parses the response as a float.
func QueryFloat(ctx context.Context, t Transport, cmd string) (float64, error) {
	resp, err := t.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("response to %q: %w", cmd, err)
	}
	if math.IsNaN(v) || math.Abs(v) >= notANumber {
		return 0, fmt.Errorf("response to %q: %q: %w", cmd, strings.TrimSpace(resp), ErrNotANumber)
	}
	return v, nil
}

// QueryBool runs a query and parses 1/0/ON/OFF.
func QueryBool(ctx context.Context, t Transport, cmd string) (bool, error) {
	resp, err := t.Query(ctx, cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "1", "ON":
		return true, nil
	case "0", "OFF":
		return false, nil
	}
	return false, fmt.Errorf("response to %q: %q is not a boolean", cmd, resp)
}

// FormatFloat renders a value the way instruments accept it.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
