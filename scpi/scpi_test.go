package scpi

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve answers queries from responses and records every received line.
func serve(t *testing.T, responses map[string]string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	lines := make(chan string, 100)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			lines <- line
			if resp, ok := responses[line]; ok {
				conn.Write([]byte(resp + "\r\n"))
			}
		}
	}()
	return ln.Addr().String(), lines
}

func TestWriteAndQuery(t *testing.T) {
	addr, lines := serve(t, map[string]string{
		"CURR?":           "-3.0004",
		":OUTPut1:STATe?": "ON",
	})
	ctx := context.Background()
	c, err := Dial(ctx, addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Write(ctx, "OUTP ON"))
	assert.Equal(t, "OUTP ON", <-lines)

	v, err := QueryFloat(ctx, c, "CURR?")
	require.NoError(t, err)
	assert.Equal(t, -3.0004, v)
	assert.Equal(t, "CURR?", <-lines)

	on, err := QueryBool(ctx, c, ":OUTPut1:STATe?")
	require.NoError(t, err)
	assert.True(t, on)
}

func TestQueryTimeout(t *testing.T) {
	addr, _ := serve(t, nil)
	c, err := Dial(context.Background(), addr, 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Query(context.Background(), "*IDN?")
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestCancelledContext(t *testing.T) {
	addr, _ := serve(t, nil)
	c, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Write(ctx, "OUTP OFF"), context.Canceled)
}

type fakeTransport struct{ resp string }

func (f fakeTransport) Write(ctx context.Context, cmd string) error { return nil }
func (f fakeTransport) Query(ctx context.Context, cmd string) (string, error) {
	return f.resp, nil
}

func TestQueryParsing(t *testing.T) {
	ctx := context.Background()
	_, err := QueryFloat(ctx, fakeTransport{resp: "abc"}, "X?")
	assert.Error(t, err)
	for _, resp := range []string{"9.91E37", "-9.91E+37", "NaN", "+Inf", "-inf", "1e300"} {
		_, err = QueryFloat(ctx, fakeTransport{resp: resp}, "CURR?")
		assert.ErrorIs(t, err, ErrNotANumber, resp)
	}
	v, err := QueryFloat(ctx, fakeTransport{resp: "-3.0004E+00\n"}, "CURR?")
	require.NoError(t, err)
	assert.Equal(t, -3.0004, v)
	_, err = QueryBool(ctx, fakeTransport{resp: "maybe"}, "X?")
	assert.Error(t, err)
	off, err := QueryBool(ctx, fakeTransport{resp: " 0 "}, "X?")
	require.NoError(t, err)
	assert.False(t, off)
	assert.Equal(t, "6000000000", FormatFloat(6e9))
	assert.True(t, strings.HasPrefix(FormatFloat(-0.01), "-0.01"))
}
