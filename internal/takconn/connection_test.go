package takconn

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/models"
)

func TestBackoffDuration_WithinCap(t *testing.T) {
	base := 1 * time.Second
	capDuration := 60 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDuration(base, capDuration, attempt)
		assert.LessOrEqual(t, d, capDuration)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestConnection_ConnectAndSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 1024)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	server := &models.TAKServer{Host: host, Port: port, Protocol: models.ProtocolTCP}
	c := New(Options{Server: server})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return c.Health().State == Connected
	}, 2*time.Second, 10*time.Millisecond)

	err = c.Send(ctx, []byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	c.Close(time.Second)
}

func TestConnection_SendFailureTriggersRedial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	server := &models.TAKServer{Host: host, Port: port, Protocol: models.ProtocolTCP}
	c := New(Options{Server: server, Heartbeat: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go c.Run(ctx)

	var first net.Conn
	select {
	case first = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not see first connection")
	}
	require.Eventually(t, func() bool {
		return c.Health().State == Connected
	}, 2*time.Second, 10*time.Millisecond)

	// Break the server side so the next Send observes a write error without
	// waiting for a heartbeat.
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		return c.Send(ctx, []byte("x")) != nil
	}, 2*time.Second, 10*time.Millisecond, "expected a write to eventually fail on the broken socket")

	select {
	case <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("connection did not redial after a write failure")
	}

	c.Close(time.Second)
}
