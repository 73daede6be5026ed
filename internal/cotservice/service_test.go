package cotservice

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/queue"
)

func TestService_EnqueueDeliversFrame(t *testing.T) {
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

	svc := New(Options{LingerAfterEmpty: time.Minute})
	defer svc.Shutdown(time.Second)

	dest := Destination{
		ServerID: 1,
		Server:   &models.TAKServer{ID: 1, Host: host, Port: port, Protocol: models.ProtocolTCP},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = svc.Enqueue(ctx, dest, []*queue.Frame{{UID: "a", Bytes: []byte("hello")}})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not delivered")
	}

	require.Eventually(t, func() bool {
		m, ok := svc.QueueMetrics(1)
		return ok && m.Sent == 1
	}, time.Second, 10*time.Millisecond)
}
