package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

// pipeSocket returns a client-side socket and the messages arriving at the
// other end of an in-memory connection.
func pipeSocket(t *testing.T) (*wire.Socket, *wire.Socket, *feed.Queue[wire.Message]) {
	t.Helper()
	a, b := net.Pipe()
	local := wire.NewSocket(a, wire.SocketOptions{Logger: zap.NewNop()})
	remote := wire.NewSocket(b, wire.SocketOptions{Logger: zap.NewNop()})
	received := feed.NewQueue(remote.Messages(), 16)
	go remote.Serve()
	t.Cleanup(func() {
		received.Close()
		local.Close()
		remote.Close()
	})
	return local, remote, received
}

// detachedBaseClient is driven by hand-delivered events instead of a dialing
// connector.
func detachedBaseClient(t *testing.T, retry backoff.Algorithm) *BaseClient {
	t.Helper()
	connector := NewConnector(ConnectOptions{Host: "127.0.0.1", Port: 1}, nil, wire.SocketOptions{}, nil)
	return NewBaseClient(connector, BaseClientOptions{
		Logger:    zaptest.NewLogger(t),
		SendRetry: retry,
	})
}

func TestSendRetriesUntilWritten(t *testing.T) {
	base := detachedBaseClient(t, backoff.Constant(5))

	dead, _, _ := pipeSocket(t)
	dead.Close()
	base.onEvent(Event{Type: EventConnect, Socket: dead})

	done := make(chan error, 1)
	go func() { done <- base.Send(context.Background(), wire.NewData("retry", 1)) }()

	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Send returned early: %v", err)
	default:
	}

	base.onEvent(Event{Type: EventClose})
	require.Eventually(t, func() bool { return base.Pending() == 1 }, waitFor, time.Millisecond)

	live, _, received := pipeSocket(t)
	base.onEvent(Event{Type: EventConnect, Socket: live})

	m := next(t, received)
	assert.Equal(t, "retry", m.ChannelName())
	assert.Equal(t, float64(1), m.Payload)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Send did not return")
	}
	assert.Equal(t, 0, base.Pending())
}

func TestSendContextBoundsOnlyTheWait(t *testing.T) {
	base := detachedBaseClient(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, base.Send(ctx, wire.NewData("later", "x")), context.DeadlineExceeded)
	assert.Equal(t, 1, base.Pending())

	live, _, received := pipeSocket(t)
	base.onEvent(Event{Type: EventConnect, Socket: live})
	assert.Equal(t, "x", next(t, received).Payload)
}

func TestMessagesOnlyCarriesData(t *testing.T) {
	base := detachedBaseClient(t, nil)

	data := feed.NewQueue(base.Messages(), 8)
	all := feed.NewQueue(base.AllMessages(), 8)
	defer data.Close()
	defer all.Close()

	live, remote, _ := pipeSocket(t)
	base.onEvent(Event{Type: EventConnect, Socket: live})
	go live.Serve()

	ctx := context.Background()
	require.NoError(t, remote.Send(ctx, wire.Message{Kind: wire.KindResponse, CorrelationID: wire.ID(5)}))
	require.NoError(t, remote.Send(ctx, wire.NewData("d", "payload")))

	assert.Equal(t, wire.KindResponse, next(t, all).Kind)
	assert.Equal(t, wire.KindData, next(t, all).Kind)

	m := next(t, data)
	assert.Equal(t, "payload", m.Payload)
	none(t, data, 20*time.Millisecond)
}

func TestCorrelationIDsIncrease(t *testing.T) {
	base := detachedBaseClient(t, nil)

	live, remote, received := pipeSocket(t)
	base.onEvent(Event{Type: EventConnect, Socket: live})
	go live.Serve()

	results := make(chan int64, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := base.Request(context.Background(), wire.Message{Channel: wire.Str("c")})
			if assert.NoError(t, err) {
				id, _ := resp.ID()
				results <- id
			}
		}()
		req := next(t, received)
		assert.Equal(t, wire.KindRequest, req.Kind)
		id, ok := req.ID()
		require.True(t, ok)
		assert.Equal(t, int64(i+1), id)
		require.NoError(t, remote.Send(context.Background(), wire.Message{Kind: wire.KindResponse, CorrelationID: req.CorrelationID}))
		assert.Equal(t, int64(i+1), <-results)
	}
}

func TestSendQueuesAfterDisconnect(t *testing.T) {
	l, conns := acceptAll(t)
	core, logs := observer.New(zap.WarnLevel)
	base := NewBaseClient(newConnector(t, l.Addr().String(), nil), BaseClientOptions{Logger: zap.New(core)})

	require.NoError(t, base.Connect(context.Background()))
	accepted(t, conns)
	require.NoError(t, base.Disconnect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, base.Send(ctx, wire.NewData("after", "x")), context.DeadlineExceeded)
	assert.Equal(t, 1, base.Pending())
	assert.Zero(t, logs.FilterMessage("Send failed, retrying").Len(), "nothing is written to the closed socket")

	require.NoError(t, base.Connect(context.Background()))
	remote := wire.NewSocket(accepted(t, conns), wire.SocketOptions{Logger: zap.NewNop()})
	received := feed.NewQueue(remote.Messages(), 8)
	go remote.Serve()
	t.Cleanup(func() {
		received.Close()
		remote.Close()
	})

	m := next(t, received)
	assert.Equal(t, "after", m.ChannelName())
	assert.Equal(t, "x", m.Payload)
	assert.Equal(t, 0, base.Pending())
}
