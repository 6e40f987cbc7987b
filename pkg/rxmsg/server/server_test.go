package server

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/tsarna/rxmsg/pkg/rxmsg/feed"
	"github.com/tsarna/rxmsg/pkg/rxmsg/internal/testcert"
	"github.com/tsarna/rxmsg/pkg/rxmsg/transform"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

const waitFor = 2 * time.Second

func startServer(t *testing.T, b *ServerBuilder) *Server {
	t.Helper()
	if b == nil {
		b = NewServerBuilder()
	}
	srv, err := b.WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)
	require.NoError(t, srv.ListenAddr("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		srv.Close(ctx)
	})
	return srv
}

// peer is a raw protocol client used to drive the server directly.
type peer struct {
	sock  *wire.Socket
	inbox *feed.Queue[wire.Message]
}

func dialPeer(t *testing.T, srv *Server) *peer {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	return newPeer(t, conn)
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	t.Helper()
	sock := wire.NewSocket(conn, wire.SocketOptions{Logger: zap.NewNop()})
	p := &peer{sock: sock, inbox: feed.NewQueue(sock.Messages(), 64)}
	go sock.Serve()
	t.Cleanup(func() {
		p.inbox.Close()
		sock.Close()
	})
	return p
}

func (p *peer) send(t *testing.T, m wire.Message) {
	t.Helper()
	require.NoError(t, p.sock.Send(context.Background(), m))
}

func (p *peer) next(t *testing.T) wire.Message {
	t.Helper()
	select {
	case m := <-p.inbox.C():
		return m
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return wire.Message{}
	}
}

func (p *peer) nothing(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case m := <-p.inbox.C():
		t.Fatalf("unexpected message: %+v", m)
	case <-time.After(within):
	}
}

func (p *peer) subscribe(t *testing.T, channel string, id int64) {
	t.Helper()
	p.send(t, wire.Message{Kind: wire.KindSubscribe, Channel: wire.Str(channel), CorrelationID: wire.ID(id)})
	ack := p.next(t)
	require.Equal(t, wire.KindResponse, ack.Kind)
	got, _ := ack.ID()
	require.Equal(t, id, got)
}

func receive[T any](t *testing.T, q *feed.Queue[T]) T {
	t.Helper()
	select {
	case v := <-q.C():
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for feed value")
		var zero T
		return zero
	}
}

func TestFeedsArePartitionedByKind(t *testing.T) {
	srv := startServer(t, nil)

	data := feed.NewQueue(srv.Data(), 8)
	requests := feed.NewQueue(srv.Requests(), 8)
	subscribes := feed.NewQueue(srv.Subscribes(), 8)
	unsubscribes := feed.NewQueue(srv.Unsubscribes(), 8)
	defer data.Close()
	defer requests.Close()
	defer subscribes.Close()
	defer unsubscribes.Close()

	p := dialPeer(t, srv)
	p.send(t, wire.NewData("a", 1))
	p.send(t, wire.Message{Kind: wire.KindRequest, Channel: wire.Str("a"), CorrelationID: wire.ID(1)})
	p.send(t, wire.Message{Kind: wire.KindSubscribe, Channel: wire.Str("a"), CorrelationID: wire.ID(2)})
	p.send(t, wire.Message{Kind: wire.KindUnsubscribe, Channel: wire.Str("a"), CorrelationID: wire.ID(3)})

	assert.Equal(t, wire.KindData, receive(t, data).Message.Kind)
	assert.Equal(t, wire.KindRequest, receive(t, requests).Message.Kind)
	assert.Equal(t, wire.KindSubscribe, receive(t, subscribes).Message.Kind)
	assert.Equal(t, wire.KindUnsubscribe, receive(t, unsubscribes).Message.Kind)

	// nothing leaks into another partition
	assert.Empty(t, data.C())
	assert.Empty(t, requests.C())
}

func TestRespondEchoesIDAndChannel(t *testing.T) {
	srv := startServer(t, nil)

	srv.Channel("calc").Requests().Subscribe(func(r *IncomingRequest) {
		if r.Message.Payload == "fail" {
			r.RespondError(context.Background(), wire.ErrorData{Code: "EBAD", Detail: "refused"})
			return
		}
		r.Respond(context.Background(), map[string]any{"echo": r.Message.Payload})
	})

	p := dialPeer(t, srv)
	p.send(t, wire.Message{Kind: wire.KindRequest, Channel: wire.Str("calc"), Payload: "hi", CorrelationID: wire.ID(41)})

	resp := p.next(t)
	assert.Equal(t, wire.KindResponse, resp.Kind)
	assert.Equal(t, "calc", resp.ChannelName())
	assert.Equal(t, map[string]any{"echo": "hi"}, resp.Payload)
	id, _ := resp.ID()
	assert.Equal(t, int64(41), id)
	assert.Nil(t, resp.Error)

	p.send(t, wire.Message{Kind: wire.KindRequest, Channel: wire.Str("calc"), Payload: "fail", CorrelationID: wire.ID(42)})
	resp = p.next(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, wire.ErrorData{Code: "EBAD", Detail: "refused"}, *resp.Error)
	assert.Nil(t, resp.Payload)
}

func TestChannelViewsAreCachedAndFiltered(t *testing.T) {
	srv := startServer(t, nil)

	foo := srv.Channel("foo")
	assert.Same(t, foo, srv.Channel("foo"))
	assert.NotSame(t, foo, srv.Channel("bar"))
	assert.Same(t, srv.Channel(""), srv.Channel(""))

	fooData := feed.NewQueue(foo.Data(), 8)
	emptyData := feed.NewQueue(srv.Channel("").Data(), 8)
	defer fooData.Close()
	defer emptyData.Close()

	p := dialPeer(t, srv)
	p.send(t, wire.Message{Kind: wire.KindData, Payload: "no channel"})
	p.send(t, wire.NewData("", "empty channel"))
	p.send(t, wire.NewData("bar", "other"))
	p.send(t, wire.NewData("foo", "mine"))

	in := receive(t, fooData)
	assert.Equal(t, "mine", in.Message.Payload)
	assert.NotNil(t, in.Socket)
	assert.Empty(t, emptyData.C())
}

func TestSubscribeUnsubscribeAndPublish(t *testing.T) {
	srv := startServer(t, nil)
	ctx := context.Background()

	a := dialPeer(t, srv)
	b := dialPeer(t, srv)

	a.subscribe(t, "news", 1)
	b.subscribe(t, "news", 1)
	b.subscribe(t, "news", 2) // duplicate subscription is idempotent
	assert.Equal(t, 2, srv.Subscribers("news"))

	require.NoError(t, srv.Publish(ctx, "news", "hello"))
	for _, p := range []*peer{a, b} {
		m := p.next(t)
		assert.Equal(t, wire.KindData, m.Kind)
		assert.Equal(t, "news", m.ChannelName())
		assert.Equal(t, "hello", m.Payload)
	}
	b.nothing(t, 50*time.Millisecond)

	b.send(t, wire.Message{Kind: wire.KindUnsubscribe, Channel: wire.Str("news"), CorrelationID: wire.ID(3)})
	ack := b.next(t)
	assert.Equal(t, wire.KindResponse, ack.Kind)
	assert.Equal(t, 1, srv.Subscribers("news"))

	require.NoError(t, srv.Publish(ctx, "news", "again"))
	assert.Equal(t, "again", a.next(t).Payload)
	b.nothing(t, 50*time.Millisecond)
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	srv := startServer(t, nil)
	p := dialPeer(t, srv)

	assert.NoError(t, srv.Publish(context.Background(), "nobody", "x"))
	p.nothing(t, 50*time.Millisecond)
}

func TestSubscribeWithoutChannelIsIgnored(t *testing.T) {
	srv := startServer(t, nil)
	p := dialPeer(t, srv)

	p.send(t, wire.Message{Kind: wire.KindSubscribe, CorrelationID: wire.ID(1)})
	p.nothing(t, 50*time.Millisecond)
	assert.Equal(t, 0, srv.Subscribers(""))
}

func TestRegistryDropsClosedConnections(t *testing.T) {
	srv := startServer(t, nil)

	disconnects := feed.NewQueue(srv.Disconnects(), 4)
	defer disconnects.Close()

	p := dialPeer(t, srv)
	p.subscribe(t, "a", 1)
	p.subscribe(t, "b", 2)
	require.Equal(t, 1, srv.Subscribers("a"))
	require.Equal(t, 1, srv.ConnectionCount())

	p.sock.Close()
	receive(t, disconnects)

	assert.Equal(t, 0, srv.Subscribers("a"))
	assert.Equal(t, 0, srv.Subscribers("b"))
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, waitFor, 5*time.Millisecond)
	assert.NoError(t, srv.Publish(context.Background(), "a", "gone"))
}

func TestPublishTransforms(t *testing.T) {
	wrap, err := transform.JqTransform(`{channel: $channel, body: .}`, nil)
	require.NoError(t, err)

	srv := startServer(t, NewServerBuilder().WithPublishTransforms(
		transform.DropChannelPattern("secret/#"),
		wrap,
	))
	ctx := context.Background()

	p := dialPeer(t, srv)
	p.subscribe(t, "secret/keys", 1)
	p.subscribe(t, "open", 2)

	require.NoError(t, srv.Publish(ctx, "secret/keys", "hunter2"))
	require.NoError(t, srv.Publish(ctx, "open", "hi"))

	m := p.next(t)
	assert.Equal(t, "open", m.ChannelName())
	assert.Equal(t, map[string]any{"channel": "open", "body": "hi"}, m.Payload)
	p.nothing(t, 50*time.Millisecond)
}

func TestCloseClosesConnections(t *testing.T) {
	srv, err := NewServerBuilder().WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)
	require.NoError(t, srv.ListenAddr("127.0.0.1:0"))
	addr := srv.Addr().String()

	p := dialPeer(t, srv)
	p.subscribe(t, "x", 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, srv.Close(ctx))
	assert.Equal(t, 0, srv.ConnectionCount())

	select {
	case <-p.sock.Done():
	case <-time.After(waitFor):
		t.Fatal("client side was not closed")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")

	assert.ErrorIs(t, srv.ListenAddr("127.0.0.1:0"), ErrServerClosed)
	assert.NoError(t, srv.Close(ctx), "close is idempotent")
}

func TestServeExistingListener(t *testing.T) {
	srv, err := NewServerBuilder().WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, waitFor, 5*time.Millisecond)

	p := dialPeer(t, srv)
	p.subscribe(t, "x", 1)

	require.NoError(t, srv.Close(context.Background()))
	select {
	case err := <-served:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}
}

func TestListenTwiceFails(t *testing.T) {
	srv := startServer(t, nil)
	assert.Error(t, srv.ListenAddr("127.0.0.1:0"))
}

func TestListenBindFailure(t *testing.T) {
	srv := startServer(t, nil)

	other, err := NewServerBuilder().Build()
	require.NoError(t, err)
	assert.Error(t, other.ListenAddr(srv.Addr().String()))
}

func TestTLSListener(t *testing.T) {
	pair := testcert.New(t)
	srv := startServer(t, NewServerBuilder().WithTLSConfig(pair.ServerConfig()))

	conn, err := tls.Dial("tcp", srv.Addr().String(), pair.ClientConfig())
	require.NoError(t, err)

	p := newPeer(t, conn)
	p.subscribe(t, "secure", 1)

	require.NoError(t, srv.Publish(context.Background(), "secure", "sealed"))
	assert.Equal(t, "sealed", p.next(t).Payload)
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewServerBuilder().WithTLSConfig(&tls.Config{}).Build()
	assert.Error(t, err)

	_, err = NewServerBuilder().WithPublishTransforms(nil).Build()
	assert.Error(t, err)

	srv, err := NewServerBuilder().WithLogger(nil).Build()
	require.NoError(t, err)
	assert.Nil(t, srv.Addr())
}
