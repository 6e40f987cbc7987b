package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tsarna/rxmsg/pkg/rxmsg/backoff"
	"github.com/tsarna/rxmsg/pkg/rxmsg/client"
	"github.com/tsarna/rxmsg/pkg/rxmsg/config"
	"github.com/tsarna/rxmsg/pkg/rxmsg/server"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

const waitFor = 2 * time.Second

func startServer(t *testing.T, def *config.ServerDefinition) *server.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	srv, err := server.NewServerBuilder().WithLogger(logger).Build()
	require.NoError(t, err)
	attachHandlers(srv, def, logger)
	require.NoError(t, srv.ListenAddr("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		srv.Close(ctx)
	})
	return srv
}

func connect(t *testing.T, srv *server.Server) *client.Client {
	t.Helper()
	c, err := client.NewClient().
		WithAddress(srv.Addr().String()).
		WithReconnect(backoff.Constant(10)).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		c.Disconnect(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	return c
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEchoChannels(t *testing.T) {
	srv := startServer(t, &config.ServerDefinition{EchoChannels: []string{"echo"}})
	c := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	resp, err := c.Request(ctx, "echo", map[string]any{"ping": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ping": 1.0}, resp.Payload)
	assert.Equal(t, "echo", resp.ChannelName())

	_, err = c.Request(ctx, "elsewhere", "hi")
	var typed *wire.TypedError
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, ErrNoHandler, typed.Code)
	assert.Contains(t, typed.Detail, "elsewhere")
}

func TestRelayToSubscribers(t *testing.T) {
	srv := startServer(t, &config.ServerDefinition{})
	subscriber := connect(t, srv)
	publisher := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	out := &syncBuffer{}
	require.NoError(t, subscribeAll(ctx, subscriber, []string{"news", "sports"}, out, zaptest.NewLogger(t)))
	assert.Equal(t, 1, srv.Subscribers("news"))

	require.NoError(t, publisher.Send(ctx, "news", map[string]any{"headline": "hello"}))
	require.NoError(t, publisher.Send(ctx, "weather", "rain"))
	require.NoError(t, publisher.Send(ctx, "sports", 3.0))

	assert.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "news\t{\"headline\":\"hello\"}\nsports\t3\n", out.String())
}

func TestRelayDisabled(t *testing.T) {
	off := false
	srv := startServer(t, &config.ServerDefinition{Relay: &off})
	subscriber := connect(t, srv)
	publisher := connect(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	out := &syncBuffer{}
	require.NoError(t, subscribeAll(ctx, subscriber, []string{"news"}, out, zaptest.NewLogger(t)))
	require.NoError(t, publisher.Send(ctx, "news", "quiet"))

	// a round trip on the same connection proves the Data frame was processed
	_, err := publisher.Request(ctx, "news", nil)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, out.String())
}

func TestParsePayload(t *testing.T) {
	assert.Equal(t, 25.5, parsePayload("25.5"))
	assert.Equal(t, map[string]any{"user": "alice"}, parsePayload(`{"user":"alice"}`))
	assert.Equal(t, "plain text", parsePayload("plain text"))
	assert.Equal(t, true, parsePayload("true"))

	assert.Equal(t, `{"a":[1,2]}`, formatPayload(map[string]any{"a": []int{1, 2}}))
	assert.Contains(t, formatPayload(make(chan int)), "error marshaling JSON")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rxmsg.log")

	logger, err := setupLogger(&config.LoggingDefinition{Level: "warn", File: path})
	require.NoError(t, err)

	logger.Info("not written")
	logger.Warn("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.NotContains(t, string(data), "not written")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "error", parseLevel("error").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
}
