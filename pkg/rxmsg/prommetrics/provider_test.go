package prommetrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/rxmsg/pkg/rxmsg/o11y"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestProviderInstruments(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("rxmsg")

	var mp o11y.MetricsProvider = p

	received := mp.Counter("messages_received_total")
	received.Add(ctx, 2, o11y.L("kind", "data"))
	received.Add(ctx, 1, o11y.L("kind", "request"))
	received.Add(ctx, 1, o11y.L("kind", "data"))

	mp.Gauge("active_connections").Set(ctx, 3)
	mp.Histogram("publish_seconds").Record(ctx, 0.2)

	body := scrape(t, p)
	assert.Contains(t, body, `rxmsg_messages_received_total{kind="data"} 3`)
	assert.Contains(t, body, `rxmsg_messages_received_total{kind="request"} 1`)
	assert.Contains(t, body, `rxmsg_active_connections 3`)
	assert.Contains(t, body, `rxmsg_publish_seconds_count 1`)
	assert.Contains(t, body, `go_goroutines`)
}

func TestLabelsFixedByFirstUse(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("rxmsg")

	c := p.Counter("errors_total")
	c.Add(ctx, 1, o11y.L("kind", "publish"))
	c.Add(ctx, 1, o11y.L("kind", "publish"), o11y.L("unknown", "ignored"))
	c.Add(ctx, 1)

	body := scrape(t, p)
	assert.Contains(t, body, `rxmsg_errors_total{kind="publish"} 2`)
	assert.Contains(t, body, `rxmsg_errors_total{kind=""} 1`)
	assert.NotContains(t, body, "ignored")
}

func TestSameNameSharesCollector(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("rxmsg")

	p.Counter("connections_total").Add(ctx, 1)
	p.Counter("connections_total").Add(ctx, 1)

	assert.Contains(t, scrape(t, p), `rxmsg_connections_total 2`)
}
