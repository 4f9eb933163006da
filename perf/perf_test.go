package perf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"github.com/wesleyorama2/volley/internal/stubserver"
)

func TestRun(t *testing.T) {
	s := stubserver.Start(t, stubserver.OK)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := Run(ctx, &Config{
		URL:         s.Target.String(),
		Connections: 2,
		KeepAlive:   true,
		Number:      40,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.Equal(t, int64(40), res.OK)
	assert.Positive(t, res.Percentile(99))

	var text, doc bytes.Buffer
	require.NoError(t, WriteText(&text, res))
	assert.Contains(t, text.String(), "Benchmarks for:")
	require.NoError(t, WriteJSON(&doc, res))
	assert.Equal(t, int64(40), gjson.Get(doc.String(), "results.ok").Int())
}

func TestRunner_Stop(t *testing.T) {
	s := stubserver.Start(t, stubserver.OK)
	ctx := context.Background()

	r, err := NewRunner(ctx, &Config{
		URL:       s.Target.String(),
		KeepAlive: true,
		Duration:  Seconds(30),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Config().Connections)

	time.AfterFunc(200*time.Millisecond, r.Stop)
	start := time.Now()
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Positive(t, res.OK)
	assert.Equal(t, res.OK, r.Stats().OK)
}

func TestNewRunner_Invalid(t *testing.T) {
	_, err := NewRunner(context.Background(), &Config{URL: "ftp://example.com/"})
	assert.Error(t, err)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, time.Duration(Seconds(1.5)))
}
