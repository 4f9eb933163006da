package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/histogram"
)

func sampleResult() *engine.Result {
	h := histogram.New()
	for i := 1; i <= 100; i++ {
		h.AddDuration(time.Duration(i) * 10 * time.Microsecond)
	}
	return &engine.Result{
		URL:         "http://127.0.0.1:8080/",
		Threads:     2,
		Connections: 8,
		Backlog:     4,
		KeepAlive:   true,
		Connects:    8,
		Sent:        105,
		OK:          100,
		Errors:      2,
		NoResponse:  3,
		Bytes:       3900,
		Status:      [6]int64{0, 0, 98, 0, 2, 0},
		Active:      2 * time.Second,
		Elapsed:     2100 * time.Millisecond,
		Rate:        50.4,
		Mean:        505 * time.Microsecond,
		StdDev:      288 * time.Microsecond,
		Percentiles: []engine.Percentile{
			{P: 50, Value: 500 * time.Microsecond},
			{P: 99.9, Value: time.Millisecond},
		},
		Histogram: h,
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult(), Options{}))
	out := buf.String()

	assert.Contains(t, out, "http://127.0.0.1:8080/ encountered 2 errors.")
	assert.Contains(t, out, "http://127.0.0.1:8080/ did not respond to 3 requests.")
	assert.Contains(t, out, "Benchmarks for:")
	assert.Contains(t, out, "URL:          http://127.0.0.1:8080/")
	assert.Contains(t, out, "Threads:      2")
	assert.Contains(t, out, "Duration:     2.0 seconds")
	assert.Contains(t, out, "Keep-Alive:   true")
	assert.Contains(t, out, "Failures:     2")
	assert.Contains(t, out, "8 connections established")
	assert.Contains(t, out, "50 requests/second")
	assert.Contains(t, out, "0.505 +/-0.288 msecs (and stdev)")
	assert.Contains(t, out, "p50 0.500, p99.9 1.000 msecs")
	assert.Contains(t, out, "2xx 98, 4xx 2")
	assert.NotContains(t, out, "\x1b[", "a buffer is not a terminal")
}

func TestWriteText_CleanRun(t *testing.T) {
	r := sampleResult()
	r.Errors, r.NoResponse = 0, 0
	r.Status = [6]int64{0, 0, 100, 0, 0, 0}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, r, Options{}))
	out := buf.String()

	assert.NotContains(t, out, "encountered")
	assert.NotContains(t, out, "did not respond")
	assert.NotContains(t, out, "Failures")
	assert.NotContains(t, out, "Status:")
}

func TestWriteText_ForcedColors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult(), Options{Colors: DefaultColorScheme().forceColor()}))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestWriteText_Graph(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult(), Options{Graph: config.Graph{Width: 20, Height: 5}}))
	assert.Contains(t, buf.String(), "Latency distribution:")
	assert.Contains(t, buf.String(), "+"+strings.Repeat("-", 20))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult(), Options{}))
	doc := buf.String()
	require.True(t, gjson.Valid(doc))

	assert.Equal(t, "http://127.0.0.1:8080/", gjson.Get(doc, "options.url").String())
	assert.Equal(t, int64(2), gjson.Get(doc, "options.threads").Int())
	assert.Equal(t, int64(4), gjson.Get(doc, "options.connectionsPerThread").Int())
	assert.Equal(t, 2.0, gjson.Get(doc, "options.duration").Float())
	assert.True(t, gjson.Get(doc, "options.keepAlive").Bool())

	assert.Equal(t, int64(2), gjson.Get(doc, "results.failures").Int())
	assert.Equal(t, int64(2), gjson.Get(doc, "results.errors").Int())
	assert.Equal(t, int64(3), gjson.Get(doc, "results.noResponse").Int())
	assert.Equal(t, int64(8), gjson.Get(doc, "results.connections").Int())
	assert.Equal(t, int64(50), gjson.Get(doc, "results.requestsPerSecond").Int())
	assert.Equal(t, 0.505, gjson.Get(doc, "results.latencyMilliseconds").Float())
	assert.Equal(t, 0.288, gjson.Get(doc, "results.latencyStdev").Float())
	assert.Equal(t, int64(100), gjson.Get(doc, "results.ok").Int())
	assert.Equal(t, 0.5, gjson.Get(doc, "results.percentiles.50").Float())
	assert.Equal(t, 1.0, gjson.Get(doc, `results.percentiles.99\.9`).Float())
	assert.Equal(t, int64(2), gjson.Get(doc, "results.status.4xx").Int())
	assert.False(t, gjson.Get(doc, "results.hdrHistogram").Exists())
}

func TestWriteJSON_OmitsZeroErrorFields(t *testing.T) {
	r := sampleResult()
	r.Errors, r.NoResponse = 0, 0

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r, Options{}))
	doc := buf.String()

	assert.False(t, gjson.Get(doc, "results.failures").Exists())
	assert.False(t, gjson.Get(doc, "results.errors").Exists())
	assert.False(t, gjson.Get(doc, "results.noResponse").Exists())
	assert.True(t, gjson.Get(doc, "results.connections").Exists())
}

func TestWriteJSON_HDR(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult(), Options{HDR: true}))

	enc := gjson.Get(buf.String(), "results.hdrHistogram").String()
	require.NotEmpty(t, enc)

	decoded, err := hdrhistogram.Decode([]byte(enc))
	require.NoError(t, err)
	assert.Equal(t, int64(100), decoded.TotalCount())
}

func TestGraph(t *testing.T) {
	h := histogram.New()
	for i := 0; i < 100; i++ {
		h.Add(100)
	}
	h.Add(200)

	rows := Graph(h, 10, 4)
	require.Len(t, rows, 6)

	// the tallest column fills every row
	for _, row := range rows[:4] {
		assert.True(t, strings.HasPrefix(row, "|#"), "row %q", row)
	}
	// a single value still shows in the last column
	assert.Equal(t, "#", rows[3][len(rows[3])-1:])
	assert.Equal(t, "+"+strings.Repeat("-", 10), rows[4])
	assert.Contains(t, rows[5], "ms")
}

func TestGraph_Empty(t *testing.T) {
	assert.Nil(t, Graph(histogram.New(), 10, 4))
	h := histogram.New()
	h.Add(1)
	assert.Nil(t, Graph(h, 0, 4))
}

func TestSchemeFor(t *testing.T) {
	var buf bytes.Buffer
	cs := SchemeFor(&buf, false)
	assert.Equal(t, "x", cs.Good.Sprint("x"))

	t.Setenv("NO_COLOR", "1")
	cs = SchemeFor(&buf, false)
	assert.Equal(t, "x", cs.Error.Sprint("x"))
}
