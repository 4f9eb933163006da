package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func TestNew_QuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})
	log.Info("hello")
	require.NoError(t, log.Sync())
	assert.Empty(t, buf.String())
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Verbose: true, Output: &buf})
	log.Debug("connected", zap.Int("pool", 3))

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "volley")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, `"pool": 3`)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Verbose: true, JSON: true, Output: &buf})
	log.Warn("slow", zap.String("addr", "127.0.0.1:80"))

	line := buf.String()
	require.True(t, gjson.Valid(line), line)
	assert.Equal(t, "warn", gjson.Get(line, "level").String())
	assert.Equal(t, "slow", gjson.Get(line, "msg").String())
	assert.Equal(t, "volley", gjson.Get(line, "logger").String())
	assert.Equal(t, "127.0.0.1:80", gjson.Get(line, "addr").String())
}
