package config

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"wagateway/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher("config.json", nil, 0, logrus.New())
	assert.Equal(t, 10*time.Second, w.interval)
	assert.Nil(t, w.Config())
	assert.Empty(t, w.callbacks)
}

func TestWatcher_RunMissingFile(t *testing.T) {
	w := NewWatcher("/nonexistent/config.json", nil, time.Millisecond, logrus.New())
	assert.Error(t, w.Run(context.Background()))
}

func TestWatcher_RunLoadsInitialConfig(t *testing.T) {
	path := writeConfig(t, `{"log_level": "warn"}`)
	w := NewWatcher(path, nil, time.Hour, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))

	require.NotNil(t, w.Config())
	assert.Equal(t, "warn", w.Config().LogLevel)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, `{"log_level": "info", "server": {"api_key": "first-api-key-value"}}`)
	initial, err := LoadConfig(path)
	require.NoError(t, err)

	logs := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(logs)

	w := NewWatcher(path, initial, 10*time.Millisecond, logger)
	changed := make(chan *models.Config, 1)
	w.OnChange(func(c *models.Config) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "debug", "server": {"api_key": "second-api-key-value"}}`), 0600))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.LogLevel)
		assert.Equal(t, "second-api-key-value", c.Server.APIKey)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was not detected")
	}

	assert.Equal(t, "debug", w.Config().LogLevel)
	cancel()
	require.NoError(t, <-done)

	out := logs.String()
	assert.Contains(t, out, "Log level changed")
	assert.Contains(t, out, "API key rotated")
	assert.NotContains(t, out, "second-api-key-value")
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, `{"log_level": "info"}`)
	initial, err := LoadConfig(path)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	w := NewWatcher(path, initial, time.Hour, logger)
	called := false
	w.OnChange(func(*models.Config) { called = true })

	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "loud"}`), 0600))
	w.reload()

	assert.Same(t, initial, w.Config())
	assert.False(t, called)
}

func TestWatcher_PanickingCallbackIsContained(t *testing.T) {
	path := writeConfig(t, `{}`)
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	w := NewWatcher(path, nil, time.Hour, logger)

	second := false
	w.OnChange(func(*models.Config) { panic("boom") })
	w.OnChange(func(*models.Config) { second = true })

	assert.NotPanics(t, w.reload)
	assert.True(t, second)
	assert.NotNil(t, w.Config())
}
