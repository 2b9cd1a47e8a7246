package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wagateway/internal/authstore"
	"wagateway/internal/config"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/models"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/whatsapptest"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDriver       = "wagateway-test"
	brokenTestDriver = "wagateway-test-broken"
)

// unconfigurableDialer fails its process-level setup.
type unconfigurableDialer struct {
	*whatsapptest.Dialer
}

func (unconfigurableDialer) Configure(context.Context, whatsapp.Settings) error {
	return fmt.Errorf("device store unavailable")
}

func init() {
	whatsapp.Register(testDriver, whatsapptest.NewDialer())
	whatsapp.Register(brokenTestDriver, unconfigurableDialer{whatsapptest.NewDialer()})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeTestConfig(t *testing.T, port int, driver string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := fmt.Sprintf(`{
		"server": {"port": %d, "api_key": "integration-api-key-01"},
		"auth_store": {"backend": "memory"},
		"media": {"dir": %q, "disable_transcode": true},
		"protocol": {"driver": %q},
		"log_level": "error"
	}`, port, filepath.Join(dir, "media"), driver)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestRunServesUntilCanceled(t *testing.T) {
	port := freePort(t)
	path := writeTestConfig(t, port, testDriver)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, path, false)
	}()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/metrics", port), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRunWithInvalidConfig(t *testing.T) {
	err := run(context.Background(), filepath.Join(t.TempDir(), "missing.json"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunWithUnknownDriver(t *testing.T) {
	path := writeTestConfig(t, freePort(t), "no-such-driver")

	err := run(context.Background(), path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown protocol driver")
	assert.Contains(t, err.Error(), testDriver)
	assert.Contains(t, whatsapp.Drivers(), "whatsmeow")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
}

func TestOpenProtocol(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("configures and returns the driver", func(t *testing.T) {
		cfg := &models.Config{
			Protocol: models.ProtocolConfig{Driver: testDriver},
			Sessions: models.SessionsConfig{ClientVersion: "2.3000.1015901307"},
		}
		dialer, version, err := openProtocol(context.Background(), cfg, logger)
		require.NoError(t, err)
		assert.NotNil(t, dialer)
		require.NotNil(t, version)
		assert.Equal(t, whatsapp.Version{2, 3000, 1015901307}, *version)
	})

	t.Run("invalid client version", func(t *testing.T) {
		cfg := &models.Config{
			Protocol: models.ProtocolConfig{Driver: testDriver},
			Sessions: models.SessionsConfig{ClientVersion: "latest"},
		}
		_, _, err := openProtocol(context.Background(), cfg, logger)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
		assert.Contains(t, err.Error(), "invalid client version")
	})

	t.Run("driver setup failure", func(t *testing.T) {
		cfg := &models.Config{Protocol: models.ProtocolConfig{Driver: brokenTestDriver, StorePath: "devices.db"}}
		_, _, err := openProtocol(context.Background(), cfg, logger)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidConfig))
		assert.Contains(t, err.Error(), "device store unavailable")
	})
}

func TestConfigureLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "gateway.log")
	cfg := &models.Config{LogLevel: "warn", Logging: models.LoggingConfig{File: logPath}}

	logger := logrus.New()
	file := configureLogger(logger, cfg, false)
	require.NotNil(t, file)
	defer file.Close()

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger.Warn("written to file")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestConfigureLoggerVerbose(t *testing.T) {
	logger := logrus.New()
	file := configureLogger(logger, &models.Config{LogLevel: "error"}, true)

	assert.Nil(t, file)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestApplyLogLevel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&strings.Builder{})

	applyLogLevel(logger, "", false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	applyLogLevel(logger, "error", false)
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel())

	applyLogLevel(logger, "loud", false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestOpenBackend(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		backend, err := openBackend(ctx, &models.Config{AuthStore: models.AuthStoreConfig{Backend: config.BackendMemory}}, logger)
		require.NoError(t, err)
		assert.IsType(t, &authstore.MemoryBackend{}, backend)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &models.Config{
			AuthStore: models.AuthStoreConfig{Backend: config.BackendSQLite},
			SQLite:    models.SQLiteConfig{Path: filepath.Join(t.TempDir(), "auth.db")},
		}
		backend, err := openBackend(ctx, cfg, logger)
		require.NoError(t, err)
		defer backend.Close()
		assert.IsType(t, &authstore.SQLiteBackend{}, backend)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &models.Config{
			AuthStore: models.AuthStoreConfig{Backend: config.BackendRedis},
			Redis:     models.RedisConfig{URL: "redis://" + mr.Addr() + "/0"},
		}
		backend, err := openBackend(ctx, cfg, logger)
		require.NoError(t, err)
		defer backend.Close()
		assert.IsType(t, &authstore.RedisBackend{}, backend)
	})

	t.Run("unreachable redis gives up", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		cfg := &models.Config{
			AuthStore: models.AuthStoreConfig{Backend: config.BackendRedis},
			Redis:     models.RedisConfig{URL: "redis://" + addr + "/0"},
		}
		_, err := openBackend(shortCtx, cfg, logger)
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openBackend(ctx, &models.Config{AuthStore: models.AuthStoreConfig{Backend: "etcd"}}, logger)
		assert.Error(t, err)
	})
}

func TestStoreOptions(t *testing.T) {
	opts, err := storeOptions(models.AuthStoreConfig{KeyPrefix: "tenants", MaxCommitRetries: 5, CommitRetryDelayMs: 50})
	require.NoError(t, err)
	assert.Equal(t, "tenants", opts.KeyPrefix)
	assert.Equal(t, 5, opts.MaxCommitRetries)
	assert.Equal(t, 50*time.Millisecond, opts.CommitRetryDelay)
	assert.Nil(t, opts.Sealer)

	defaults, err := storeOptions(models.AuthStoreConfig{})
	require.NoError(t, err)
	assert.Equal(t, authstore.DefaultOptions(), defaults)

	t.Setenv(authstore.EncryptionSecretEnv, "")
	_, err = storeOptions(models.AuthStoreConfig{EncryptValues: true})
	assert.Error(t, err)

	t.Setenv(authstore.EncryptionSecretEnv, strings.Repeat("s", 32))
	sealed, err := storeOptions(models.AuthStoreConfig{EncryptValues: true})
	require.NoError(t, err)
	assert.NotNil(t, sealed.Sealer)
}
