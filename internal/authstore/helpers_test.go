package authstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// countingBackend records backend traffic and can fail Apply calls.
type countingBackend struct {
	Backend

	mu          sync.Mutex
	hmgetFields [][]string
	applies     int
	failApplies int
}

func (b *countingBackend) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	b.mu.Lock()
	b.hmgetFields = append(b.hmgetFields, append([]string(nil), fields...))
	b.mu.Unlock()
	return b.Backend.HMGet(ctx, key, fields...)
}

func (b *countingBackend) Apply(ctx context.Context, key string, mutations []Mutation) error {
	b.mu.Lock()
	b.applies++
	fail := b.applies <= b.failApplies
	b.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return b.Backend.Apply(ctx, key, mutations)
}

func (b *countingBackend) Applies() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applies
}

func (b *countingBackend) Fetches() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.hmgetFields...)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.CommitRetryDelay = 0
	return opts
}

func freshCreds() (types.Creds, error) {
	return types.Creds{"registrationId": float64(42)}, nil
}

func newTestStore(t *testing.T, backend Backend) (*Manager, *Store) {
	t.Helper()
	m := NewManager(backend, testOptions(), quietLogger())
	s, err := m.Load(context.Background(), "+15550001111", Metadata{ClientName: "Chrome"}, freshCreds)
	require.NoError(t, err)
	return m, s
}
