package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	apperrors "wagateway/internal/errors"
	"wagateway/pkg/bufferjson"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndGetOutsideTransaction(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())

	require.NoError(t, s.Set(ctx, types.KeyData{
		types.CategoryPreKey: {"1": map[string]interface{}{"keyId": float64(1)}, "2": "two"},
	}))

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "two", got["2"])
	assert.Equal(t, map[string]interface{}{"keyId": json.Number("1")}, got["1"])
	assert.NotContains(t, got, "3")
}

func TestStore_SetNilDeletes(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())

	require.NoError(t, s.Set(ctx, types.KeyData{types.CategorySession: {"a": "x", "b": "y"}}))

	var typedNil map[string]interface{}
	require.NoError(t, s.Set(ctx, types.KeyData{types.CategorySession: {"a": nil, "b": typedNil}}))

	got, err := s.Get(ctx, types.CategorySession, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_BinaryValuesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())

	require.NoError(t, s.Set(ctx, types.KeyData{
		types.CategorySenderKey: {"g1": map[string]interface{}{"private": []byte{0x00, 0xff, 0x10}}},
	}))

	got, err := s.Get(ctx, types.CategorySenderKey, []string{"g1"})
	require.NoError(t, err)
	doc, ok := got["g1"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, bufferjson.Buffer{0x00, 0xff, 0x10}, doc["private"])
}

func TestStore_AppStateSyncKeyIsWrapped(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())

	require.NoError(t, s.Set(ctx, types.KeyData{
		types.CategoryAppStateSyncKey: {"AAAA": map[string]interface{}{
			"keyData":   []byte("secret"),
			"timestamp": 1700000000,
		}},
	}))

	got, err := s.Get(ctx, types.CategoryAppStateSyncKey, []string{"AAAA"})
	require.NoError(t, err)
	key, ok := got["AAAA"].(*types.AppStateSyncKeyData)
	require.True(t, ok, "expected typed wrapper, got %T", got["AAAA"])
	assert.Equal(t, []byte("secret"), []byte(key.KeyData))
	assert.Equal(t, int64(1700000000), key.Timestamp)
}

func TestStore_TransactionDefersWritesUntilCommit(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	_, s := newTestStore(t, backend)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		assert.True(t, s.InTransaction(ctx))
		require.NoError(t, s.Set(ctx, types.KeyData{types.CategoryPreKey: {"1": "one"}}))
		require.NoError(t, s.Set(ctx, types.KeyData{types.CategoryPreKey: {"2": "two"}}))
		assert.Equal(t, 0, backend.Applies())

		got, err := s.Get(ctx, types.CategoryPreKey, []string{"1"})
		require.NoError(t, err)
		assert.Equal(t, "one", got["1"])
		return nil
	})
	require.NoError(t, err)
	assert.False(t, s.InTransaction(ctx))
	assert.Equal(t, 1, backend.Applies())

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"1": "one", "2": "two"}, got)
}

func TestStore_TransactionCachesReads(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	_, s := newTestStore(t, backend)
	require.NoError(t, s.Set(ctx, types.KeyData{types.CategorySession: {"a": "A"}}))

	err := s.Transaction(ctx, func(ctx context.Context) error {
		first, err := s.Get(ctx, types.CategorySession, []string{"a", "missing"})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"a": "A"}, first)

		second, err := s.Get(ctx, types.CategorySession, []string{"a", "missing", "b"})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"a": "A"}, second)
		return nil
	})
	require.NoError(t, err)

	fetches := backend.Fetches()
	require.Len(t, fetches, 2)
	assert.ElementsMatch(t, []string{"session-a", "session-missing"}, fetches[0])
	assert.Equal(t, []string{"session-b"}, fetches[1])
}

func TestStore_NestedTransactionCommitsOnce(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	_, s := newTestStore(t, backend)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Set(ctx, types.KeyData{types.CategoryPreKey: {"1": "one"}}))
		err := s.Transaction(ctx, func(ctx context.Context) error {
			return s.Set(ctx, types.KeyData{types.CategoryPreKey: {"2": "two"}})
		})
		require.NoError(t, err)
		assert.Equal(t, 0, backend.Applies())
		assert.True(t, s.InTransaction(ctx))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.Applies())

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1", "2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_TransactionWorkErrorDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	_, s := newTestStore(t, backend)
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Set(ctx, types.KeyData{types.CategoryPreKey: {"1": "one"}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Applies())

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_EmptyTransactionSkipsCommit(t *testing.T) {
	backend := &countingBackend{Backend: NewMemoryBackend()}
	_, s := newTestStore(t, backend)

	require.NoError(t, s.Transaction(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, backend.Applies())
}

func TestStore_CommitRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend(), failApplies: 2}
	_, s := newTestStore(t, backend)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.Set(ctx, types.KeyData{types.CategoryPreKey: {"1": "one"}})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, backend.Applies())

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, "one", got["1"])
}

func TestStore_CommitFailureAfterAllAttempts(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend(), failApplies: 100}
	_, s := newTestStore(t, backend)

	err := s.Transaction(ctx, func(ctx context.Context) error {
		return s.Set(ctx, types.KeyData{types.CategoryPreKey: {"1": "one", "2": "two"}})
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreCommit))
	assert.Equal(t, pkgconstants.DefaultMaxCommitRetries, backend.Applies())

	got, err := s.Get(ctx, types.CategoryPreKey, []string{"1", "2"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ClearInsideTransaction(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())
	require.NoError(t, s.SaveCreds(ctx))
	require.NoError(t, s.Set(ctx, types.KeyData{types.CategorySession: {"a": "A", "b": "B"}}))

	err := s.Transaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.Set(ctx, types.KeyData{types.CategoryPreKey: {"staged": "S"}}))
		require.NoError(t, s.Clear(ctx))

		got, err := s.Get(ctx, types.CategorySession, []string{"a", "b"})
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = s.Get(ctx, types.CategoryPreKey, []string{"staged"})
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	})
	require.NoError(t, err)

	fields, err := s.backend.HKeys(ctx, s.key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pkgconstants.CredsField, pkgconstants.MetadataField}, fields)
}

func TestStore_ClearOutsideTransactionRemovesRecord(t *testing.T) {
	ctx := context.Background()
	m, s := newTestStore(t, NewMemoryBackend())
	require.NoError(t, s.SaveCreds(ctx))

	require.NoError(t, s.ClearAuthState(ctx))

	ids, err := m.ListSavedIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_OutermostTransactionsAreSerialized(t *testing.T) {
	ctx := context.Background()
	_, s := newTestStore(t, NewMemoryBackend())
	require.NoError(t, s.Set(ctx, types.KeyData{"counter": {"n": float64(0)}}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transaction(ctx, func(ctx context.Context) error {
				got, err := s.Get(ctx, "counter", []string{"n"})
				if err != nil {
					return err
				}
				n := toFloat(got["n"])
				return s.Set(ctx, types.KeyData{"counter": {"n": n + 1}})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "counter", []string{"n"})
	require.NoError(t, err)
	assert.Equal(t, float64(20), toFloat(got["n"]))
}

func TestStore_MergeCredsPersists(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	m, s := newTestStore(t, backend)

	require.NoError(t, s.MergeCreds(ctx, types.Creds{"me": map[string]interface{}{"id": "15550001111:3@s.whatsapp.net"}}))
	assert.Equal(t, float64(42), s.Creds()["registrationId"])

	reloaded, err := m.Load(ctx, "+15550001111", Metadata{}, func() (types.Creds, error) {
		t.Fatal("stored creds should be reused")
		return nil, nil
	})
	require.NoError(t, err)
	me, ok := reloaded.Creds()["me"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "15550001111:3@s.whatsapp.net", me["id"])
	assert.Same(t, reloaded, reloaded.State().Keys)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case interface{ Float64() (float64, error) }:
		f, _ := n.Float64()
		return f
	}
	return 0
}
