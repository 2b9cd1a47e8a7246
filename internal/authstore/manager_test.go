package authstore

import (
	"context"
	"errors"
	"testing"

	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Key(t *testing.T) {
	m := NewManager(NewMemoryBackend(), Options{}, quietLogger())
	assert.Equal(t, "@baileys-api:connections:+15550001111:authState", m.Key("+15550001111"))

	m = NewManager(NewMemoryBackend(), Options{KeyPrefix: "gw"}, quietLogger())
	assert.Equal(t, "gw:+1:authState", m.Key("+1"))
}

func TestManager_LoadMintsCredsWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	m := NewManager(backend, testOptions(), quietLogger())

	minted := 0
	s, err := m.Load(ctx, "+1", Metadata{ClientName: "Chrome", WebhookURL: "http://hook"}, func() (types.Creds, error) {
		minted++
		return types.Creds{"registrationId": float64(7)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, minted)
	assert.Equal(t, float64(7), s.Creds()["registrationId"])

	_, ok, err := backend.HGet(ctx, m.Key("+1"), pkgconstants.CredsField)
	require.NoError(t, err)
	assert.False(t, ok)

	meta, ok, err := backend.HGet(ctx, m.Key("+1"), pkgconstants.MetadataField)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"clientName":"Chrome","webhookUrl":"http://hook","webhookVerifyToken":""}`, meta)
}

func TestManager_LoadFactoryError(t *testing.T) {
	m := NewManager(NewMemoryBackend(), testOptions(), quietLogger())
	_, err := m.Load(context.Background(), "+1", Metadata{}, func() (types.Creds, error) {
		return nil, errors.New("no entropy")
	})
	assert.Error(t, err)
}

func TestManager_ListSavedIdentities(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	m := NewManager(backend, testOptions(), quietLogger())

	include := false
	_, err := m.Load(ctx, "+2", Metadata{ClientName: "Safari", IncludeMedia: &include}, freshCreds)
	require.NoError(t, err)
	_, err = m.Load(ctx, "+1", Metadata{ClientName: "Chrome", WebhookURL: "http://hook", WebhookVerifyToken: "tok"}, freshCreds)
	require.NoError(t, err)

	require.NoError(t, backend.HSet(ctx, m.Key("+3"), pkgconstants.MetadataField, "{not json"))
	require.NoError(t, backend.HSet(ctx, m.Key("+4"), pkgconstants.CredsField, "{}"))
	require.NoError(t, backend.HSet(ctx, "elsewhere:+5:authState", pkgconstants.MetadataField, "{}"))
	require.NoError(t, backend.HSet(ctx, m.Key("+6"), pkgconstants.CredsField, "{}"))
	require.NoError(t, backend.HSet(ctx, m.Key("+6"), pkgconstants.MetadataField, "null"))
	require.NoError(t, backend.HSet(ctx, m.Key("+7"), pkgconstants.MetadataField, `["Chrome"]`))

	ids, err := m.ListSavedIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	assert.Equal(t, "+1", ids[0].Tenant)
	assert.Equal(t, "http://hook", ids[0].Metadata.WebhookURL)
	assert.Equal(t, "tok", ids[0].Metadata.WebhookVerifyToken)
	assert.Nil(t, ids[0].Metadata.IncludeMedia)

	assert.Equal(t, "+2", ids[1].Tenant)
	require.NotNil(t, ids[1].Metadata.IncludeMedia)
	assert.False(t, *ids[1].Metadata.IncludeMedia)
}

func TestManager_ListSavedIdentitiesEmpty(t *testing.T) {
	m := NewManager(NewMemoryBackend(), testOptions(), quietLogger())
	ids, err := m.ListSavedIdentities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
