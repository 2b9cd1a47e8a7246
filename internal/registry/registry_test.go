package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"wagateway/internal/authstore"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/metrics"
	"wagateway/internal/session"
	"wagateway/internal/webhook"
	"wagateway/pkg/whatsapp/types"
	"wagateway/pkg/whatsapp/whatsapptest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = "+5511911111111"
	tenantB = "+5511922222222"
)

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []webhook.Delivery
}

func (r *recordingNotifier) Notify(d webhook.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recordingNotifier) forTenant(tenant string) []webhook.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []webhook.Delivery
	for _, d := range r.deliveries {
		if d.Tenant == tenant {
			out = append(out, d)
		}
	}
	return out
}

// failingCredentials fails Load for one tenant and defers to the manager
// for every other.
type failingCredentials struct {
	*authstore.Manager
	tenant string
}

func (f failingCredentials) Load(ctx context.Context, tenant string, meta authstore.Metadata, newCreds func() (types.Creds, error)) (*authstore.Store, error) {
	if tenant == f.tenant {
		return nil, errors.New("backend unavailable")
	}
	return f.Manager.Load(ctx, tenant, meta, newCreds)
}

type listerFunc func(ctx context.Context) ([]authstore.SavedIdentity, error)

func (f listerFunc) ListSavedIdentities(ctx context.Context) ([]authstore.SavedIdentity, error) {
	return f(ctx)
}

type fixture struct {
	registry *Registry
	dialer   *whatsapptest.Dialer
	notifier *recordingNotifier
	manager  *authstore.Manager
}

func newFixture(t *testing.T, mutate func(*session.Deps, *Config)) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	storeOpts := authstore.DefaultOptions()
	storeOpts.CommitRetryDelay = 0
	f := &fixture{
		dialer:   whatsapptest.NewDialer(),
		notifier: &recordingNotifier{},
		manager:  authstore.NewManager(authstore.NewMemoryBackend(), storeOpts, logger),
	}
	deps := session.Deps{
		Dialer:      f.dialer,
		Credentials: f.manager,
		Notifier:    f.notifier,
		Logger:      logger,
	}
	cfg := Config{Defaults: session.DefaultOptions()}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	f.registry = New(deps, f.manager, cfg)
	return f
}

func hookOptions(url string) session.Options {
	opts := session.DefaultOptions()
	opts.WebhookURL = url
	opts.WebhookVerifyToken = "token"
	return opts
}

func connectionField(t *testing.T, d webhook.Delivery) string {
	t.Helper()
	data, err := json.Marshal(d.Envelope.Data)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	s, _ := out["connection"].(string)
	return s
}

func TestConnect_TracksNewSession(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.registry.Connect(context.Background(), tenantA, hookOptions("http://a")))

	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, []string{tenantA}, f.registry.Tenants())
	assert.Equal(t, 1, f.dialer.Dials())
	assert.Equal(t, float64(1), metrics.GetRegistry().GaugeValue(metrics.SessionsTracked, nil))
	assert.Zero(t, f.registry.locks.size())
}

func TestConnect_ExistingSessionIsProbed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	client := f.dialer.Last()
	client.SetMe("5511911111111:3@s.whatsapp.net")
	client.On("SendPresenceUpdate", mock.Anything, types.PresenceAvailable, "").Return(nil).Once()

	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://b")))

	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 1, f.dialer.Dials(), "no new client for a live session")
	client.AssertExpectations(t)

	client.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseOpen})
	deliveries := f.notifier.forTenant(tenantA)
	require.NotEmpty(t, deliveries)
	assert.Equal(t, "http://b", deliveries[len(deliveries)-1].URL, "options were updated")
}

func TestConnect_ProbeFailureIsReturned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	client := f.dialer.Last()
	client.SetMe("5511911111111@s.whatsapp.net")
	boom := errors.New("write timeout")
	client.On("SendPresenceUpdate", mock.Anything, types.PresenceAvailable, "").Return(boom)

	assert.ErrorIs(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")), boom)
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestConnect_StaleEntryIsReplaced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	stale, err := f.registry.Session(tenantA)
	require.NoError(t, err)

	f.dialer.DialErr = errors.New("network down")
	f.dialer.Last().EmitConnectionUpdate(ctx, &types.ConnectionUpdate{
		Connection:     types.PhaseClosed,
		LastDisconnect: &types.Disconnect{Error: &types.DisconnectError{StatusCode: 408}},
	})
	require.False(t, stale.Connected())
	require.Equal(t, 1, f.registry.Len())

	f.dialer.DialErr = nil
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))

	fresh, err := f.registry.Session(tenantA)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
	assert.True(t, fresh.Connected())
	assert.Equal(t, 1, f.registry.Len())
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestConnect_DialFailureIsNotTracked(t *testing.T) {
	f := newFixture(t, nil)
	f.dialer.DialErr = errors.New("refused")

	assert.Error(t, f.registry.Connect(context.Background(), tenantA, hookOptions("http://a")))
	assert.Zero(t, f.registry.Len())
}

func TestCloseCallback_EvictsAndChainsUserCallback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	closed := 0
	opts := hookOptions("http://a")
	opts.OnConnectionClose = func() { closed++ }
	require.NoError(t, f.registry.Connect(ctx, tenantA, opts))
	require.NoError(t, f.registry.Connect(ctx, tenantB, hookOptions("http://b")))

	f.dialer.Client(0).EmitConnectionUpdate(ctx, &types.ConnectionUpdate{
		Connection:     types.PhaseClosed,
		LastDisconnect: &types.Disconnect{Error: &types.DisconnectError{StatusCode: types.DisconnectLoggedOut}},
	})

	assert.Equal(t, 1, closed)
	assert.Equal(t, []string{tenantB}, f.registry.Tenants())
	_, err := f.registry.Session(tenantA)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
}

func TestOperations_UnknownTenantIsNotConnected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.registry.SendMessage(ctx, tenantA, "x@s.whatsapp.net", types.MessageContent{"text": "hi"}, nil)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
	assert.True(t, apperrors.HasCode(f.registry.ChatModify(ctx, tenantA, types.ChatModification{}, "x"), apperrors.ErrCodeNotConnected))
	_, err = f.registry.GroupMetadata(ctx, tenantA, "g@g.us")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConnected))
	assert.True(t, apperrors.HasCode(f.registry.Logout(ctx, tenantA), apperrors.ErrCodeNotConnected))
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
}

func TestOperations_ForwardToSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	client := f.dialer.Last()

	client.On("OnWhatsApp", mock.Anything, []string{"1@s.whatsapp.net", "2@s.whatsapp.net"}).
		Return([]types.OnWhatsAppResult{{Exists: true, JID: "1@s.whatsapp.net"}}, nil)
	results, err := f.registry.OnWhatsApp(ctx, tenantA, "1@s.whatsapp.net", "2@s.whatsapp.net")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	client.On("GroupUpdateSubject", mock.Anything, "g@g.us", "New name").Return(nil)
	require.NoError(t, f.registry.GroupUpdateSubject(ctx, tenantA, "g@g.us", "New name"))

	client.On("SendReceipts", mock.Anything, []types.MessageKey{{ID: "1"}}, types.ReceiptRead).Return(nil)
	require.NoError(t, f.registry.SendReceipts(ctx, tenantA, []types.MessageKey{{ID: "1"}}, types.ReceiptRead))

	client.AssertExpectations(t)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	client := f.dialer.Last()

	boom := errors.New("not now")
	client.On("Logout", mock.Anything).Return(boom).Once()
	assert.ErrorIs(t, f.registry.Logout(ctx, tenantA), boom)
	assert.Equal(t, 1, f.registry.Len(), "failed logout keeps the session")

	client.On("Logout", mock.Anything).Return(nil).Once()
	require.NoError(t, f.registry.Logout(ctx, tenantA))
	assert.Zero(t, f.registry.Len())

	ids, err := f.manager.ListSavedIdentities(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLogoutAll_PartialFailureStillClears(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	require.NoError(t, f.registry.Connect(ctx, tenantB, hookOptions("http://b")))

	boom := errors.New("socket gone")
	f.dialer.Client(0).On("Logout", mock.Anything).Return(boom)
	f.dialer.Client(1).On("Logout", mock.Anything).Return(nil)

	err := f.registry.LogoutAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.registry.Len())
	assert.Equal(t, float64(0), metrics.GetRegistry().GaugeValue(metrics.SessionsTracked, nil))
	f.dialer.Client(0).AssertNumberOfCalls(t, "Logout", 1)
	f.dialer.Client(1).AssertNumberOfCalls(t, "Logout", 1)
}

func TestLogoutAll_Empty(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.registry.LogoutAll(context.Background()))
}

func TestReconnectFromAuthStore(t *testing.T) {
	f := newFixture(t, func(_ *session.Deps, cfg *Config) { cfg.ReconnectConcurrency = 1 })
	ctx := context.Background()

	include := false
	_, err := f.manager.Load(ctx, tenantA, authstore.Metadata{
		ClientName:   "Firefox",
		WebhookURL:   "http://a",
		IncludeMedia: &include,
	}, f.dialer.NewCreds)
	require.NoError(t, err)
	_, err = f.manager.Load(ctx, tenantB, authstore.Metadata{WebhookURL: "http://b"}, f.dialer.NewCreds)
	require.NoError(t, err)

	require.NoError(t, f.registry.ReconnectFromAuthStore(ctx))

	assert.Equal(t, []string{tenantA, tenantB}, f.registry.Tenants())
	assert.Equal(t, 2, f.dialer.Dials())

	names := map[string]bool{}
	for i := 0; i < 2; i++ {
		names[f.dialer.Client(i).Config.ClientName] = true
	}
	assert.Equal(t, map[string]bool{"Firefox": true, "Chrome": true}, names)

	for i := 0; i < 2; i++ {
		f.dialer.Client(i).EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseConnecting})
	}
	for _, tenant := range []string{tenantA, tenantB} {
		deliveries := f.notifier.forTenant(tenant)
		require.Len(t, deliveries, 1)
		assert.Equal(t, "reconnecting", connectionField(t, deliveries[0]))
	}
}

func TestReconnectFromAuthStore_FailuresAreIndependent(t *testing.T) {
	var manager *authstore.Manager
	f := newFixture(t, func(deps *session.Deps, _ *Config) {
		manager = deps.Credentials.(*authstore.Manager)
		deps.Credentials = failingCredentials{Manager: manager, tenant: tenantA}
	})
	ctx := context.Background()
	for _, tenant := range []string{tenantA, tenantB} {
		_, err := manager.Load(ctx, tenant, authstore.Metadata{}, f.dialer.NewCreds)
		require.NoError(t, err)
	}

	err := f.registry.ReconnectFromAuthStore(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend unavailable")
	assert.Equal(t, []string{tenantB}, f.registry.Tenants())
}

func TestReconnectFromAuthStore_NothingSaved(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.registry.ReconnectFromAuthStore(context.Background()))
	assert.Zero(t, f.dialer.Dials())
}

func TestReconnectFromAuthStore_ListError(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("scan failed")
	f.registry.identities = listerFunc(func(context.Context) ([]authstore.SavedIdentity, error) {
		return nil, boom
	})
	assert.ErrorIs(t, f.registry.ReconnectFromAuthStore(context.Background()), boom)
}

func TestReconnectFromAuthStore_SkipsTrackedTenants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))

	require.NoError(t, f.registry.ReconnectFromAuthStore(ctx))
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestPairingFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.registry.Connect(ctx, tenantA, hookOptions("http://a")))
	client := f.dialer.Last()

	qr := "2@challenge,noise,identity"
	client.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseConnecting, QR: &qr})
	client.EmitCredsUpdate(ctx, types.Creds{"me": map[string]interface{}{"id": "5511911111111:5@s.whatsapp.net"}, "registered": true})
	client.SetMe("5511911111111:5@s.whatsapp.net")
	client.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseOpen})

	deliveries := f.notifier.forTenant(tenantA)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "connecting", connectionField(t, deliveries[0]))
	data, err := json.Marshal(deliveries[0].Envelope.Data)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"qrDataUrl":"data:image/png;base64,`))
	assert.Equal(t, "open", connectionField(t, deliveries[1]))
	assert.Equal(t, "token", deliveries[1].Envelope.WebhookVerifyToken)

	ids, err := f.manager.ListSavedIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "http://a", ids[0].Metadata.WebhookURL)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("tenant")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
