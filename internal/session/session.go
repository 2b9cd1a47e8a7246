package session

import (
	"context"
	"strings"
	"sync"

	"wagateway/internal/authstore"
	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/media"
	"wagateway/internal/privacy"
	"wagateway/internal/webhook"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Options configure one tenant session.
type Options struct {
	ClientName         string
	WebhookURL         string
	WebhookVerifyToken string
	IncludeMedia       bool
	SyncFullHistory    bool
	// IsReconnect marks a session restored from stored credentials; the first
	// "connecting" update is then reported as reconnecting.
	IsReconnect       bool
	OnConnectionClose func()
}

func DefaultOptions() Options {
	return Options{
		ClientName:      pkgconstants.DefaultClientName,
		IncludeMedia:    pkgconstants.DefaultIncludeMedia,
		SyncFullHistory: pkgconstants.DefaultSyncFullHistory,
	}
}

// CredentialStore loads a tenant's credentials, creating them when absent.
type CredentialStore interface {
	Load(ctx context.Context, tenant string, meta authstore.Metadata, newCreds func() (types.Creds, error)) (*authstore.Store, error)
}

type MediaExtractor interface {
	Extract(ctx context.Context, dl media.Downloader, messages []*types.WebMessageInfo, includeMedia bool) media.Result
}

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Dialer      whatsapp.Dialer
	Credentials CredentialStore
	Notifier    webhook.Notifier
	// Media is optional; without it message batches are forwarded as-is.
	Media   MediaExtractor
	Version *whatsapp.Version
	Logger  *logrus.Logger
}

// Session owns one tenant's protocol client and reacts to its events.
type Session struct {
	tenant string
	deps   Deps
	logger *logrus.Entry

	mu            sync.Mutex
	opts          Options
	client        whatsapp.Client
	store         *authstore.Store
	dialing       bool
	reconnectFlag bool
}

func New(tenant string, opts Options, deps Deps) *Session {
	if opts.ClientName == "" {
		opts.ClientName = pkgconstants.DefaultClientName
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Session{
		tenant: tenant,
		deps:   deps,
		opts:   opts,
		logger: deps.Logger.WithFields(logrus.Fields{
			constants.LogFieldComponent: "session",
			constants.LogFieldTenant:    privacy.MaskPhoneNumber(tenant),
		}),
		reconnectFlag: opts.IsReconnect,
	}
}

func (s *Session) Tenant() string {
	return s.tenant
}

// Connected reports whether the session holds a client handle.
func (s *Session) Connected() bool {
	return s.currentClient() != nil
}

// UpdateOptions replaces the webhook and client settings. The close callback
// installed at creation is kept.
func (s *Session) UpdateOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.ClientName == "" {
		opts.ClientName = s.opts.ClientName
	}
	opts.OnConnectionClose = s.opts.OnConnectionClose
	opts.IsReconnect = s.opts.IsReconnect
	s.opts = opts
}

func (s *Session) options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *Session) currentClient() whatsapp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Connect loads credentials and opens a client. Connection progress is
// reported asynchronously through connection.update events.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil || s.dialing {
		s.mu.Unlock()
		return apperrors.NewAlreadyConnectedError(s.tenant)
	}
	s.dialing = true
	opts := s.opts
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	include, syncHistory := opts.IncludeMedia, opts.SyncFullHistory
	store, err := s.deps.Credentials.Load(ctx, s.tenant, authstore.Metadata{
		ClientName:         opts.ClientName,
		WebhookURL:         opts.WebhookURL,
		WebhookVerifyToken: opts.WebhookVerifyToken,
		IncludeMedia:       &include,
		SyncFullHistory:    &syncHistory,
	}, s.deps.Dialer.NewCreds)
	if err != nil {
		return err
	}

	// The client outlives the request that opened it.
	client, err := s.deps.Dialer.Dial(context.WithoutCancel(ctx), whatsapp.DialConfig{
		Auth:            store.State(),
		ClientName:      opts.ClientName,
		Version:         s.deps.Version,
		SyncFullHistory: opts.SyncFullHistory,
		Handlers:        s.handlers(store),
		Logger:          s.logger,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.store = store
	s.mu.Unlock()

	s.logger.Debug("Client opened")
	return nil
}

// Logout unlinks the device, then clears stored credentials and fires the
// close callback.
func (s *Session) Logout(ctx context.Context) error {
	client := s.currentClient()
	if client == nil {
		return apperrors.NewNotConnectedError(s.tenant)
	}
	if err := client.Logout(ctx); err != nil {
		return err
	}
	s.teardown(ctx)
	return nil
}

// teardown runs at most once per opened client.
func (s *Session) teardown(ctx context.Context) {
	s.mu.Lock()
	if s.client == nil && s.store == nil {
		s.mu.Unlock()
		return
	}
	store := s.store
	onClose := s.opts.OnConnectionClose
	s.client = nil
	s.store = nil
	s.mu.Unlock()

	if store != nil {
		if err := store.ClearAuthState(ctx); err != nil {
			apperrors.LogError(s.logger, err, "Failed to clear auth state")
		}
	}
	s.logger.Info("Session closed")
	if onClose != nil {
		onClose()
	}
}

func (s *Session) notify(event string, data interface{}, extra *webhook.Extra) {
	opts := s.options()
	s.deps.Notifier.Notify(webhook.Delivery{
		Tenant: s.tenant,
		URL:    opts.WebhookURL,
		Envelope: webhook.Envelope{
			Event:              event,
			Data:               data,
			WebhookVerifyToken: opts.WebhookVerifyToken,
			Extra:              extra,
		},
	})
}

// normalizePhone renders a tenant key or JID user part as +<digits>.
func normalizePhone(s string) string {
	return "+" + strings.TrimPrefix(s, "+")
}

// phoneFromJID extracts the number from "<number>[:<device>]@<server>".
func phoneFromJID(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return normalizePhone(user)
}
