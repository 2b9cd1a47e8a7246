package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"wagateway/internal/authstore"
	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/metrics"
	"wagateway/internal/privacy"
	"wagateway/internal/session"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// IdentityLister enumerates tenants with persisted credentials.
type IdentityLister interface {
	ListSavedIdentities(ctx context.Context) ([]authstore.SavedIdentity, error)
}

// Config controls registry-wide behavior.
type Config struct {
	// ReconnectConcurrency bounds parallel reconnects at startup; 0 means unbounded.
	ReconnectConcurrency int
	// Defaults fill options missing from stored metadata on reconnect.
	Defaults session.Options
}

// Registry maps tenant keys to live sessions.
type Registry struct {
	deps       session.Deps
	identities IdentityLister
	cfg        Config
	logger     *logrus.Entry

	mu       sync.RWMutex
	sessions map[string]*session.Session
	locks    *keyedMutex
}

func New(deps session.Deps, identities IdentityLister, cfg Config) *Registry {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.Defaults.ClientName == "" {
		cfg.Defaults.ClientName = pkgconstants.DefaultClientName
	}
	return &Registry{
		deps:       deps,
		identities: identities,
		cfg:        cfg,
		logger:     deps.Logger.WithField(constants.LogFieldComponent, "registry"),
		sessions:   make(map[string]*session.Session),
		locks:      newKeyedMutex(),
	}
}

// Connect opens a session for tenant. An already tracked session gets the
// new options and a presence probe instead; if the probe finds it has no
// client the entry is replaced.
func (r *Registry) Connect(ctx context.Context, tenant string, opts session.Options) error {
	unlock := r.locks.Lock(tenant)
	defer unlock()

	if existing := r.lookup(tenant); existing != nil {
		existing.UpdateOptions(opts)
		err := existing.SendPresenceUpdate(ctx, types.PresenceAvailable, "")
		if !apperrors.HasCode(err, apperrors.ErrCodeNotConnected) {
			return err
		}
		r.logger.WithField(constants.LogFieldTenant, privacy.MaskPhoneNumber(tenant)).
			Debug("Replacing stale session")
		r.evict(tenant, existing)
	}

	s := r.newSession(tenant, opts)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	r.track(tenant, s)
	return nil
}

// ReconnectFromAuthStore restores a session for every tenant with stored
// credentials. Failures are independent; they are logged and returned joined.
func (r *Registry) ReconnectFromAuthStore(ctx context.Context) error {
	identities, err := r.identities.ListSavedIdentities(ctx)
	if err != nil {
		return err
	}
	if len(identities) == 0 {
		r.logger.Info("No saved connections to reconnect")
		return nil
	}
	r.logger.Infof("Reconnecting %d connections", len(identities))

	limit := r.cfg.ReconnectConcurrency
	if limit <= 0 {
		limit = -1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, id := range identities {
		g.Go(func() error {
			if err := r.reconnect(ctx, id); err != nil {
				apperrors.LogError(r.logger, err, "Failed to reconnect", logrus.Fields{
					constants.LogFieldTenant: privacy.MaskPhoneNumber(id.Tenant),
				})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Registry) reconnect(ctx context.Context, id authstore.SavedIdentity) error {
	unlock := r.locks.Lock(id.Tenant)
	defer unlock()

	if r.lookup(id.Tenant) != nil {
		return nil
	}

	opts := r.optionsFromMetadata(id.Metadata)
	opts.IsReconnect = true
	s := r.newSession(id.Tenant, opts)
	r.track(id.Tenant, s)
	if err := s.Connect(ctx); err != nil {
		r.evict(id.Tenant, s)
		return err
	}
	return nil
}

func (r *Registry) optionsFromMetadata(meta authstore.Metadata) session.Options {
	opts := r.cfg.Defaults
	opts.IsReconnect = false
	if meta.ClientName != "" {
		opts.ClientName = meta.ClientName
	}
	opts.WebhookURL = meta.WebhookURL
	opts.WebhookVerifyToken = meta.WebhookVerifyToken
	if meta.IncludeMedia != nil {
		opts.IncludeMedia = *meta.IncludeMedia
	}
	if meta.SyncFullHistory != nil {
		opts.SyncFullHistory = *meta.SyncFullHistory
	}
	return opts
}

// newSession wires a close callback that evicts exactly this session before
// running the caller's own callback.
func (r *Registry) newSession(tenant string, opts session.Options) *session.Session {
	userClose := opts.OnConnectionClose
	var s *session.Session
	opts.OnConnectionClose = func() {
		r.evict(tenant, s)
		if userClose != nil {
			userClose()
		}
	}
	if opts.ClientName == "" {
		opts.ClientName = r.cfg.Defaults.ClientName
	}
	s = session.New(tenant, opts, r.deps)
	return s
}

func (r *Registry) lookup(tenant string) *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[tenant]
}

// Session returns the tracked session for tenant or NOT_CONNECTED.
func (r *Registry) Session(tenant string) (*session.Session, error) {
	if s := r.lookup(tenant); s != nil {
		return s, nil
	}
	return nil, apperrors.NewNotConnectedError(tenant)
}

func (r *Registry) track(tenant string, s *session.Session) {
	r.mu.Lock()
	r.sessions[tenant] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.reportCount(n)
}

// evict removes tenant only while it still maps to s.
func (r *Registry) evict(tenant string, s *session.Session) {
	r.mu.Lock()
	current, ok := r.sessions[tenant]
	if !ok || current != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, tenant)
	n := len(r.sessions)
	r.mu.Unlock()
	r.reportCount(n)
}

func (r *Registry) reportCount(n int) {
	metrics.SetGauge(metrics.SessionsTracked, float64(n), nil)
	r.logger.WithField(constants.LogFieldCount, n).Infof("Now tracking %d connections", n)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Tenants returns the tracked tenant keys in sorted order.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	tenants := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		tenants = append(tenants, t)
	}
	r.mu.RUnlock()
	sort.Strings(tenants)
	return tenants
}

// Logout unlinks tenant and stops tracking it.
func (r *Registry) Logout(ctx context.Context, tenant string) error {
	unlock := r.locks.Lock(tenant)
	defer unlock()

	s, err := r.Session(tenant)
	if err != nil {
		return err
	}
	if err := s.Logout(ctx); err != nil {
		return err
	}
	r.evict(tenant, s)
	return nil
}

// LogoutAll logs out every tracked session concurrently and then clears the
// registry regardless of individual outcomes.
func (r *Registry) LogoutAll(ctx context.Context) error {
	r.mu.RLock()
	snapshot := make(map[string]*session.Session, len(r.sessions))
	for t, s := range r.sessions {
		snapshot[t] = s
	}
	r.mu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for tenant, s := range snapshot {
		g.Go(func() error {
			if err := s.Logout(ctx); err != nil {
				apperrors.LogError(r.logger, err, "Failed to log out", logrus.Fields{
					constants.LogFieldTenant: privacy.MaskPhoneNumber(tenant),
				})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()
	r.reportCount(0)

	return errors.Join(errs...)
}

// DefaultOptions returns the options used for connects that omit them.
func (r *Registry) DefaultOptions() session.Options {
	opts := r.cfg.Defaults
	opts.IsReconnect = false
	opts.OnConnectionClose = nil
	return opts
}
