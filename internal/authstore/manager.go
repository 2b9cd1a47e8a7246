package authstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"wagateway/internal/constants"
	apperrors "wagateway/internal/errors"
	"wagateway/internal/privacy"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

type Options struct {
	KeyPrefix        string
	MaxCommitRetries int
	CommitRetryDelay time.Duration
	// Sealer enables at-rest encryption when non-nil.
	Sealer *Sealer
}

func DefaultOptions() Options {
	return Options{
		KeyPrefix:        pkgconstants.DefaultKeyPrefix,
		MaxCommitRetries: pkgconstants.DefaultMaxCommitRetries,
		CommitRetryDelay: pkgconstants.DefaultCommitRetryDelayMs * time.Millisecond,
	}
}

// Metadata is the session configuration stored next to the credentials so
// sessions can be restored after a restart.
type Metadata struct {
	ClientName         string `json:"clientName"`
	WebhookURL         string `json:"webhookUrl"`
	WebhookVerifyToken string `json:"webhookVerifyToken"`
	IncludeMedia       *bool  `json:"includeMedia,omitempty"`
	SyncFullHistory    *bool  `json:"syncFullHistory,omitempty"`
}

type SavedIdentity struct {
	Tenant   string
	Metadata Metadata
}

// Manager opens per-tenant stores over one backend.
type Manager struct {
	backend Backend
	codec   codec
	opts    Options
	logger  *logrus.Logger
}

func NewManager(backend Backend, opts Options, logger *logrus.Logger) *Manager {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = pkgconstants.DefaultKeyPrefix
	}
	if opts.MaxCommitRetries < 1 {
		opts.MaxCommitRetries = pkgconstants.DefaultMaxCommitRetries
	}
	return &Manager{
		backend: backend,
		codec:   codec{sealer: opts.Sealer},
		opts:    opts,
		logger:  logger,
	}
}

// Key returns the hash key holding a tenant's record.
func (m *Manager) Key(tenant string) string {
	return m.opts.KeyPrefix + ":" + tenant + ":" + pkgconstants.AuthStateSuffix
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}

// Load reads the tenant's credentials, minting fresh ones with newCreds when
// none are stored, and records meta alongside them.
func (m *Manager) Load(ctx context.Context, tenant string, meta Metadata, newCreds func() (types.Creds, error)) (*Store, error) {
	key := m.Key(tenant)
	logger := m.logger.WithFields(logrus.Fields{
		constants.LogFieldComponent: "authstore",
		constants.LogFieldTenant:    privacy.MaskPhoneNumber(tenant),
	})

	creds, err := m.readCreds(ctx, key)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		if creds, err = newCreds(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to initialize credentials")
		}
		logger.Debug("No stored credentials, initialized fresh ones")
	}

	encodedMeta, err := m.codec.encode(meta)
	if err != nil {
		return nil, apperrors.NewStoreError("encode metadata", err)
	}
	if err := m.backend.HSet(ctx, key, pkgconstants.MetadataField, encodedMeta); err != nil {
		return nil, apperrors.NewStoreError("write metadata", err)
	}

	return &Store{
		backend: m.backend,
		codec:   m.codec,
		key:     key,
		opts:    m.opts,
		logger:  logger,
		creds:   creds,
	}, nil
}

func (m *Manager) readCreds(ctx context.Context, key string) (types.Creds, error) {
	raw, ok, err := m.backend.HGet(ctx, key, pkgconstants.CredsField)
	if err != nil {
		return nil, apperrors.NewStoreError("read creds", err)
	}
	if !ok {
		return nil, nil
	}
	doc, err := m.codec.decode(raw)
	if err != nil {
		return nil, apperrors.NewStoreError("decode creds", err)
	}
	creds, ok := doc.(map[string]interface{})
	if !ok {
		return nil, apperrors.NewStoreError("decode creds", errUnexpectedDocument(doc))
	}
	return types.Creds(creds), nil
}

// ListSavedIdentities returns every tenant with readable, non-null metadata,
// sorted by tenant key.
func (m *Manager) ListSavedIdentities(ctx context.Context) ([]SavedIdentity, error) {
	suffix := ":" + pkgconstants.AuthStateSuffix
	keys, err := m.backend.Keys(ctx, m.opts.KeyPrefix+":*"+suffix)
	if err != nil {
		return nil, apperrors.NewStoreError("enumerate tenants", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raw, err := m.backend.HGetEach(ctx, keys, pkgconstants.MetadataField)
	if err != nil {
		return nil, apperrors.NewStoreError("read metadata", err)
	}

	identities := make([]SavedIdentity, 0, len(raw))
	for _, key := range keys {
		stored, ok := raw[key]
		if !ok {
			continue
		}
		tenant := strings.TrimSuffix(strings.TrimPrefix(key, m.opts.KeyPrefix+":"), suffix)

		var meta *Metadata
		if err := m.codec.decodeInto(stored, &meta); err != nil {
			m.logger.WithError(err).WithField(constants.LogFieldTenant, privacy.MaskPhoneNumber(tenant)).
				Debug("Skipping tenant with unreadable metadata")
			continue
		}
		if meta == nil {
			continue
		}
		identities = append(identities, SavedIdentity{Tenant: tenant, Metadata: *meta})
	}

	sort.Slice(identities, func(i, j int) bool { return identities[i].Tenant < identities[j].Tenant })
	return identities, nil
}

func (m *Manager) Close() error {
	return m.backend.Close()
}
