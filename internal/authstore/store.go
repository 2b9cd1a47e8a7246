package authstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "wagateway/internal/errors"
	"wagateway/internal/metrics"
	"wagateway/internal/retry"
	"wagateway/internal/tracing"
	pkgconstants "wagateway/pkg/constants"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

// Store is one tenant's credential record. It implements whatsapp.KeyStore.
type Store struct {
	backend Backend
	codec   codec
	key     string
	opts    Options
	logger  *logrus.Entry

	credsMu sync.Mutex
	creds   types.Creds

	// serializes outermost transactions
	txLock sync.Mutex
}

var _ whatsapp.KeyStore = (*Store)(nil)

// State returns the auth state handed to the client at dial time.
func (s *Store) State() *whatsapp.AuthState {
	return &whatsapp.AuthState{Creds: s.Creds(), Keys: s}
}

// Creds returns a shallow copy of the in-memory credentials.
func (s *Store) Creds() types.Creds {
	s.credsMu.Lock()
	defer s.credsMu.Unlock()
	out := make(types.Creds, len(s.creds))
	for k, v := range s.creds {
		out[k] = v
	}
	return out
}

// SaveCreds overwrites the stored credential blob with the in-memory value.
func (s *Store) SaveCreds(ctx context.Context) error {
	encoded, err := s.codec.encode(map[string]interface{}(s.Creds()))
	if err != nil {
		return apperrors.NewStoreError("encode creds", err)
	}
	if err := s.backend.HSet(ctx, s.key, pkgconstants.CredsField, encoded); err != nil {
		return apperrors.NewStoreError("save creds", err)
	}
	return nil
}

// MergeCreds applies a partial credential update and persists the result.
func (s *Store) MergeCreds(ctx context.Context, update types.Creds) error {
	s.credsMu.Lock()
	for k, v := range update {
		s.creds[k] = v
	}
	s.credsMu.Unlock()
	return s.SaveCreds(ctx)
}

// ClearAuthState deletes everything stored for the tenant.
func (s *Store) ClearAuthState(ctx context.Context) error {
	return s.Clear(ctx)
}

func (s *Store) Get(ctx context.Context, category string, ids []string) (map[string]interface{}, error) {
	tx := txFrom(ctx, s)
	if tx == nil {
		return s.fetch(ctx, category, ids)
	}

	cached, missing := tx.lookup(category, ids)
	if len(missing) > 0 {
		fetched, err := s.fetch(ctx, category, missing)
		if err != nil {
			return nil, err
		}
		for _, id := range missing {
			cached[id] = tx.fill(fieldName(category, id), fetched[id])
		}
	}

	out := make(map[string]interface{}, len(cached))
	for id, v := range cached {
		if v != nil {
			out[id] = v
		}
	}
	return out, nil
}

// fetch reads ids straight from the backend, returning only present values.
func (s *Store) fetch(ctx context.Context, category string, ids []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = fieldName(category, id)
	}
	raw, err := s.backend.HMGet(ctx, s.key, fields...)
	if err != nil {
		return nil, apperrors.NewStoreError("read keys", err)
	}

	for i, id := range ids {
		stored, ok := raw[fields[i]]
		if !ok {
			continue
		}
		value, err := s.decodeValue(category, stored)
		if err != nil {
			return nil, apperrors.NewStoreError("decode key", err).WithContext("field", fields[i])
		}
		out[id] = value
	}
	return out, nil
}

func (s *Store) decodeValue(category, stored string) (interface{}, error) {
	doc, err := s.codec.decode(stored)
	if err != nil {
		return nil, err
	}
	if category == types.CategoryAppStateSyncKey && doc != nil {
		return types.NewAppStateSyncKeyData(doc)
	}
	return doc, nil
}

func (s *Store) Set(ctx context.Context, data types.KeyData) error {
	if tx := txFrom(ctx, s); tx != nil {
		tx.stage(data)
		return nil
	}

	pending := make(map[string]interface{})
	for category, entries := range data {
		for id, value := range entries {
			pending[fieldName(category, id)] = value
		}
	}
	mutations, err := s.mutations(pending)
	if err != nil {
		return err
	}
	if err := s.backend.Apply(ctx, s.key, mutations); err != nil {
		return apperrors.NewStoreError("write keys", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	tx := txFrom(ctx, s)
	if tx == nil {
		if err := s.backend.Del(ctx, s.key); err != nil {
			return apperrors.NewStoreError("clear", err)
		}
		return nil
	}

	fields, err := s.backend.HKeys(ctx, s.key)
	if err != nil {
		return apperrors.NewStoreError("list keys", err)
	}
	known := fields[:0]
	for _, f := range fields {
		if f != pkgconstants.CredsField && f != pkgconstants.MetadataField {
			known = append(known, f)
		}
	}
	tx.clear(known)
	return nil
}

func (s *Store) InTransaction(ctx context.Context) bool {
	return txFrom(ctx, s) != nil
}

// Transaction runs work with a shared cache and deferred writes. Nested
// calls join the enclosing transaction; only the outermost one commits.
// Outermost transactions on the same store run one at a time.
func (s *Store) Transaction(ctx context.Context, work func(ctx context.Context) error) error {
	if tx := txFrom(ctx, s); tx != nil {
		tx.enter()
		defer tx.exit()
		return work(ctx)
	}

	s.txLock.Lock()
	defer s.txLock.Unlock()

	tx := newTxContext()
	tx.enter()
	defer tx.exit()

	if err := work(withTx(ctx, s, tx)); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *Store) commit(ctx context.Context, tx *txContext) error {
	pending := tx.pending()
	if len(pending) == 0 {
		return nil
	}
	mutations, err := s.mutations(pending)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, "authstore.commit", tracing.AttrCount.Int(len(mutations)))
	defer span.End()

	backoff := retry.NewBackoff(retry.FixedConfig(s.opts.CommitRetryDelay, s.opts.MaxCommitRetries))
	backoff.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.IncrementCounter(metrics.AuthStoreCommitRetries, nil)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": s.opts.MaxCommitRetries,
			"delay_ms":    delay.Milliseconds(),
		}).Warn("Credential commit failed, retrying")
	}

	start := time.Now()
	attempts := 0
	err = backoff.Retry(ctx, func(attempt int) error {
		attempts = attempt
		return s.backend.Apply(ctx, s.key, mutations)
	})
	metrics.RecordTimer(metrics.AuthStoreCommitDuration, time.Since(start), nil)
	span.SetAttributes(tracing.AttrAttempts.Int(attempts))

	if err != nil {
		metrics.IncrementCounter(metrics.AuthStoreCommitFailures, nil)
		commitErr := apperrors.NewCommitError(attempts, err)
		tracing.RecordError(ctx, commitErr)
		apperrors.LogError(s.logger, commitErr, "Credential commit failed")
		return commitErr
	}
	metrics.IncrementCounter(metrics.AuthStoreCommits, nil)
	return nil
}

// mutations encodes pending values in field order; nil values become deletes.
func (s *Store) mutations(pending map[string]interface{}) ([]Mutation, error) {
	fields := make([]string, 0, len(pending))
	for f := range pending {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]Mutation, 0, len(fields))
	for _, f := range fields {
		value := pending[f]
		if isNil(value) {
			out = append(out, Mutation{Field: f, Delete: true})
			continue
		}
		encoded, err := s.codec.encode(value)
		if err != nil {
			return nil, apperrors.NewStoreError("encode key", err).WithContext("field", f)
		}
		out = append(out, Mutation{Field: f, Value: encoded})
	}
	return out, nil
}

func fieldName(category, id string) string {
	return category + "-" + id
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func errUnexpectedDocument(doc interface{}) error {
	return fmt.Errorf("expected object, got %s", strings.TrimPrefix(fmt.Sprintf("%T", doc), "*"))
}
