package whatsmeowdriver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"wagateway/pkg/bufferjson"
	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	watypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/util/keys"
	"google.golang.org/protobuf/proto"
)

// Categories owned by this driver, next to the shared ones in types.
const (
	categoryIdentityKey       = "identity-key"
	categorySessionIndex      = "session-index"
	categoryIdentityIndex     = "identity-index"
	categoryPreKeyState       = "pre-key-state"
	categoryAppStateKeyLatest = "app-state-sync-key-latest"

	singletonID = "current"
	maxPreKeyID = 0xFFFFFF
)

// keyStore serves the client's signal key material out of the tenant's
// credential store.
type keyStore struct {
	keys whatsapp.KeyStore

	// Guards read-modify-write records (indexes, pre-key state).
	mu sync.Mutex
}

var (
	_ store.IdentityStore        = (*keyStore)(nil)
	_ store.SessionStore         = (*keyStore)(nil)
	_ store.PreKeyStore          = (*keyStore)(nil)
	_ store.SenderKeyStore       = (*keyStore)(nil)
	_ store.AppStateSyncKeyStore = (*keyStore)(nil)
	_ store.LIDStore             = (*keyStore)(nil)
)

func newKeyStore(keys whatsapp.KeyStore) *keyStore {
	return &keyStore{keys: keys}
}

// load decodes one record into target and reports whether it existed.
func (k *keyStore) load(ctx context.Context, category, id string, target interface{}) (bool, error) {
	values, err := k.keys.Get(ctx, category, []string{id})
	if err != nil {
		return false, err
	}
	value, ok := values[id]
	if !ok {
		return false, nil
	}
	if err := bufferjson.Decode(value, target); err != nil {
		return false, fmt.Errorf("decode %s-%s: %w", category, id, err)
	}
	return true, nil
}

// put writes one record; a nil value deletes it.
func (k *keyStore) put(ctx context.Context, category, id string, value interface{}) error {
	return k.keys.Set(ctx, types.KeyData{category: {id: value}})
}

func (k *keyStore) loadBytes(ctx context.Context, category, id string) ([]byte, error) {
	var buf bufferjson.Buffer
	found, err := k.load(ctx, category, id, &buf)
	if err != nil || !found {
		return nil, err
	}
	return buf, nil
}

// Address index. Signal addresses look like "<user>:<device>"; the index
// lists every address stored for one user so it can be dropped or moved.

func addressUser(address string) string {
	user, _, _ := strings.Cut(address, ":")
	return user
}

// signalUser is the address user of a JID: LIDs carry the "_1" agent suffix.
func signalUser(jid watypes.JID) string {
	if jid.Server == watypes.HiddenUserServer {
		return jid.User + "_1"
	}
	return jid.User
}

func (k *keyStore) indexed(ctx context.Context, index, user string) ([]string, error) {
	var addresses []string
	if _, err := k.load(ctx, index, user, &addresses); err != nil {
		return nil, err
	}
	return addresses, nil
}

func (k *keyStore) indexAdd(ctx context.Context, index string, addresses ...string) error {
	byUser := make(map[string][]string)
	for _, address := range addresses {
		user := addressUser(address)
		byUser[user] = append(byUser[user], address)
	}
	for user, added := range byUser {
		current, err := k.indexed(ctx, index, user)
		if err != nil {
			return err
		}
		merged := mergeAddresses(current, added...)
		if len(merged) == len(current) {
			continue
		}
		if err := k.put(ctx, index, user, merged); err != nil {
			return err
		}
	}
	return nil
}

func (k *keyStore) indexRemove(ctx context.Context, index, address string) error {
	user := addressUser(address)
	current, err := k.indexed(ctx, index, user)
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, a := range current {
		if a != address {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		return k.put(ctx, index, user, nil)
	}
	return k.put(ctx, index, user, kept)
}

func mergeAddresses(current []string, added ...string) []string {
	seen := make(map[string]bool, len(current)+len(added))
	out := make([]string, 0, len(current)+len(added))
	for _, a := range append(append([]string{}, current...), added...) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// Identities

func (k *keyStore) PutIdentity(ctx context.Context, address string, key [32]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.put(ctx, categoryIdentityKey, address, bufferjson.Buffer(key[:])); err != nil {
			return err
		}
		return k.indexAdd(ctx, categoryIdentityIndex, address)
	})
}

func (k *keyStore) DeleteAllIdentities(ctx context.Context, phone string) error {
	return k.dropUser(ctx, categoryIdentityKey, categoryIdentityIndex, phone)
}

func (k *keyStore) DeleteIdentity(ctx context.Context, address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.put(ctx, categoryIdentityKey, address, nil); err != nil {
			return err
		}
		return k.indexRemove(ctx, categoryIdentityIndex, address)
	})
}

// IsTrustedIdentity trusts unknown addresses and known ones whose key is unchanged.
func (k *keyStore) IsTrustedIdentity(ctx context.Context, address string, key [32]byte) (bool, error) {
	stored, err := k.loadBytes(ctx, categoryIdentityKey, address)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return true, nil
	}
	return bytes.Equal(stored, key[:]), nil
}

// Sessions

func (k *keyStore) GetSession(ctx context.Context, address string) ([]byte, error) {
	return k.loadBytes(ctx, types.CategorySession, address)
}

func (k *keyStore) HasSession(ctx context.Context, address string) (bool, error) {
	values, err := k.keys.Get(ctx, types.CategorySession, []string{address})
	if err != nil {
		return false, err
	}
	_, ok := values[address]
	return ok, nil
}

// GetManySessions returns an entry for every address, nil when absent.
func (k *keyStore) GetManySessions(ctx context.Context, addresses []string) (map[string][]byte, error) {
	values, err := k.keys.Get(ctx, types.CategorySession, addresses)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(addresses))
	for _, address := range addresses {
		value, ok := values[address]
		if !ok {
			out[address] = nil
			continue
		}
		var buf bufferjson.Buffer
		if err := bufferjson.Decode(value, &buf); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", address, err)
		}
		out[address] = buf
	}
	return out, nil
}

func (k *keyStore) PutSession(ctx context.Context, address string, session []byte) error {
	return k.PutManySessions(ctx, map[string][]byte{address: session})
}

func (k *keyStore) PutManySessions(ctx context.Context, sessions map[string][]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		entries := make(map[string]interface{}, len(sessions))
		addresses := make([]string, 0, len(sessions))
		for address, session := range sessions {
			entries[address] = bufferjson.Buffer(session)
			addresses = append(addresses, address)
		}
		if err := k.keys.Set(ctx, types.KeyData{types.CategorySession: entries}); err != nil {
			return err
		}
		return k.indexAdd(ctx, categorySessionIndex, addresses...)
	})
}

func (k *keyStore) DeleteAllSessions(ctx context.Context, phone string) error {
	return k.dropUser(ctx, types.CategorySession, categorySessionIndex, phone)
}

func (k *keyStore) DeleteSession(ctx context.Context, address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.put(ctx, types.CategorySession, address, nil); err != nil {
			return err
		}
		return k.indexRemove(ctx, categorySessionIndex, address)
	})
}

// MigratePNToLID moves sessions and identities of a phone number user over
// to its LID, keeping device numbers.
func (k *keyStore) MigratePNToLID(ctx context.Context, pn, lid watypes.JID) error {
	from, to := signalUser(pn), signalUser(lid)
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.moveUser(ctx, types.CategorySession, categorySessionIndex, from, to); err != nil {
			return err
		}
		return k.moveUser(ctx, categoryIdentityKey, categoryIdentityIndex, from, to)
	})
}

func (k *keyStore) moveUser(ctx context.Context, category, index, from, to string) error {
	addresses, err := k.indexed(ctx, index, from)
	if err != nil || len(addresses) == 0 {
		return err
	}
	values, err := k.keys.Get(ctx, category, addresses)
	if err != nil {
		return err
	}

	writes := make(map[string]interface{}, 2*len(addresses))
	moved := make([]string, 0, len(addresses))
	for _, address := range addresses {
		writes[address] = nil
		value, ok := values[address]
		if !ok {
			continue
		}
		_, device, _ := strings.Cut(address, ":")
		target := to + ":" + device
		writes[target] = value
		moved = append(moved, target)
	}
	if err := k.keys.Set(ctx, types.KeyData{category: writes}); err != nil {
		return err
	}
	if err := k.put(ctx, index, from, nil); err != nil {
		return err
	}
	return k.indexAdd(ctx, index, moved...)
}

func (k *keyStore) dropUser(ctx context.Context, category, index, user string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		addresses, err := k.indexed(ctx, index, user)
		if err != nil || len(addresses) == 0 {
			return err
		}
		deletes := make(map[string]interface{}, len(addresses))
		for _, address := range addresses {
			deletes[address] = nil
		}
		if err := k.keys.Set(ctx, types.KeyData{category: deletes}); err != nil {
			return err
		}
		return k.put(ctx, index, user, nil)
	})
}

// Pre-keys

type preKeyRecord struct {
	Private bufferjson.Buffer `json:"private"`
	Public  bufferjson.Buffer `json:"public"`
}

// preKeyState tracks id allocation and which keys the server holds.
type preKeyState struct {
	NextID   uint32   `json:"nextId"`
	Pending  []uint32 `json:"pending,omitempty"`
	Uploaded []uint32 `json:"uploaded,omitempty"`
}

func (s *preKeyState) allocate() uint32 {
	if s.NextID == 0 || s.NextID > maxPreKeyID {
		s.NextID = 1
	}
	id := s.NextID
	s.NextID++
	return id
}

func (k *keyStore) preKeyState(ctx context.Context) (*preKeyState, error) {
	var state preKeyState
	if _, err := k.load(ctx, categoryPreKeyState, singletonID, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (k *keyStore) storePreKey(ctx context.Context, key *keys.PreKey) error {
	return k.put(ctx, types.CategoryPreKey, strconv.FormatUint(uint64(key.KeyID), 10), preKeyRecord{
		Private: key.Priv[:],
		Public:  key.Pub[:],
	})
}

// GetOrGenPreKeys returns count keys not yet uploaded, generating the shortfall.
func (k *keyStore) GetOrGenPreKeys(ctx context.Context, count uint32) ([]*keys.PreKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var out []*keys.PreKey
	err := k.keys.Transaction(ctx, func(ctx context.Context) error {
		state, err := k.preKeyState(ctx)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, id := range state.Pending {
			if uint32(len(out)) == count {
				break
			}
			key, err := k.getPreKey(ctx, id)
			if err != nil {
				return err
			}
			if key != nil {
				out = append(out, key)
			}
		}
		for uint32(len(out)) < count {
			key := keys.NewPreKey(state.allocate())
			if err := k.storePreKey(ctx, key); err != nil {
				return err
			}
			state.Pending = append(state.Pending, key.KeyID)
			out = append(out, key)
		}
		return k.put(ctx, categoryPreKeyState, singletonID, state)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GenOnePreKey creates a key that counts as uploaded straight away.
func (k *keyStore) GenOnePreKey(ctx context.Context) (*keys.PreKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var key *keys.PreKey
	err := k.keys.Transaction(ctx, func(ctx context.Context) error {
		state, err := k.preKeyState(ctx)
		if err != nil {
			return err
		}
		key = keys.NewPreKey(state.allocate())
		if err := k.storePreKey(ctx, key); err != nil {
			return err
		}
		state.Uploaded = append(state.Uploaded, key.KeyID)
		return k.put(ctx, categoryPreKeyState, singletonID, state)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (k *keyStore) GetPreKey(ctx context.Context, id uint32) (*keys.PreKey, error) {
	return k.getPreKey(ctx, id)
}

func (k *keyStore) getPreKey(ctx context.Context, id uint32) (*keys.PreKey, error) {
	var record preKeyRecord
	found, err := k.load(ctx, types.CategoryPreKey, strconv.FormatUint(uint64(id), 10), &record)
	if err != nil || !found {
		return nil, err
	}
	if len(record.Private) != 32 {
		return nil, fmt.Errorf("pre-key %d: private key has %d bytes", id, len(record.Private))
	}
	var priv [32]byte
	copy(priv[:], record.Private)
	return &keys.PreKey{KeyPair: *keys.NewKeyPairFromPrivateKey(priv), KeyID: id}, nil
}

func (k *keyStore) RemovePreKey(ctx context.Context, id uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.put(ctx, types.CategoryPreKey, strconv.FormatUint(uint64(id), 10), nil); err != nil {
			return err
		}
		state, err := k.preKeyState(ctx)
		if err != nil {
			return err
		}
		state.Pending = withoutID(state.Pending, func(v uint32) bool { return v == id })
		state.Uploaded = withoutID(state.Uploaded, func(v uint32) bool { return v == id })
		return k.put(ctx, categoryPreKeyState, singletonID, state)
	})
}

func (k *keyStore) MarkPreKeysAsUploaded(ctx context.Context, upToID uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		state, err := k.preKeyState(ctx)
		if err != nil {
			return err
		}
		for _, id := range state.Pending {
			if id <= upToID {
				state.Uploaded = append(state.Uploaded, id)
			}
		}
		state.Pending = withoutID(state.Pending, func(v uint32) bool { return v <= upToID })
		return k.put(ctx, categoryPreKeyState, singletonID, state)
	})
}

func (k *keyStore) UploadedPreKeyCount(ctx context.Context) (int, error) {
	state, err := k.preKeyState(ctx)
	if err != nil {
		return 0, err
	}
	return len(state.Uploaded), nil
}

func withoutID(ids []uint32, drop func(uint32) bool) []uint32 {
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if !drop(id) {
			out = append(out, id)
		}
	}
	return out
}

// Sender keys

func senderKeyID(group, user string) string {
	return group + "::" + user
}

func (k *keyStore) PutSenderKey(ctx context.Context, group, user string, session []byte) error {
	return k.put(ctx, types.CategorySenderKey, senderKeyID(group, user), bufferjson.Buffer(session))
}

func (k *keyStore) GetSenderKey(ctx context.Context, group, user string) ([]byte, error) {
	return k.loadBytes(ctx, types.CategorySenderKey, senderKeyID(group, user))
}

// App state sync keys

type latestAppStateKey struct {
	ID        bufferjson.Buffer `json:"id"`
	Timestamp int64             `json:"timestamp"`
}

func appStateKeyID(id []byte) string {
	return base64.StdEncoding.EncodeToString(id)
}

func (k *keyStore) PutAppStateSyncKey(ctx context.Context, id []byte, key store.AppStateSyncKey) error {
	data := &types.AppStateSyncKeyData{KeyData: key.Data, Timestamp: key.Timestamp}
	if len(key.Fingerprint) > 0 {
		var fp waE2E.AppStateSyncKeyFingerprint
		if err := proto.Unmarshal(key.Fingerprint, &fp); err != nil {
			return fmt.Errorf("decode app state key fingerprint: %w", err)
		}
		data.Fingerprint = &types.AppStateSyncFingerprint{
			RawID:         fp.GetRawID(),
			CurrentIndex:  fp.GetCurrentIndex(),
			DeviceIndexes: fp.GetDeviceIndexes(),
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys.Transaction(ctx, func(ctx context.Context) error {
		if err := k.put(ctx, types.CategoryAppStateSyncKey, appStateKeyID(id), data); err != nil {
			return err
		}
		var latest latestAppStateKey
		found, err := k.load(ctx, categoryAppStateKeyLatest, singletonID, &latest)
		if err != nil {
			return err
		}
		if found && latest.Timestamp > key.Timestamp {
			return nil
		}
		return k.put(ctx, categoryAppStateKeyLatest, singletonID, latestAppStateKey{ID: id, Timestamp: key.Timestamp})
	})
}

func (k *keyStore) GetAppStateSyncKey(ctx context.Context, id []byte) (*store.AppStateSyncKey, error) {
	var data types.AppStateSyncKeyData
	found, err := k.load(ctx, types.CategoryAppStateSyncKey, appStateKeyID(id), &data)
	if err != nil || !found {
		return nil, err
	}
	key := &store.AppStateSyncKey{Data: data.KeyData, Timestamp: data.Timestamp}
	if data.Fingerprint != nil {
		fp, err := proto.Marshal(&waE2E.AppStateSyncKeyFingerprint{
			RawID:         proto.Uint32(data.Fingerprint.RawID),
			CurrentIndex:  proto.Uint32(data.Fingerprint.CurrentIndex),
			DeviceIndexes: data.Fingerprint.DeviceIndexes,
		})
		if err != nil {
			return nil, fmt.Errorf("encode app state key fingerprint: %w", err)
		}
		key.Fingerprint = fp
	}
	return key, nil
}

func (k *keyStore) GetLatestAppStateSyncKeyID(ctx context.Context) ([]byte, error) {
	var latest latestAppStateKey
	found, err := k.load(ctx, categoryAppStateKeyLatest, singletonID, &latest)
	if err != nil || !found {
		return nil, err
	}
	return latest.ID, nil
}

// LID mappings are stored as "<pn user>" -> lid user plus the reverse entry.

func reverseLIDID(lidUser string) string {
	return lidUser + "_reverse"
}

func (k *keyStore) PutLIDMapping(ctx context.Context, lid, pn watypes.JID) error {
	return k.PutManyLIDMappings(ctx, []store.LIDMapping{{LID: lid, PN: pn}})
}

func (k *keyStore) PutManyLIDMappings(ctx context.Context, mappings []store.LIDMapping) error {
	entries := make(map[string]interface{}, 2*len(mappings))
	for _, m := range mappings {
		if m.LID.IsEmpty() || m.PN.IsEmpty() {
			continue
		}
		entries[m.PN.User] = m.LID.User
		entries[reverseLIDID(m.LID.User)] = m.PN.User
	}
	if len(entries) == 0 {
		return nil
	}
	return k.keys.Set(ctx, types.KeyData{types.CategoryLIDMapping: entries})
}

func (k *keyStore) GetPNForLID(ctx context.Context, lid watypes.JID) (watypes.JID, error) {
	var user string
	found, err := k.load(ctx, types.CategoryLIDMapping, reverseLIDID(lid.User), &user)
	if err != nil || !found || user == "" {
		return watypes.EmptyJID, err
	}
	return watypes.NewJID(user, watypes.DefaultUserServer), nil
}

func (k *keyStore) GetLIDForPN(ctx context.Context, pn watypes.JID) (watypes.JID, error) {
	var user string
	found, err := k.load(ctx, types.CategoryLIDMapping, pn.User, &user)
	if err != nil || !found || user == "" {
		return watypes.EmptyJID, err
	}
	return watypes.NewJID(user, watypes.HiddenUserServer), nil
}

func (k *keyStore) GetManyLIDsForPNs(ctx context.Context, pns []watypes.JID) (map[watypes.JID]watypes.JID, error) {
	ids := make([]string, len(pns))
	for i, pn := range pns {
		ids[i] = pn.User
	}
	values, err := k.keys.Get(ctx, types.CategoryLIDMapping, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[watypes.JID]watypes.JID, len(values))
	for _, pn := range pns {
		if user, ok := values[pn.User].(string); ok && user != "" {
			out[pn] = watypes.NewJID(user, watypes.HiddenUserServer)
		}
	}
	return out, nil
}
