package types

import "wagateway/pkg/bufferjson"

// Creds is the decoded singleton credential document of one tenant.
type Creds map[string]interface{}

// Key categories stored as "<category>-<id>" hash fields.
const (
	CategoryPreKey              = "pre-key"
	CategorySession             = "session"
	CategorySenderKey           = "sender-key"
	CategorySenderKeyMemory     = "sender-key-memory"
	CategoryAppStateSyncKey     = "app-state-sync-key"
	CategoryAppStateSyncVersion = "app-state-sync-version"
	CategoryLIDMapping          = "lid-mapping"
	CategoryDeviceList          = "device-list"
	CategoryTCToken             = "tctoken"
)

// KeyData maps category -> id -> value. A nil value means "delete".
type KeyData map[string]map[string]interface{}

// AppStateSyncKeyData is the typed wrapper the client expects for
// app-state-sync-key entries.
type AppStateSyncKeyData struct {
	KeyData     bufferjson.Buffer        `json:"keyData,omitempty"`
	Fingerprint *AppStateSyncFingerprint `json:"fingerprint,omitempty"`
	Timestamp   int64                    `json:"timestamp,omitempty"`
}

type AppStateSyncFingerprint struct {
	RawID         uint32   `json:"rawId,omitempty"`
	CurrentIndex  uint32   `json:"currentIndex,omitempty"`
	DeviceIndexes []uint32 `json:"deviceIndexes,omitempty"`
}

// NewAppStateSyncKeyData builds the typed wrapper from a decoded document.
func NewAppStateSyncKeyData(doc interface{}) (*AppStateSyncKeyData, error) {
	var data AppStateSyncKeyData
	if err := bufferjson.Decode(doc, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
