package whatsmeowdriver

import (
	"context"

	"wagateway/pkg/whatsapp/types"

	"go.mau.fi/whatsmeow/store"
)

// deviceContainer persists device identity in the shared device store and
// routes key material to the tenant's key store. The inner container
// rebinds a device's stores whenever it saves or loads one, so every save
// binds them back.
type deviceContainer struct {
	inner store.DeviceContainer
	keys  *keyStore
	// saved receives the device after every successful save.
	saved func(ctx context.Context, device *store.Device)
}

var _ store.DeviceContainer = (*deviceContainer)(nil)

func (c *deviceContainer) PutDevice(ctx context.Context, device *store.Device) error {
	if err := c.inner.PutDevice(ctx, device); err != nil {
		return err
	}
	c.bind(device)
	if c.saved != nil {
		c.saved(ctx, device)
	}
	return nil
}

func (c *deviceContainer) DeleteDevice(ctx context.Context, device *store.Device) error {
	return c.inner.DeleteDevice(ctx, device)
}

func (c *deviceContainer) bind(device *store.Device) {
	device.Identities = c.keys
	device.Sessions = c.keys
	device.PreKeys = c.keys
	device.SenderKeys = c.keys
	device.AppStateKeys = c.keys
	device.LIDs = c.keys
	device.Container = c
}

// deviceCreds is the credential update reported once a device is saved.
func deviceCreds(device *store.Device) types.Creds {
	creds := types.Creds{"registered": device.ID != nil}
	if device.ID != nil {
		me := map[string]interface{}{"id": device.ID.String()}
		if !device.LID.IsEmpty() {
			me["lid"] = device.LID.String()
		}
		if device.PushName != "" {
			me["name"] = device.PushName
		}
		creds["me"] = me
	}
	if device.Platform != "" {
		creds["platform"] = device.Platform
	}
	return creds
}

// deviceJID returns the paired device id recorded in creds, if any.
func deviceJID(creds types.Creds) (string, bool) {
	me, ok := creds["me"].(map[string]interface{})
	if !ok {
		return "", false
	}
	id, ok := me["id"].(string)
	return id, ok && id != ""
}
