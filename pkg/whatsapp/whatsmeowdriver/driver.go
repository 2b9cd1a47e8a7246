// Package whatsmeowdriver registers the "whatsmeow" protocol driver. Device
// identity lives in a local sqlite device store; signal keys, sessions and
// app state keys live in each tenant's credential store.
package whatsmeowdriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	watypes "go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

const DriverName = "whatsmeow"

var errNotConfigured = errors.New("whatsmeow driver used before Configure")

func init() {
	whatsapp.Register(DriverName, New())
}

// devices is the device-store surface the dialer needs.
type devices interface {
	store.DeviceContainer
	NewDevice() *store.Device
	GetDevice(ctx context.Context, jid watypes.JID) (*store.Device, error)
}

// Dialer opens whatsmeow clients for tenants.
type Dialer struct {
	mu      sync.Mutex
	devices devices
	closer  func() error

	// Device properties are process-global in whatsmeow; connects hold
	// this lock until the handshake has read them.
	propsMu        sync.Mutex
	defaultVersion store.WAVersionContainer
}

var (
	_ whatsapp.Dialer     = (*Dialer)(nil)
	_ whatsapp.Configurer = (*Dialer)(nil)
)

func New() *Dialer {
	return &Dialer{defaultVersion: store.GetWAVersion()}
}

// Configure opens the device store at settings.StorePath. Later calls are no-ops.
func (d *Dialer) Configure(ctx context.Context, settings whatsapp.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.devices != nil {
		return nil
	}
	if settings.StorePath == "" {
		return fmt.Errorf("device store path is required")
	}

	logger := settings.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", settings.StorePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newLogger(logger.WithField("module", "device-store")))
	if err != nil {
		return fmt.Errorf("open device store %s: %w", settings.StorePath, err)
	}

	d.devices = container
	d.closer = container.Close
	logger.WithField("path", settings.StorePath).Info("Device store ready")
	return nil
}

func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closer == nil {
		return nil
	}
	err := d.closer()
	d.devices, d.closer = nil, nil
	return err
}

func (d *Dialer) deviceStore() (devices, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.devices == nil {
		return nil, errNotConfigured
	}
	return d.devices, nil
}

// NewCreds mints the credentials of an unpaired tenant. Key material is
// generated by the device store on first dial.
func (d *Dialer) NewCreds() (types.Creds, error) {
	return types.Creds{"registered": false}, nil
}

// loadDevice returns the paired device recorded in creds, or a fresh one.
func loadDevice(ctx context.Context, devs devices, creds types.Creds) (*store.Device, error) {
	if id, ok := deviceJID(creds); ok {
		jid, err := watypes.ParseJID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid device id %q in credentials: %w", id, err)
		}
		device, err := devs.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		if device != nil {
			return device, nil
		}
	}
	return devs.NewDevice(), nil
}

func (d *Dialer) Dial(ctx context.Context, cfg whatsapp.DialConfig) (whatsapp.Client, error) {
	devs, err := d.deviceStore()
	if err != nil {
		return nil, err
	}
	if cfg.Auth == nil || cfg.Auth.Keys == nil {
		return nil, fmt.Errorf("dial requires an auth state")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	device, err := loadDevice(ctx, devs, cfg.Auth.Creds)
	if err != nil {
		return nil, err
	}

	client := &Client{
		events: whatsapp.NewEventTable(cfg.Handlers),
		logger: logger,
		ctx:    ctx,
	}
	container := &deviceContainer{
		inner: devs,
		keys:  newKeyStore(cfg.Auth.Keys),
		saved: func(ctx context.Context, device *store.Device) {
			client.events.EmitCredsUpdate(ctx, deviceCreds(device))
		},
	}
	container.bind(device)

	cli := whatsmeow.NewClient(device, newLogger(logger.WithField("module", "whatsmeow")))
	cli.EnableAutoReconnect = false
	cli.AutoTrustIdentity = true
	client.cli = cli
	client.handlerID = cli.AddEventHandler(client.handleEvent)

	if device.ID == nil {
		qr, err := cli.GetQRChannel(ctx)
		if err != nil {
			cli.RemoveEventHandler(client.handlerID)
			return nil, fmt.Errorf("open pairing channel: %w", err)
		}
		go client.watchQR(qr)
	}

	client.events.EmitConnectionUpdate(ctx, &types.ConnectionUpdate{Connection: types.PhaseConnecting})
	if err := d.connect(cli, cfg); err != nil {
		cli.RemoveEventHandler(client.handlerID)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return client, nil
}

func (d *Dialer) connect(cli *whatsmeow.Client, cfg whatsapp.DialConfig) error {
	d.propsMu.Lock()
	defer d.propsMu.Unlock()

	if cfg.ClientName != "" {
		store.DeviceProps.Os = proto.String(cfg.ClientName)
	}
	store.DeviceProps.RequireFullSync = proto.Bool(cfg.SyncFullHistory)
	version := d.defaultVersion
	if cfg.Version != nil {
		version = store.WAVersionContainer{uint32(cfg.Version[0]), uint32(cfg.Version[1]), uint32(cfg.Version[2])}
	}
	store.SetWAVersion(version)

	return cli.Connect()
}
