// Package whatsapptest provides a scriptable in-memory Dialer and Client for
// tests. Outbound calls are testify mocks; events are driven through the
// embedded EventTable.
package whatsapptest

import (
	"context"
	"io"
	"sync"

	"wagateway/pkg/whatsapp"
	"wagateway/pkg/whatsapp/types"

	"github.com/stretchr/testify/mock"
)

type Dialer struct {
	// OnDial lets a test set expectations on each new client before it is returned.
	OnDial  func(cfg whatsapp.DialConfig, c *Client)
	DialErr error

	mu      sync.Mutex
	clients []*Client
	minted  int
}

func NewDialer() *Dialer {
	return &Dialer{}
}

func (d *Dialer) NewCreds() (types.Creds, error) {
	d.mu.Lock()
	d.minted++
	d.mu.Unlock()
	return types.Creds{
		"registrationId": 1234,
		"noiseKey": map[string]interface{}{
			"private": []byte{1, 2, 3},
			"public":  []byte{4, 5, 6},
		},
		"registered": false,
	}, nil
}

func (d *Dialer) Dial(ctx context.Context, cfg whatsapp.DialConfig) (whatsapp.Client, error) {
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := &Client{
		EventTable: whatsapp.NewEventTable(cfg.Handlers),
		Config:     cfg,
		DialCtx:    ctx,
	}
	if d.OnDial != nil {
		d.OnDial(cfg, c)
	}
	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	return c, nil
}

// Dials returns how many clients were opened.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// CredsMinted returns how many fresh credential sets were created.
func (d *Dialer) CredsMinted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minted
}

func (d *Dialer) Client(i int) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

func (d *Dialer) Last() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

type Client struct {
	mock.Mock
	*whatsapp.EventTable
	Config whatsapp.DialConfig
	// DialCtx is the context the client was dialed with.
	DialCtx context.Context

	meMu sync.Mutex
	me   *types.Contact
}

// SetMe sets the resolved identity returned by Me.
func (c *Client) SetMe(jid string) {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	if jid == "" {
		c.me = nil
		return
	}
	c.me = &types.Contact{ID: jid}
}

func (c *Client) Me() *types.Contact {
	c.meMu.Lock()
	defer c.meMu.Unlock()
	return c.me
}

func (c *Client) Logout(ctx context.Context) error {
	return c.Called(ctx).Error(0)
}

func (c *Client) SendMessage(ctx context.Context, jid string, content types.MessageContent, opts *types.SendOptions) (*types.WebMessageInfo, error) {
	args := c.Called(ctx, jid, content, opts)
	if info := args.Get(0); info != nil {
		return info.(*types.WebMessageInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (c *Client) SendPresenceUpdate(ctx context.Context, presence types.Presence, jid string) error {
	return c.Called(ctx, presence, jid).Error(0)
}

func (c *Client) ReadMessages(ctx context.Context, keys []types.MessageKey) error {
	return c.Called(ctx, keys).Error(0)
}

func (c *Client) ChatModify(ctx context.Context, mod types.ChatModification, jid string) error {
	return c.Called(ctx, mod, jid).Error(0)
}

func (c *Client) FetchMessageHistory(ctx context.Context, count int, oldestKey types.MessageKey, oldestTimestamp int64) (string, error) {
	args := c.Called(ctx, count, oldestKey, oldestTimestamp)
	return args.String(0), args.Error(1)
}

func (c *Client) SendReceipts(ctx context.Context, keys []types.MessageKey, receiptType types.ReceiptType) error {
	return c.Called(ctx, keys, receiptType).Error(0)
}

func (c *Client) ProfilePictureURL(ctx context.Context, jid string, highRes bool) (string, error) {
	args := c.Called(ctx, jid, highRes)
	return args.String(0), args.Error(1)
}

func (c *Client) OnWhatsApp(ctx context.Context, jids ...string) ([]types.OnWhatsAppResult, error) {
	args := c.Called(ctx, jids)
	if res := args.Get(0); res != nil {
		return res.([]types.OnWhatsAppResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (c *Client) FetchStatus(ctx context.Context, jid string) (*types.Status, error) {
	args := c.Called(ctx, jid)
	if res := args.Get(0); res != nil {
		return res.(*types.Status), args.Error(1)
	}
	return nil, args.Error(1)
}

func (c *Client) GroupMetadata(ctx context.Context, jid string) (*types.GroupMetadata, error) {
	args := c.Called(ctx, jid)
	if res := args.Get(0); res != nil {
		return res.(*types.GroupMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

func (c *Client) GroupParticipantsUpdate(ctx context.Context, jid string, participants []string, action types.ParticipantAction) ([]types.ParticipantResult, error) {
	args := c.Called(ctx, jid, participants, action)
	if res := args.Get(0); res != nil {
		return res.([]types.ParticipantResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (c *Client) GroupUpdateSubject(ctx context.Context, jid, subject string) error {
	return c.Called(ctx, jid, subject).Error(0)
}

func (c *Client) GroupUpdateDescription(ctx context.Context, jid, description string) error {
	return c.Called(ctx, jid, description).Error(0)
}

func (c *Client) DownloadMedia(ctx context.Context, media *types.MediaMessage, kind types.MediaKind) (io.ReadCloser, error) {
	args := c.Called(ctx, media, kind)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ whatsapp.Client = (*Client)(nil)
