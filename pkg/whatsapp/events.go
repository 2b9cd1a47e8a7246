package whatsapp

import (
	"context"
	"sync"

	"wagateway/pkg/whatsapp/types"
)

type EventKind string

const (
	EventCredsUpdate          EventKind = "creds.update"
	EventConnectionUpdate     EventKind = "connection.update"
	EventMessagesUpsert       EventKind = "messages.upsert"
	EventMessagesUpdate       EventKind = "messages.update"
	EventMessageReceiptUpdate EventKind = "message-receipt.update"
	EventMessagingHistorySet  EventKind = "messaging-history.set"
)

// Handlers is the fixed set of callbacks a session registers at dial time.
type Handlers struct {
	CredsUpdate          func(ctx context.Context, update types.Creds)
	ConnectionUpdate     func(ctx context.Context, update *types.ConnectionUpdate)
	MessagesUpsert       func(ctx context.Context, upsert *types.MessagesUpsert)
	MessagesUpdate       func(ctx context.Context, updates []types.MessageUpdate)
	MessageReceiptUpdate func(ctx context.Context, updates []types.MessageReceiptUpdate)
	MessagingHistorySet  func(ctx context.Context, history *types.HistorySet)
}

// EventTable dispatches client events to registered handlers, synchronously
// and in call order. Client implementations embed one per connection.
type EventTable struct {
	mu       sync.RWMutex
	handlers Handlers
	muted    map[EventKind]bool
}

func NewEventTable(h Handlers) *EventTable {
	return &EventTable{handlers: h, muted: make(map[EventKind]bool)}
}

func (t *EventTable) Unsubscribe(kind EventKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted[kind] = true
}

func (t *EventTable) active(kind EventKind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.muted[kind]
}

func (t *EventTable) EmitCredsUpdate(ctx context.Context, update types.Creds) {
	if t.handlers.CredsUpdate != nil && t.active(EventCredsUpdate) {
		t.handlers.CredsUpdate(ctx, update)
	}
}

func (t *EventTable) EmitConnectionUpdate(ctx context.Context, update *types.ConnectionUpdate) {
	if t.handlers.ConnectionUpdate != nil && t.active(EventConnectionUpdate) {
		t.handlers.ConnectionUpdate(ctx, update)
	}
}

func (t *EventTable) EmitMessagesUpsert(ctx context.Context, upsert *types.MessagesUpsert) {
	if t.handlers.MessagesUpsert != nil && t.active(EventMessagesUpsert) {
		t.handlers.MessagesUpsert(ctx, upsert)
	}
}

func (t *EventTable) EmitMessagesUpdate(ctx context.Context, updates []types.MessageUpdate) {
	if t.handlers.MessagesUpdate != nil && t.active(EventMessagesUpdate) {
		t.handlers.MessagesUpdate(ctx, updates)
	}
}

func (t *EventTable) EmitMessageReceiptUpdate(ctx context.Context, updates []types.MessageReceiptUpdate) {
	if t.handlers.MessageReceiptUpdate != nil && t.active(EventMessageReceiptUpdate) {
		t.handlers.MessageReceiptUpdate(ctx, updates)
	}
}

func (t *EventTable) EmitMessagingHistorySet(ctx context.Context, history *types.HistorySet) {
	if t.handlers.MessagingHistorySet != nil && t.active(EventMessagingHistorySet) {
		t.handlers.MessagingHistorySet(ctx, history)
	}
}
