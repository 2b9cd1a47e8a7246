package webhook

import "wagateway/pkg/whatsapp"

// Event names carried in the envelope's "event" field.
const (
	EventConnectionUpdate = string(whatsapp.EventConnectionUpdate)
	EventMessagesUpsert   = string(whatsapp.EventMessagesUpsert)
	EventMessagesUpdate   = string(whatsapp.EventMessagesUpdate)
	EventReceiptUpdate    = string(whatsapp.EventMessageReceiptUpdate)
	EventHistorySet       = string(whatsapp.EventMessagingHistorySet)
)

// ErrorWrongPhoneNumber is sent when the paired account does not match the tenant.
const ErrorWrongPhoneNumber = "wrong_phone_number"

// Envelope is the JSON body POSTed to a tenant's webhook.
type Envelope struct {
	Event              string      `json:"event"`
	Data               interface{} `json:"data"`
	WebhookVerifyToken string      `json:"webhookVerifyToken"`
	Extra              *Extra      `json:"extra,omitempty"`
}

// Extra carries media pulled out of a message batch.
type Extra struct {
	Media       map[string]string `json:"media,omitempty"`
	MediaErrors []string          `json:"mediaErrors,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Error string `json:"error"`
}

// Delivery addresses one envelope to one tenant's webhook.
type Delivery struct {
	Tenant   string
	URL      string
	Envelope Envelope
}

// Notifier accepts envelopes for best-effort delivery.
type Notifier interface {
	Notify(delivery Delivery)
}

// Tap observes every envelope, delivered or not.
type Tap interface {
	Publish(tenant string, env Envelope)
}
