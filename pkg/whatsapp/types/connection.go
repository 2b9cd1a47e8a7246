package types

import "time"

// ConnectionPhase is the coarse state reported by the protocol client.
type ConnectionPhase string

const (
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseOpen         ConnectionPhase = "open"
	PhaseClosed       ConnectionPhase = "close"
	PhaseReconnecting ConnectionPhase = "reconnecting"
)

// DisconnectLoggedOut is the status code the client reports when the device
// was unlinked. Any other code is treated as transient.
const DisconnectLoggedOut = 401

// ConnectionUpdate is a partial connection state record. Nil pointer fields
// were absent from the update. QR distinguishes "absent" (nil) from
// "present but empty" (pointer to "").
type ConnectionUpdate struct {
	Connection                   ConnectionPhase `json:"connection,omitempty"`
	QR                           *string         `json:"qr,omitempty"`
	QRDataURL                    string          `json:"qrDataUrl,omitempty"`
	LastDisconnect               *Disconnect     `json:"lastDisconnect,omitempty"`
	IsNewLogin                   *bool           `json:"isNewLogin,omitempty"`
	IsOnline                     *bool           `json:"isOnline,omitempty"`
	ReceivedPendingNotifications *bool           `json:"receivedPendingNotifications,omitempty"`
}

type Disconnect struct {
	Error *DisconnectError `json:"error,omitempty"`
	Date  time.Time        `json:"date"`
}

type DisconnectError struct {
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// StatusCode returns the disconnect status code, or 0 when none was reported.
func (u *ConnectionUpdate) StatusCode() int {
	if u.LastDisconnect == nil || u.LastDisconnect.Error == nil {
		return 0
	}
	return u.LastDisconnect.Error.StatusCode
}

func (u *ConnectionUpdate) NewLogin() bool {
	return u.IsNewLogin != nil && *u.IsNewLogin
}

func (u *ConnectionUpdate) Online() bool {
	return u.IsOnline != nil && *u.IsOnline
}

// HasEmptyQR reports whether the qr field was sent with no value.
func (u *ConnectionUpdate) HasEmptyQR() bool {
	return u.QR != nil && *u.QR == ""
}

// Contact is the client's own resolved identity or a peer record.
type Contact struct {
	ID     string `json:"id"`
	LID    string `json:"lid,omitempty"`
	Name   string `json:"name,omitempty"`
	Notify string `json:"notify,omitempty"`
}

type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
	PresenceComposing   Presence = "composing"
	PresenceRecording   Presence = "recording"
	PresencePaused      Presence = "paused"
)

func (p Presence) Valid() bool {
	switch p {
	case PresenceAvailable, PresenceUnavailable, PresenceComposing, PresenceRecording, PresencePaused:
		return true
	}
	return false
}
