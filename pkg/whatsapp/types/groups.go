package types

import "time"

type GroupParticipant struct {
	ID    string `json:"id"`
	Admin string `json:"admin,omitempty"`
}

type GroupMetadata struct {
	ID           string             `json:"id"`
	Owner        string             `json:"owner,omitempty"`
	Subject      string             `json:"subject"`
	Desc         string             `json:"desc,omitempty"`
	Creation     int64              `json:"creation,omitempty"`
	Size         int                `json:"size,omitempty"`
	Announce     bool               `json:"announce,omitempty"`
	Restrict     bool               `json:"restrict,omitempty"`
	Participants []GroupParticipant `json:"participants"`
}

type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

func (a ParticipantAction) Valid() bool {
	switch a {
	case ParticipantAdd, ParticipantRemove, ParticipantPromote, ParticipantDemote:
		return true
	}
	return false
}

type ParticipantResult struct {
	Status string `json:"status"`
	JID    string `json:"jid"`
}

type OnWhatsAppResult struct {
	Exists bool   `json:"exists"`
	JID    string `json:"jid"`
}

// Status is the "about" text of a contact.
type Status struct {
	Status string    `json:"status"`
	SetAt  time.Time `json:"setAt"`
}
