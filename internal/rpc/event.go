// Package rpc delivers server bound events. Changes to infractions are pushed to every game server as
// broadcasts, and commands such as kicks are targeted at a single server and waited on until consumed.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gofrs/uuid/v5"
)

var (
	ErrNotFound     = errors.New("event not found")
	ErrAckTimeout   = errors.New("timed out waiting for acknowledgment")
	ErrInvalidEvent = errors.New("invalid event")
)

type EventType string

const (
	EventPlayerUpdated EventType = "player_updated"
	EventPlayerKick    EventType = "player_kick"
)

func (t EventType) Valid() bool {
	return t == EventPlayerUpdated || t == EventPlayerKick
}

type TargetType string

const (
	TargetPlayer TargetType = "player"
	TargetIP     TargetType = "ip"
)

// Event is a unit of work for game servers. Events without a Target are broadcasts, delivered once to
// every server and tracked through AcknowledgedBy.
type Event struct {
	EventID        uuid.UUID       `json:"event_id"`
	CreatedAt      time.Time       `json:"time"`
	Target         *uuid.UUID      `json:"-"`
	AcknowledgedBy []uuid.UUID     `json:"-"`
	Type           EventType       `json:"event"`
	Payload        json.RawMessage `json:"payload"`
}

func NewEvent(target *uuid.UUID, eventType EventType, payload any, now time.Time) (Event, error) {
	if !eventType.Valid() {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, eventType)
	}

	body, errBody := json.Marshal(payload)
	if errBody != nil {
		return Event{}, errors.Join(errBody, ErrInvalidEvent)
	}

	return Event{
		EventID:        uuid.Must(uuid.NewV4()),
		CreatedAt:      now,
		Target:         target,
		AcknowledgedBy: []uuid.UUID{},
		Type:           eventType,
		Payload:        body,
	}, nil
}

func (e Event) Broadcast() bool {
	return e.Target == nil
}

func (e Event) TargetedAt(serverID uuid.UUID) bool {
	return e.Target != nil && *e.Target == serverID
}

func (e Event) AcknowledgedByServer(serverID uuid.UUID) bool {
	return slices.Contains(e.AcknowledgedBy, serverID)
}

// Decode unmarshals the payload into receiver.
func (e Event) Decode(receiver any) error {
	if err := json.Unmarshal(e.Payload, receiver); err != nil {
		return errors.Join(err, ErrInvalidEvent)
	}

	return nil
}

// Player is a game service identity without an address.
type Player struct {
	Service string `json:"gs_service"`
	UserID  string `json:"gs_id"`
}

// PlayerUpdated carries the restrictions a server must enforce for a player or ip, as seen by ServerID.
// Local only includes infractions issued on that server.
type PlayerUpdated struct {
	TargetType TargetType              `json:"target_type"`
	Player     *Player                 `json:"player,omitempty"`
	IP         string                  `json:"ip,omitempty"`
	ServerID   uuid.UUID               `json:"server_id"`
	Local      infraction.CheckSummary `json:"local"`
	Global     infraction.CheckSummary `json:"global"`
}

type PlayerKick struct {
	Player *Player `json:"player,omitempty"`
	IP     string  `json:"ip,omitempty"`
}

func (k PlayerKick) Validate() error {
	if k.Player == nil && k.IP == "" {
		return fmt.Errorf("%w: a player or an ip is required", ErrInvalidEvent)
	}

	if k.Player != nil && (k.Player.Service == "" || k.Player.UserID == "") {
		return fmt.Errorf("%w: gs_service and gs_id must be provided together", ErrInvalidEvent)
	}

	return nil
}
