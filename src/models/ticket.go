package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"arts/src/types"
)

// Credentials are the reviewer account generated for a ticket at ingest. They
// are included in the submitted/confirmed notifications and never updated.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Value() (driver.Value, error) {
	valueString, err := json.Marshal(c)
	return string(valueString), err
}
func (c *Credentials) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, c)
}

type Ticket struct {
	ID               string             `gorm:"primarykey" json:"id"`
	Status           types.TicketStatus `gorm:"default:'submitted'" json:"status"`
	Email            string             `json:"email"`
	Payload          *types.JSONB       `gorm:"type:jsonb" json:"payload"`
	ArchiveFile      string             `json:"archive_file,omitempty"`
	Credentials      *Credentials       `gorm:"type:jsonb" json:"-"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
	LastTransitionAt time.Time          `json:"last_transition_at"`
}

// transitions is the closed state graph. A status may only move forward;
// deleted is terminal and reachable from every state.
var transitions = map[types.TicketStatus][]types.TicketStatus{
	types.TICKET_SUBMITTED: {types.TICKET_CONFIRMED, types.TICKET_DELETED},
	types.TICKET_CONFIRMED: {types.TICKET_ACCEPTED, types.TICKET_DENIED, types.TICKET_DELETED},
	types.TICKET_ACCEPTED:  {types.TICKET_DELETED},
	types.TICKET_DENIED:    {types.TICKET_DELETED},
	types.TICKET_DELETED:   {},
}

func CanTransition(from, to types.TicketStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a ticket in this status only awaits purge.
func IsTerminal(s types.TicketStatus) bool {
	switch s {
	case types.TICKET_ACCEPTED, types.TICKET_DENIED, types.TICKET_DELETED:
		return true
	}
	return false
}
