package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
)

type Environment string

const (
	Local      Environment = "local"
	Test       Environment = "test"
	Production Environment = "production"
)

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	return nil
}

// TicketStatus is the workflow state of an archive request ticket. Transitions
// are restricted to the table in models.CanTransition.
type TicketStatus string

const (
	TICKET_SUBMITTED TicketStatus = "submitted"
	TICKET_CONFIRMED TicketStatus = "confirmed"
	TICKET_ACCEPTED  TicketStatus = "accepted"
	TICKET_DENIED    TicketStatus = "denied"
	TICKET_DELETED   TicketStatus = "deleted"
)

type TicketRequestParams struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type TicketQueryFilters struct {
	Status string `form:"status" binding:"omitempty,ticketstatus"`
}

// ValidTicketStatus backs the "ticketstatus" binding tag.
func ValidTicketStatus(fl validator.FieldLevel) bool {
	switch TicketStatus(fl.Field().String()) {
	case TICKET_SUBMITTED, TICKET_CONFIRMED, TICKET_ACCEPTED, TICKET_DENIED, TICKET_DELETED:
		return true
	}
	return false
}

// DecisionEvent is the queue message shape consumed from the decision queue
// and the payload published on the decision topic.
type DecisionEvent struct {
	TicketID string `json:"id" binding:"required"`
	Action   string `json:"action" binding:"required,oneof=confirm accept deny"`
}

// Handler consumes one raw message body from a queue or topic.
type Handler func(body string)

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
