package amqp

import (
	"encoding/json"
	"time"

	"unitledger/internal/core"
	"unitledger/internal/ledger"
)

// EventMessage is the wire form of a ledger change. Record carries the full
// expense so consumers need no access to the slot.
type EventMessage struct {
	Kind      ledger.EventKind   `json:"kind"`
	ExpenseID int64              `json:"expenseId"`
	Record    core.ExpenseRecord `json:"record"`
	At        time.Time          `json:"at"`
}

// NewEventMessage builds the message for e. Attachment payloads are left out.
func NewEventMessage(e ledger.Event) *EventMessage {
	r := e.Record
	r.Attachment = ""
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return &EventMessage{
		Kind:      e.Kind,
		ExpenseID: r.ID,
		Record:    r,
		At:        at,
	}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
