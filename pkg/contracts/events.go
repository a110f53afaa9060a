package contracts

import "time"

// EventKind categorizes a lifecycle notification.
type EventKind string

const (
	EventDeposited EventKind = "DEPOSITED"
	EventUpdated   EventKind = "UPDATED"
	EventQueued    EventKind = "QUEUED"
	EventExecuted  EventKind = "EXECUTED"
	EventCanceled  EventKind = "CANCELED"
	EventClaimed   EventKind = "CLAIMED"
)

// Event is a structured lifecycle notification. Events are emitted only
// after an operation has fully committed; a failed call emits nothing.
// Once appended to a journal an event is never mutated.
type Event struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id,omitempty"`
	Kind       EventKind `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`

	DepositID DepositID `json:"deposit_id,omitempty"`
	TxID      TxID      `json:"tx_id,omitempty"`

	// PrevDepositID is set on UPDATED events: the id the deposit carried
	// before the rewrite produced DepositID.
	PrevDepositID DepositID `json:"prev_deposit_id,omitempty"`

	// Payload fields; which are set depends on Kind.
	Target            Identity `json:"target,omitempty"`
	From              Identity `json:"from,omitempty"`
	Recipient         Identity `json:"recipient,omitempty"`
	Amount            int64    `json:"amount,omitempty"`
	FunctionSignature string   `json:"function_signature,omitempty"`
	ReleaseTimestamp  int64    `json:"release_timestamp,omitempty"`
}

// EventSink receives committed events. Implementations must not block the
// caller for long and must tolerate duplicate delivery on replay.
type EventSink interface {
	Emit(event Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Emit implements EventSink.
func (f SinkFunc) Emit(event Event) { f(event) }
