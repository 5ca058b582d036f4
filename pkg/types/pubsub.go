package types

import (
	"time"
)

// ConsumedMessage is a broker message handed to change feed workers.
type ConsumedMessage struct {
	PublishMessage

	Attributes map[string]string

	Ack func()
	// Nack is a function to call to signal that processing has failed and the
	// message should be redelivered.
	Nack func()
}

type PublishMessage struct {
	// ID is the unique identifier for the message from the source broker.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
}
