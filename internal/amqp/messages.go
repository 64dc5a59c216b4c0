package amqp

import (
	"encoding/json"
	"time"

	"spendings/internal/expense"
)

// ExpensesChangedMessage announces that the collection changed. Consumers
// that need the data read it back through the HTTP API.
type ExpensesChangedMessage struct {
	Op        string    `json:"op"`
	Version   uint64    `json:"version"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpensesChangedMessage(c expense.Change) *ExpensesChangedMessage {
	return &ExpensesChangedMessage{
		Op:        string(c.Op),
		Version:   c.Version,
		Count:     c.Count,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpensesChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
