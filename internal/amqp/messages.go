package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"revdash/internal/core"
	"revdash/internal/invoices"
)

// InvoiceCreatedType is the message type and routing key of new-invoice events.
const InvoiceCreatedType = "invoice.created"

// InvoiceCreatedMessage announces a newly stored invoice. It carries the
// full invoice so consumers need no access to the producer's storage.
type InvoiceCreatedMessage struct {
	Type      string               `json:"type"`
	Invoice   invoices.InvoiceJSON `json:"invoice"`
	Timestamp time.Time            `json:"timestamp"`
}

func NewInvoiceCreatedMessage(inv core.Invoice) *InvoiceCreatedMessage {
	return &InvoiceCreatedMessage{
		Type:      InvoiceCreatedType,
		Invoice:   invoices.FromCore(inv),
		Timestamp: time.Now(),
	}
}

func (m *InvoiceCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvoiceCreatedMessageFromJSON decodes and sanity-checks a message body.
func InvoiceCreatedMessageFromJSON(data []byte) (*InvoiceCreatedMessage, error) {
	var msg InvoiceCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type != InvoiceCreatedType {
		return nil, errors.New("unexpected message type: " + msg.Type)
	}
	if msg.Invoice.ID <= 0 {
		return nil, errors.New("invoice message without id")
	}
	return &msg, nil
}
