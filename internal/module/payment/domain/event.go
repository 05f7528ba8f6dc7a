package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is one entry in the append-only audit trail of a payment.
// Events are written alongside every state-changing operation and are never
// updated or deleted.
type PaymentEvent struct {
	id              uuid.UUID
	paymentID       uuid.UUID
	eventType       EventType
	status          Status
	provider        Provider
	providerEventID string
	data            string
	createdAt       time.Time
}

// NewPaymentEvent creates a new audit event. Status is the payment's
// canonical status after the operation was applied; data carries the raw
// payload that triggered it.
func NewPaymentEvent(paymentID uuid.UUID, eventType EventType, status Status, provider Provider, providerEventID, data string) *PaymentEvent {
	return &PaymentEvent{
		id:              uuid.New(),
		paymentID:       paymentID,
		eventType:       eventType,
		status:          status,
		provider:        provider,
		providerEventID: providerEventID,
		data:            data,
		createdAt:       time.Now(),
	}
}

// RestorePaymentEvent recreates a PaymentEvent from persisted data.
func RestorePaymentEvent(id, paymentID uuid.UUID, eventType EventType, status Status, provider Provider, providerEventID, data string, createdAt time.Time) *PaymentEvent {
	return &PaymentEvent{
		id:              id,
		paymentID:       paymentID,
		eventType:       eventType,
		status:          status,
		provider:        provider,
		providerEventID: providerEventID,
		data:            data,
		createdAt:       createdAt,
	}
}

func (e *PaymentEvent) ID() uuid.UUID           { return e.id }
func (e *PaymentEvent) PaymentID() uuid.UUID    { return e.paymentID }
func (e *PaymentEvent) EventType() EventType    { return e.eventType }
func (e *PaymentEvent) Status() Status          { return e.status }
func (e *PaymentEvent) Provider() Provider      { return e.provider }
func (e *PaymentEvent) ProviderEventID() string { return e.providerEventID }
func (e *PaymentEvent) Data() string            { return e.data }
func (e *PaymentEvent) CreatedAt() time.Time    { return e.createdAt }
