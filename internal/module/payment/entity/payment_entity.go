package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/flowpay/server/internal/module/payment/domain"
)

// PaymentEntity is the GORM entity for Payment.
type PaymentEntity struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OrderID        string    `gorm:"uniqueIndex;not null"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index"`
	Amount         int64     `gorm:"not null"`
	Currency       string    `gorm:"not null"`
	Provider       string    `gorm:"not null;index"`
	Status         string    `gorm:"not null;default:pending;index"`
	ProviderRef    string    `gorm:"index"`
	PayURL         string
	FailureCode    *string
	FailureMessage *string
	RefundedAmount int64  `gorm:"default:0"`
	ProviderData   string `gorm:"type:jsonb;default:'{}'"`
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName returns the database table name.
func (PaymentEntity) TableName() string {
	return "payments"
}

// ToDomain converts entity to domain Payment.
func (e *PaymentEntity) ToDomain() *domain.Payment {
	var data domain.ProviderData
	if e.ProviderData != "" {
		// Corrupt documents are treated as empty rather than failing reads.
		_ = json.Unmarshal([]byte(e.ProviderData), &data)
	}
	return domain.RestorePayment(
		e.ID,
		e.OrderID,
		e.UserID,
		e.Amount,
		e.Currency,
		domain.Provider(e.Provider),
		domain.Status(e.Status),
		e.ProviderRef,
		e.PayURL,
		e.FailureCode,
		e.FailureMessage,
		e.RefundedAmount,
		data,
		e.PaidAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
}

// FromDomainPayment converts domain Payment to entity.
func FromDomainPayment(p *domain.Payment) *PaymentEntity {
	data, err := json.Marshal(p.ProviderData())
	if err != nil {
		data = []byte("{}")
	}
	return &PaymentEntity{
		ID:             p.ID(),
		OrderID:        p.OrderID(),
		UserID:         p.UserID(),
		Amount:         p.Amount(),
		Currency:       p.Currency(),
		Provider:       string(p.Provider()),
		Status:         string(p.Status()),
		ProviderRef:    p.ProviderRef(),
		PayURL:         p.PayURL(),
		FailureCode:    p.FailureCode(),
		FailureMessage: p.FailureMessage(),
		RefundedAmount: p.RefundedAmount(),
		ProviderData:   string(data),
		PaidAt:         p.PaidAt(),
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

// PaymentEventEntity is the GORM entity for PaymentEvent.
type PaymentEventEntity struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentID       uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType       string    `gorm:"not null"`
	Status          string    `gorm:"not null"`
	Provider        string    `gorm:"not null"`
	ProviderEventID string    `gorm:"index"`
	Data            string    `gorm:"type:jsonb"`
	CreatedAt       time.Time `gorm:"index"`
}

// TableName returns the database table name.
func (PaymentEventEntity) TableName() string {
	return "payment_events"
}

// ToDomain converts entity to domain PaymentEvent.
func (e *PaymentEventEntity) ToDomain() *domain.PaymentEvent {
	return domain.RestorePaymentEvent(
		e.ID,
		e.PaymentID,
		domain.EventType(e.EventType),
		domain.Status(e.Status),
		domain.Provider(e.Provider),
		e.ProviderEventID,
		e.Data,
		e.CreatedAt,
	)
}

// FromDomainPaymentEvent converts domain PaymentEvent to entity.
func FromDomainPaymentEvent(ev *domain.PaymentEvent) *PaymentEventEntity {
	return &PaymentEventEntity{
		ID:              ev.ID(),
		PaymentID:       ev.PaymentID(),
		EventType:       string(ev.EventType()),
		Status:          string(ev.Status()),
		Provider:        string(ev.Provider()),
		ProviderEventID: ev.ProviderEventID(),
		Data:            ev.Data(),
		CreatedAt:       ev.CreatedAt(),
	}
}
