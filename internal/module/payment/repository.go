package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowpay/server/internal/module/payment/domain"
	"github.com/flowpay/server/internal/module/payment/entity"
	apperrors "github.com/flowpay/server/internal/shared/errors"
)

// ListFilter narrows payment listings.
type ListFilter struct {
	UserID          uuid.UUID
	Provider        domain.Provider
	Status          domain.Status
	OrderIDContains string
	Limit           int
	Offset          int
}

// Repository defines the interface for payment data access.
type Repository interface {
	// Payment operations
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	GetPaymentByProviderRef(ctx context.Context, provider domain.Provider, ref string) (*domain.Payment, error)
	UpdatePayment(ctx context.Context, payment *domain.Payment) error
	UpdatePaymentIf(ctx context.Context, payment *domain.Payment, expected domain.Status) (bool, error)
	ListPayments(ctx context.Context, filter ListFilter) ([]*domain.Payment, int64, error)

	// Audit trail operations
	AppendEvent(ctx context.Context, event *domain.PaymentEvent) error
	ListEvents(ctx context.Context, paymentID uuid.UUID) ([]*domain.PaymentEvent, error)
	EventSeen(ctx context.Context, provider domain.Provider, providerEventID string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// --- Payment Operations ---

func (r *repository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	ent := entity.FromDomainPayment(payment)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrDuplicateOrder
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).First(&ent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *repository) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).First(&ent, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by order id: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *repository) GetPaymentByProviderRef(ctx context.Context, provider domain.Provider, ref string) (*domain.Payment, error) {
	var ent entity.PaymentEntity
	err := r.db.WithContext(ctx).
		First(&ent, "provider = ? AND provider_ref = ?", string(provider), ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by provider ref: %w", err)
	}
	return ent.ToDomain(), nil
}

func (r *repository) UpdatePayment(ctx context.Context, payment *domain.Payment) error {
	ent := entity.FromDomainPayment(payment)
	if err := r.db.WithContext(ctx).Save(ent).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// UpdatePaymentIf persists the payment only if its stored status still
// matches expected. It returns false when a concurrent writer got there
// first; the caller re-reads and reconciles against the fresh row.
func (r *repository) UpdatePaymentIf(ctx context.Context, payment *domain.Payment, expected domain.Status) (bool, error) {
	ent := entity.FromDomainPayment(payment)
	res := r.db.WithContext(ctx).
		Model(&entity.PaymentEntity{}).
		Where("id = ? AND status = ?", ent.ID, string(expected)).
		Select("*").
		Omit("id", "created_at").
		Updates(ent)
	if res.Error != nil {
		return false, fmt.Errorf("conditional update payment: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPayments(ctx context.Context, filter ListFilter) ([]*domain.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.PaymentEntity{})
	if filter.UserID != uuid.Nil {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", string(filter.Provider))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.OrderIDContains != "" {
		query = query.Where("order_id ILIKE ?", "%"+filter.OrderIDContains+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var entities []*entity.PaymentEntity
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&entities).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	payments := make([]*domain.Payment, len(entities))
	for i, ent := range entities {
		payments[i] = ent.ToDomain()
	}
	return payments, total, nil
}

// --- Audit Trail Operations ---

func (r *repository) AppendEvent(ctx context.Context, event *domain.PaymentEvent) error {
	ent := entity.FromDomainPaymentEvent(event)
	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		return fmt.Errorf("append payment event: %w", err)
	}
	return nil
}

func (r *repository) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]*domain.PaymentEvent, error) {
	var entities []*entity.PaymentEventEntity
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}

	events := make([]*domain.PaymentEvent, len(entities))
	for i, ent := range entities {
		events[i] = ent.ToDomain()
	}
	return events, nil
}

func (r *repository) EventSeen(ctx context.Context, provider domain.Provider, providerEventID string) (bool, error) {
	if providerEventID == "" {
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.PaymentEventEntity{}).
		Where("provider = ? AND provider_event_id = ?", string(provider), providerEventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check event seen: %w", err)
	}
	return count > 0, nil
}
