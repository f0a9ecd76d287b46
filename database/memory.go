package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blnkfinance/openbank/internal/apierror"
	"github.com/blnkfinance/openbank/model"
)

// MemoryDataSource keeps everything in process. It backs sandbox runs and
// service tests and enforces the same uniqueness rules as the Postgres schema.
type MemoryDataSource struct {
	mu       sync.RWMutex
	consents map[string]model.Consent
	payments map[string]model.Payment
	keys     map[string]string
	codes    map[string]string
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		consents: map[string]model.Consent{},
		payments: map[string]model.Payment{},
		keys:     map[string]string{},
		codes:    map[string]string{},
	}
}

func (m *MemoryDataSource) CreateConsent(_ context.Context, consent *model.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consents[consent.ConsentID]; ok {
		return apierror.NewAPIError(apierror.ErrInvalidRequest, "consent already exists", nil)
	}
	m.consents[consent.ConsentID] = copyConsent(*consent)
	return nil
}

func (m *MemoryDataSource) GetConsentByID(_ context.Context, consentID string) (*model.Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.consents[consentID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "consent not found", nil)
	}
	c = copyConsent(c)
	return &c, nil
}

func (m *MemoryDataSource) UpdateConsentStatus(_ context.Context, consent *model.Consent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.consents[consent.ConsentID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "consent not found", nil)
	}
	stored.Status = consent.Status
	stored.ProviderConsentID = consent.ProviderConsentID
	stored.ExpiresAt = consent.ExpiresAt
	stored.RevokedAt = consent.RevokedAt
	stored.UpdatedAt = consent.UpdatedAt
	m.consents[consent.ConsentID] = stored
	return nil
}

func (m *MemoryDataSource) GetConsentsByStatus(_ context.Context, status model.ConsentStatus, limit int) ([]model.Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Consent
	for _, c := range m.consents {
		if c.Status == status {
			out = append(out, copyConsent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDataSource) CreatePayment(_ context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment.IdempotencyKey != "" {
		if _, ok := m.keys[payment.IdempotencyKey]; ok {
			return ErrDuplicateIdempotencyKey
		}
		m.keys[payment.IdempotencyKey] = payment.PaymentID
	}
	m.payments[payment.PaymentID] = *payment
	return nil
}

func (m *MemoryDataSource) GetPaymentByID(_ context.Context, paymentID string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
	}
	return &p, nil
}

func (m *MemoryDataSource) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	m.mu.RLock()
	id, ok := m.keys[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
	}
	return m.GetPaymentByID(ctx, id)
}

func (m *MemoryDataSource) GetPaymentByProviderPaymentID(_ context.Context, providerID, providerPaymentID string) (*model.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.ProviderID == providerID && p.ProviderPaymentID == providerPaymentID {
			return &p, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
}

func (m *MemoryDataSource) UpdatePayment(_ context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payments[payment.PaymentID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "payment not found", nil)
	}
	stored.ProviderPaymentID = payment.ProviderPaymentID
	stored.Status = payment.Status
	stored.FailureReason = payment.FailureReason
	stored.UpdatedAt = payment.UpdatedAt
	m.payments[payment.PaymentID] = stored
	return nil
}

func (m *MemoryDataSource) AuthorizationCodeUsed(_ context.Context, codeHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.codes[codeHash]
	return ok, nil
}

func (m *MemoryDataSource) RecordAuthorizationCode(_ context.Context, codeHash, consentID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[codeHash]; ok {
		return apierror.NewAPIError(apierror.ErrCodeAlreadyUsed, "authorization code has already been used", nil)
	}
	m.codes[codeHash] = consentID
	return nil
}

func copyConsent(c model.Consent) model.Consent {
	c.Permissions = append([]model.Permission(nil), c.Permissions...)
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		c.RevokedAt = &t
	}
	return c
}
