package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/openbank/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) CreateConsent(ctx context.Context, consent *model.Consent) error {
	args := m.Called(ctx, consent)
	return args.Error(0)
}

func (m *MockDataSource) GetConsentByID(ctx context.Context, consentID string) (*model.Consent, error) {
	args := m.Called(ctx, consentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Consent), args.Error(1)
}

func (m *MockDataSource) UpdateConsentStatus(ctx context.Context, consent *model.Consent) error {
	args := m.Called(ctx, consent)
	return args.Error(0)
}

func (m *MockDataSource) GetConsentsByStatus(ctx context.Context, status model.ConsentStatus, limit int) ([]model.Consent, error) {
	args := m.Called(ctx, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Consent), args.Error(1)
}

func (m *MockDataSource) CreatePayment(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockDataSource) GetPaymentByID(ctx context.Context, paymentID string) (*model.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockDataSource) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockDataSource) GetPaymentByProviderPaymentID(ctx context.Context, providerID, providerPaymentID string) (*model.Payment, error) {
	args := m.Called(ctx, providerID, providerPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Payment), args.Error(1)
}

func (m *MockDataSource) UpdatePayment(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockDataSource) AuthorizationCodeUsed(ctx context.Context, codeHash string) (bool, error) {
	args := m.Called(ctx, codeHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) RecordAuthorizationCode(ctx context.Context, codeHash, consentID string, usedAt time.Time) error {
	args := m.Called(ctx, codeHash, consentID, usedAt)
	return args.Error(0)
}
