package mocks

import (
	"context"

	"github.com/blnkfinance/openbank/gateway"
	"github.com/blnkfinance/openbank/model"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a testify mock of gateway.Gateway.
type MockGateway struct {
	mock.Mock
	Provider string
}

func (m *MockGateway) ID() string {
	if m.Provider == "" {
		return "mock"
	}
	return m.Provider
}

func (m *MockGateway) CreateConsent(ctx context.Context, req gateway.ConsentRequest) (*gateway.ConsentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ConsentResponse), args.Error(1)
}

func (m *MockGateway) GetConsent(ctx context.Context, providerConsentID string) (*gateway.ConsentResponse, error) {
	args := m.Called(ctx, providerConsentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ConsentResponse), args.Error(1)
}

func (m *MockGateway) ExchangeToken(ctx context.Context, req gateway.TokenRequest) (*gateway.TokenResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.TokenResponse), args.Error(1)
}

func (m *MockGateway) ListAccounts(ctx context.Context, accessToken string) ([]model.Account, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *MockGateway) CreatePayment(ctx context.Context, accessToken string, instruction gateway.PaymentInstruction) (*gateway.PaymentResponse, error) {
	args := m.Called(ctx, accessToken, instruction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentResponse), args.Error(1)
}

func (m *MockGateway) GetPaymentStatus(ctx context.Context, accessToken, providerPaymentID string) (*gateway.PaymentResponse, error) {
	args := m.Called(ctx, accessToken, providerPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentResponse), args.Error(1)
}
