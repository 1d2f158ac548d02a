package service

import (
	"context"
	"time"

	"github.com/grigta/hotspot/services/billing-service/internal/models"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockVoucherRepository is a mock implementation of VoucherRepository
type MockVoucherRepository struct {
	mock.Mock
}

func (m *MockVoucherRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Voucher, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) List(ctx context.Context, filter models.VoucherFilter) ([]*models.Voucher, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.Voucher), args.Get(1).(int64), args.Error(2)
}

func (m *MockVoucherRepository) FindExpiryCandidates(ctx context.Context, reason models.ExpiryReason, now time.Time) ([]*models.Voucher, error) {
	args := m.Called(ctx, reason, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) Expire(ctx context.Context, id primitive.ObjectID, reason models.ExpiryReason, now time.Time) (bool, error) {
	args := m.Called(ctx, id, reason, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockVoucherRepository) FindPayableByReference(ctx context.Context, reference string) (*models.Voucher, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) FindPaidByReference(ctx context.Context, reference string) (*models.Voucher, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Voucher), args.Error(1)
}

func (m *MockVoucherRepository) ApplyPayment(ctx context.Context, id primitive.ObjectID, update models.PaymentUpdate, now time.Time) (bool, error) {
	args := m.Called(ctx, id, update, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockVoucherRepository) Cancel(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

// MockRouterRepository is a mock implementation of RouterRepository
type MockRouterRepository struct {
	mock.Mock
}

func (m *MockRouterRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Router, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Router), args.Error(1)
}

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.BillingAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillingAccount), args.Error(1)
}

// MockSystemConfigRepository is a mock implementation of SystemConfigRepository
type MockSystemConfigRepository struct {
	mock.Mock
}

func (m *MockSystemConfigRepository) GetCommissionRates(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

// MockTransactionRepository is a mock implementation of TransactionRepository
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Record(ctx context.Context, tx *models.Transaction) (bool, error) {
	args := m.Called(ctx, tx)
	return args.Bool(0), args.Error(1)
}

func (m *MockTransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

// MockAuditLogRepository is a mock implementation of AuditLogRepository
type MockAuditLogRepository struct {
	mock.Mock
}

func (m *MockAuditLogRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockWebhookLogRepository records every entry so tests can assert on the
// logged outcome.
type MockWebhookLogRepository struct {
	mock.Mock
	Entries []*models.WebhookLog
}

func (m *MockWebhookLogRepository) Append(ctx context.Context, entry *models.WebhookLog) error {
	m.Entries = append(m.Entries, entry)
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockWebhookLogRepository) Statuses() []models.WebhookStatus {
	statuses := make([]models.WebhookStatus, 0, len(m.Entries))
	for _, e := range m.Entries {
		statuses = append(statuses, e.Status)
	}
	return statuses
}

// MockRemover is a mock implementation of HotspotUserRemover
type MockRemover struct {
	mock.Mock
}

func (m *MockRemover) RemoveHotspotUser(ctx context.Context, router *models.Router, username string) (bool, error) {
	args := m.Called(ctx, router, username)
	return args.Bool(0), args.Error(1)
}

// MockPublisher is a mock implementation of messaging.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(eventType string, data interface{}) error {
	args := m.Called(eventType, data)
	return args.Error(0)
}

// MockRateCache is a mock implementation of RateCache
type MockRateCache struct {
	mock.Mock
}

func (m *MockRateCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	if rates, ok := args.Get(0).(map[string]float64); ok {
		*(dest.(*map[string]float64)) = rates
		return nil
	}
	return args.Error(1)
}

func (m *MockRateCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

// MockSweeper is a mock implementation of Sweeper
type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Run(ctx context.Context) (*SweepResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SweepResult), args.Error(1)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func floatPtr(f float64) *float64 {
	return &f
}
