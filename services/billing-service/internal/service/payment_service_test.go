package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PaymentServiceTestSuite struct {
	suite.Suite
	ctx          context.Context
	now          time.Time
	vouchers     *MockVoucherRepository
	routers      *MockRouterRepository
	accounts     *MockAccountRepository
	sysConfig    *MockSystemConfigRepository
	transactions *MockTransactionRepository
	audit        *MockAuditLogRepository
	webhookLogs  *MockWebhookLogRepository
	publisher    *MockPublisher
	metrics      *Metrics
	service      *PaymentService
	owner        *models.BillingAccount
}

func (s *PaymentServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s.vouchers = new(MockVoucherRepository)
	s.routers = new(MockRouterRepository)
	s.accounts = new(MockAccountRepository)
	s.sysConfig = new(MockSystemConfigRepository)
	s.transactions = new(MockTransactionRepository)
	s.audit = new(MockAuditLogRepository)
	s.webhookLogs = new(MockWebhookLogRepository)
	s.publisher = new(MockPublisher)
	s.metrics = NewMetrics(prometheus.NewRegistry())

	commission := NewCommissionResolver(s.accounts, s.sysConfig, nil, time.Minute, 20, logger.Discard())

	s.service = NewPaymentService(
		s.vouchers,
		s.routers,
		s.accounts,
		s.transactions,
		s.audit,
		s.webhookLogs,
		commission,
		NewEventPublisher(s.publisher, logger.Discard()),
		nil,
		s.metrics,
		PaymentConfig{AmountTolerance: 0.01, Currency: "KES"},
		logger.Discard(),
	)
	s.service.now = func() time.Time { return s.now }

	s.owner = &models.BillingAccount{ID: primitive.NewObjectID(), BusinessType: "cafe"}

	s.webhookLogs.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.audit.On("Append", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.transactions.On("Record", mock.Anything, mock.Anything).Return(true, nil).Maybe()
	s.publisher.On("PublishEvent", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func (s *PaymentServiceTestSuite) TearDownTest() {
	s.vouchers.AssertExpectations(s.T())
	s.accounts.AssertExpectations(s.T())
}

func (s *PaymentServiceTestSuite) voucher(reference string, price float64) *models.Voucher {
	return &models.Voucher{
		ID:        primitive.NewObjectID(),
		RouterID:  primitive.NewObjectID(),
		UserID:    s.owner.ID,
		Code:      "HS-" + reference,
		Password:  "secret",
		Reference: reference,
		Status:    models.VoucherStatusActive,
		VoucherInfo: models.VoucherInfo{
			PackageType: "hourly",
			Price:       price,
			Currency:    "KES",
		},
	}
}

func payload(transID string, amount float64, reference string) models.MpesaConfirmation {
	return models.MpesaConfirmation{
		TransID:       transID,
		TransAmount:   decimal.NewNullDecimal(decimal.NewFromFloat(amount)),
		BillRefNumber: reference,
		MSISDN:        "254712345678",
	}
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_ExampleScenario() {
	v := s.voucher("VCH001", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH001").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()

	var committed models.PaymentUpdate
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.AnythingOfType("models.PaymentUpdate"), s.now).
		Run(func(args mock.Arguments) { committed = args.Get(2).(models.PaymentUpdate) }).
		Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA1", 100, "VCH001"))

	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Equal("Accepted", result.Response.ResultDesc)
	s.Equal(models.WebhookSuccess, result.Status)

	s.Equal("MPESA1", committed.Payment.TransactionID)
	s.Equal(100.0, committed.Payment.Amount)
	s.Equal(20.0, committed.Payment.Commission)
	s.Equal("254712345678", committed.Payment.PhoneNumber)
	s.Equal(models.PaymentMethodMpesa, committed.Payment.Method)
	s.Nil(committed.PurchaseExpiresAt)

	s.transactions.AssertCalled(s.T(), "Record", s.ctx, mock.MatchedBy(func(tx *models.Transaction) bool {
		return tx.TransactionID == "MPESA1" && tx.NetAmount == 80 && tx.Commission == 20 && tx.Currency == "KES"
	}))
	s.audit.AssertCalled(s.T(), "Append", s.ctx, mock.MatchedBy(func(e *models.AuditLog) bool {
		return e.Action == models.AuditVoucherPaid && e.ResourceID == v.ID
	}))
	s.publisher.AssertCalled(s.T(), "PublishEvent", EventVoucherPaid, mock.Anything)
	s.Equal([]models.WebhookStatus{models.WebhookSuccess}, s.webhookLogs.Statuses())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.paymentsTotal.WithLabelValues("mpesa")))
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_DuplicateIsAcceptedNoop() {
	v := s.voucher("VCH001", 100)
	v.Status = models.VoucherStatusPaid
	v.Payment = &models.VoucherPayment{TransactionID: "MPESA1", Amount: 100, Commission: 20}
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH001").Return(nil, database.ErrNotFound).Once()
	s.vouchers.On("FindPaidByReference", s.ctx, "VCH001").Return(v, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA1", 100, "VCH001"))

	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Equal(models.WebhookDuplicate, result.Status)
	s.Equal(v.ID.Hex(), result.VoucherID)
	s.vouchers.AssertNotCalled(s.T(), "ApplyPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.transactions.AssertNotCalled(s.T(), "Record", mock.Anything, mock.Anything)
	s.Equal([]models.WebhookStatus{models.WebhookDuplicate}, s.webhookLogs.Statuses())
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_ResentPayloadIsAccepted() {
	v := s.voucher("VCH001", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH001").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()

	var committed models.PaymentUpdate
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.AnythingOfType("models.PaymentUpdate"), s.now).
		Run(func(args mock.Arguments) { committed = args.Get(2).(models.PaymentUpdate) }).
		Return(true, nil).Once()

	first := s.service.ProcessConfirmation(s.ctx, payload("MPESA1", 100, "VCH001"))
	s.Equal(models.ResultAccepted, first.Response.ResultCode)
	s.Equal(models.WebhookSuccess, first.Status)

	paid := *v
	paid.Status = models.VoucherStatusPaid
	paid.Payment = &committed.Payment
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH001").Return(nil, database.ErrNotFound).Once()
	s.vouchers.On("FindPaidByReference", s.ctx, "VCH001").Return(&paid, nil).Once()

	second := s.service.ProcessConfirmation(s.ctx, payload("MPESA1", 100, "VCH001"))

	s.Equal(models.ResultAccepted, second.Response.ResultCode)
	s.Equal("Accepted", second.Response.ResultDesc)
	s.Equal(models.WebhookDuplicate, second.Status)
	s.vouchers.AssertNumberOfCalls(s.T(), "ApplyPayment", 1)
	s.transactions.AssertNumberOfCalls(s.T(), "Record", 1)
	s.Equal([]models.WebhookStatus{models.WebhookSuccess, models.WebhookDuplicate}, s.webhookLogs.Statuses())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.paymentsTotal.WithLabelValues("mpesa")))
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_PaidLookupErrorIsRejected() {
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH015").Return(nil, database.ErrNotFound).Once()
	s.vouchers.On("FindPaidByReference", s.ctx, "VCH015").Return(nil, errors.New("connection reset")).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA15", 100, "VCH015"))

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookError, result.Status)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_AmountMismatchNeverPays() {
	for _, amount := range []float64{99.98, 100.02, 50, 0} {
		s.Run(decimal.NewFromFloat(amount).String(), func() {
			v := s.voucher("VCH002", 100)
			s.vouchers.On("FindPayableByReference", s.ctx, "VCH002").Return(v, nil).Once()

			result := s.service.ProcessConfirmation(s.ctx, payload("MPESA2", amount, "VCH002"))

			s.Equal(models.ResultRejected, result.Response.ResultCode)
			s.Equal(models.WebhookAmountMismatch, result.Status)
			s.vouchers.AssertNotCalled(s.T(), "ApplyPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	last := s.webhookLogs.Entries[len(s.webhookLogs.Entries)-1]
	s.Equal(100.0, last.Details["expected"])
	s.Equal(0.0, last.Details["received"])
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_WithinTolerance() {
	v := s.voucher("VCH003", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH003").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA3", 99.99, "VCH003"))
	s.Equal(models.ResultAccepted, result.Response.ResultCode)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_UnknownReference() {
	s.vouchers.On("FindPayableByReference", s.ctx, "NOPE").Return(nil, database.ErrNotFound).Once()
	s.vouchers.On("FindPaidByReference", s.ctx, "NOPE").Return(nil, database.ErrNotFound).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA4", 100, "NOPE"))

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookVoucherNotFound, result.Status)
	s.vouchers.AssertNotCalled(s.T(), "ApplyPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.Equal([]models.WebhookStatus{models.WebhookVoucherNotFound}, s.webhookLogs.Statuses())
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_MissingFields() {
	p := models.MpesaConfirmation{MSISDN: "254712345678"}

	result := s.service.ProcessConfirmation(s.ctx, p)

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookInvalidPayload, result.Status)
	s.Contains(result.Response.ResultDesc, "TransID")
	s.Contains(result.Response.ResultDesc, "TransAmount")
	s.Contains(result.Response.ResultDesc, "BillRefNumber")
	s.vouchers.AssertNotCalled(s.T(), "FindPayableByReference", mock.Anything, mock.Anything)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_TimedOnPurchaseSetsPurchaseExpiry() {
	v := s.voucher("VCH005", 50)
	v.Usage.TimedOnPurchase = true
	v.Usage.MaxDurationMinutes = 90

	s.vouchers.On("FindPayableByReference", s.ctx, "VCH005").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{"cafe": 10}, nil).Once()

	var committed models.PaymentUpdate
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).
		Run(func(args mock.Arguments) { committed = args.Get(2).(models.PaymentUpdate) }).
		Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA5", 50, "VCH005"))

	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Require().NotNil(committed.PurchaseExpiresAt)
	s.Equal(s.now.Add(90*time.Minute), *committed.PurchaseExpiresAt)
	s.Equal(5.0, committed.Payment.Commission)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_LostRaceTreatedAsDuplicate() {
	v := s.voucher("VCH006", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH006").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).Return(false, nil).Once()

	winner := *v
	winner.Status = models.VoucherStatusPaid
	winner.Payment = &models.VoucherPayment{TransactionID: "MPESA6"}
	s.vouchers.On("GetByID", s.ctx, v.ID).Return(&winner, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA6", 100, "VCH006"))

	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Equal(models.WebhookDuplicate, result.Status)
	s.transactions.AssertNotCalled(s.T(), "Record", mock.Anything, mock.Anything)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_UnmatchedCommitIsRejected() {
	v := s.voucher("VCH007", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH007").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).Return(false, nil).Once()

	cancelled := *v
	cancelled.Status = models.VoucherStatusCancelled
	s.vouchers.On("GetByID", s.ctx, v.ID).Return(&cancelled, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA7", 100, "VCH007"))

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal("Rejected", result.Response.ResultDesc)
	s.Equal(models.WebhookError, result.Status)
	s.Equal([]models.WebhookStatus{models.WebhookError}, s.webhookLogs.Statuses())
	s.Contains(s.webhookLogs.Entries[0].Error, ErrPaymentNotApplied.Error())
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_DatabaseErrorIsRejected() {
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH008").Return(nil, errors.New("connection reset")).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA8", 100, "VCH008"))

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookError, result.Status)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_PanicIsRecovered() {
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH009").
		Run(func(mock.Arguments) { panic("nil map write") }).
		Return(nil, nil).Once()

	var result WebhookResult
	s.NotPanics(func() {
		result = s.service.ProcessConfirmation(s.ctx, payload("MPESA9", 100, "VCH009"))
	})

	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookError, result.Status)
	s.Contains(s.webhookLogs.Entries[0].Error, "nil map write")
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_SideEffectFailuresKeepAcceptance() {
	s.transactions.ExpectedCalls = nil
	s.transactions.On("Record", mock.Anything, mock.Anything).Return(false, errors.New("ledger down")).Once()
	s.audit.ExpectedCalls = nil
	s.audit.On("Append", mock.Anything, mock.Anything).Return(errors.New("audit down")).Once()

	v := s.voucher("VCH010", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH010").Return(v, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA10", 100, "VCH010"))
	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Equal(models.WebhookSuccess, result.Status)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_OwnerResolvedFromRouter() {
	v := s.voucher("VCH011", 100)
	v.UserID = primitive.NilObjectID
	router := &models.Router{ID: v.RouterID, UserID: s.owner.ID}

	s.owner.PaymentSettings.CommissionRate = floatPtr(12.5)

	s.vouchers.On("FindPayableByReference", s.ctx, "VCH011").Return(v, nil).Once()
	s.routers.On("GetByID", s.ctx, v.RouterID).Return(router, nil).Once()
	s.accounts.On("GetByID", s.ctx, s.owner.ID).Return(s.owner, nil).Once()

	var committed models.PaymentUpdate
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).
		Run(func(args mock.Arguments) { committed = args.Get(2).(models.PaymentUpdate) }).
		Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA11", 100, "VCH011"))

	s.Equal(models.ResultAccepted, result.Response.ResultCode)
	s.Equal(12.5, committed.Payment.Commission)
	s.sysConfig.AssertNotCalled(s.T(), "GetCommissionRates", mock.Anything)
}

func (s *PaymentServiceTestSuite) TestValidate_IsReadOnly() {
	v := s.voucher("VCH012", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH012").Return(v, nil).Twice()

	ok := s.service.Validate(s.ctx, payload("MPESA12", 100, "VCH012"))
	s.Equal(models.ResultAccepted, ok.Response.ResultCode)

	bad := s.service.Validate(s.ctx, payload("MPESA12", 10, "VCH012"))
	s.Equal(models.ResultRejected, bad.Response.ResultCode)
	s.Equal(models.WebhookAmountMismatch, bad.Status)

	s.vouchers.AssertNotCalled(s.T(), "ApplyPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.transactions.AssertNotCalled(s.T(), "Record", mock.Anything, mock.Anything)
	for _, e := range s.webhookLogs.Entries {
		s.Equal(models.WebhookEventValidation, e.Event)
	}
}

func (s *PaymentServiceTestSuite) TestValidate_AlreadyPaidIsRejected() {
	v := s.voucher("VCH013", 100)
	v.Status = models.VoucherStatusPaid
	v.Payment = &models.VoucherPayment{TransactionID: "MPESA0"}
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH013").Return(nil, database.ErrNotFound).Once()
	s.vouchers.On("FindPaidByReference", s.ctx, "VCH013").Return(v, nil).Once()

	result := s.service.Validate(s.ctx, payload("MPESA13", 100, "VCH013"))
	s.Equal(models.ResultRejected, result.Response.ResultCode)
	s.Equal(models.WebhookDuplicate, result.Status)
}

func (s *PaymentServiceTestSuite) TestProcessConfirmation_NotifiesOwner() {
	notified := make(chan int64, 1)
	s.service.notifier = notifierFunc(func(_ context.Context, account *models.BillingAccount, _ *models.Voucher, _ models.VoucherPayment) error {
		notified <- account.Notifications.TelegramChatID
		return nil
	})
	s.owner.Notifications.TelegramChatID = 4242

	v := s.voucher("VCH014", 100)
	s.vouchers.On("FindPayableByReference", s.ctx, "VCH014").Return(v, nil).Once()
	s.accounts.On("GetByID", mock.Anything, s.owner.ID).Return(s.owner, nil).Twice()
	s.sysConfig.On("GetCommissionRates", s.ctx).Return(map[string]float64{}, nil).Once()
	s.vouchers.On("ApplyPayment", s.ctx, v.ID, mock.Anything, s.now).Return(true, nil).Once()

	result := s.service.ProcessConfirmation(s.ctx, payload("MPESA14", 100, "VCH014"))
	s.Equal(models.ResultAccepted, result.Response.ResultCode)

	select {
	case chatID := <-notified:
		s.Equal(int64(4242), chatID)
	case <-time.After(2 * time.Second):
		s.Fail("owner was not notified")
	}
}

func TestPaymentServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceTestSuite))
}

type notifierFunc func(ctx context.Context, account *models.BillingAccount, voucher *models.Voucher, payment models.VoucherPayment) error

func (f notifierFunc) NotifyPayment(ctx context.Context, account *models.BillingAccount, voucher *models.Voucher, payment models.VoucherPayment) error {
	return f(ctx, account, voucher, payment)
}
