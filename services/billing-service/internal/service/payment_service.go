package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/grigta/hotspot/pkg/database"
	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
	"github.com/grigta/hotspot/services/billing-service/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrPaymentNotApplied = errors.New("payment update matched no payable voucher")

// WebhookResult is the provider-facing answer plus the outcome recorded in
// the webhook log.
type WebhookResult struct {
	Response  models.MpesaResponse
	Status    models.WebhookStatus
	VoucherID string
}

type PaymentConfig struct {
	AmountTolerance float64
	Currency        string
}

type PaymentService struct {
	vouchers     repository.VoucherRepository
	routers      repository.RouterRepository
	accounts     repository.AccountRepository
	transactions repository.TransactionRepository
	audit        repository.AuditLogRepository
	webhookLogs  repository.WebhookLogRepository
	commission   *CommissionResolver
	events       *EventPublisher
	notifier     Notifier
	metrics      *Metrics
	logger       logger.Logger
	tolerance    decimal.Decimal
	currency     string
	now          func() time.Time
}

func NewPaymentService(
	vouchers repository.VoucherRepository,
	routers repository.RouterRepository,
	accounts repository.AccountRepository,
	transactions repository.TransactionRepository,
	audit repository.AuditLogRepository,
	webhookLogs repository.WebhookLogRepository,
	commission *CommissionResolver,
	events *EventPublisher,
	notifier Notifier,
	metrics *Metrics,
	cfg PaymentConfig,
	log logger.Logger,
) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "KES"
	}
	return &PaymentService{
		vouchers:     vouchers,
		routers:      routers,
		accounts:     accounts,
		transactions: transactions,
		audit:        audit,
		webhookLogs:  webhookLogs,
		commission:   commission,
		events:       events,
		notifier:     notifier,
		metrics:      metrics,
		logger:       log.WithField("component", "payment_service"),
		tolerance:    decimal.NewFromFloat(cfg.AmountTolerance),
		currency:     currency,
		now:          time.Now,
	}
}

// ProcessConfirmation turns a payment confirmation into a paid voucher. It
// never returns an error: every failure becomes a rejection the provider
// can parse.
func (s *PaymentService) ProcessConfirmation(ctx context.Context, payload models.MpesaConfirmation) (result WebhookResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			s.logger.Error("Payment confirmation panicked", logger.Err(err))
			s.logWebhook(ctx, models.WebhookEventConfirmation, payload, models.WebhookError, nil, err)
			result = WebhookResult{Response: models.Rejected(""), Status: models.WebhookError}
		}
	}()

	res, err := s.processConfirmation(ctx, payload)
	if err != nil {
		s.logger.Error("Payment confirmation failed",
			logger.Field{Key: "transaction_id", Value: payload.TransID},
			logger.Field{Key: "reference", Value: payload.BillRefNumber},
			logger.Err(err),
		)
		s.logWebhook(ctx, models.WebhookEventConfirmation, payload, models.WebhookError, nil, err)
		return WebhookResult{Response: models.Rejected(""), Status: models.WebhookError, VoucherID: res.VoucherID}
	}
	return res
}

func (s *PaymentService) processConfirmation(ctx context.Context, payload models.MpesaConfirmation) (WebhookResult, error) {
	const event = models.WebhookEventConfirmation

	if res, ok := s.checkPayload(ctx, event, payload); !ok {
		return res, nil
	}

	voucher, res, err := s.lookup(ctx, event, payload)
	if voucher == nil || err != nil {
		return res, err
	}

	if voucher.HasTransaction() {
		return s.duplicate(ctx, event, payload, voucher), nil
	}

	paid := payload.TransAmount.Decimal
	if res, ok := s.checkAmount(ctx, event, payload, voucher, paid); !ok {
		return res, nil
	}

	res = WebhookResult{VoucherID: voucher.ID.Hex()}

	rate, source, err := s.commission.ResolveRate(ctx, s.ownerOf(ctx, voucher))
	if err != nil {
		return res, fmt.Errorf("failed to resolve commission rate: %w", err)
	}
	commission := ComputeCommission(paid, rate)

	now := s.now()
	update := models.PaymentUpdate{
		Payment: models.VoucherPayment{
			Method:        models.PaymentMethodMpesa,
			TransactionID: payload.TransID,
			PhoneNumber:   payload.MSISDN,
			Amount:        paid.InexactFloat64(),
			Commission:    commission.InexactFloat64(),
			PaymentDate:   now,
		},
	}
	if voucher.Usage.TimedOnPurchase && voucher.Usage.MaxDurationMinutes > 0 {
		expiresAt := now.Add(time.Duration(voucher.Usage.MaxDurationMinutes) * time.Minute)
		update.PurchaseExpiresAt = &expiresAt
	}

	applied, err := s.vouchers.ApplyPayment(ctx, voucher.ID, update, now)
	if err != nil {
		return res, err
	}
	if !applied {
		current, err := s.vouchers.GetByID(ctx, voucher.ID)
		if err != nil {
			return res, fmt.Errorf("failed to re-read voucher after lost update: %w", err)
		}
		if current.HasTransaction() {
			return s.duplicate(ctx, event, payload, current), nil
		}
		return res, ErrPaymentNotApplied
	}

	voucher.Status = models.VoucherStatusPaid
	voucher.Payment = &update.Payment
	if update.PurchaseExpiresAt != nil {
		voucher.Usage.PurchaseExpiresAt = update.PurchaseExpiresAt
	}

	s.logger.Info("Voucher paid",
		logger.Field{Key: "voucher_id", Value: voucher.ID.Hex()},
		logger.Field{Key: "transaction_id", Value: payload.TransID},
		logger.Field{Key: "amount", Value: paid.StringFixed(2)},
		logger.Field{Key: "commission", Value: commission.StringFixed(2)},
		logger.Field{Key: "rate", Value: rate.String()},
		logger.Field{Key: "rate_source", Value: string(source)},
	)

	s.recordSideEffects(ctx, payload, voucher, update.Payment, paid, commission, rate)

	res.Response = models.Accepted()
	res.Status = models.WebhookSuccess
	return res, nil
}

// Validate answers the provider's pre-payment validation call. It runs the
// same checks as a confirmation without touching the voucher.
func (s *PaymentService) Validate(ctx context.Context, payload models.MpesaConfirmation) (result WebhookResult) {
	const event = models.WebhookEventValidation

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			s.logger.Error("Payment validation panicked", logger.Err(err))
			s.logWebhook(ctx, event, payload, models.WebhookError, nil, err)
			result = WebhookResult{Response: models.Rejected(""), Status: models.WebhookError}
		}
	}()

	if res, ok := s.checkPayload(ctx, event, payload); !ok {
		return res
	}

	voucher, res, err := s.lookup(ctx, event, payload)
	if err != nil {
		s.logWebhook(ctx, event, payload, models.WebhookError, nil, err)
		return WebhookResult{Response: models.Rejected(""), Status: models.WebhookError}
	}
	if voucher == nil {
		return res
	}

	if voucher.HasTransaction() {
		s.logWebhook(ctx, event, payload, models.WebhookDuplicate, map[string]interface{}{
			"existingTransactionId": voucher.Payment.TransactionID,
		}, nil)
		return WebhookResult{Response: models.Rejected("Voucher already paid"), Status: models.WebhookDuplicate, VoucherID: voucher.ID.Hex()}
	}

	if res, ok := s.checkAmount(ctx, event, payload, voucher, payload.TransAmount.Decimal); !ok {
		return res
	}

	s.logWebhook(ctx, event, payload, models.WebhookSuccess, nil, nil)
	return WebhookResult{Response: models.Accepted(), Status: models.WebhookSuccess, VoucherID: voucher.ID.Hex()}
}

func (s *PaymentService) checkPayload(ctx context.Context, event string, payload models.MpesaConfirmation) (WebhookResult, bool) {
	var missing []string
	if strings.TrimSpace(payload.TransID) == "" {
		missing = append(missing, "TransID")
	}
	if !payload.TransAmount.Valid {
		missing = append(missing, "TransAmount")
	}
	if strings.TrimSpace(payload.BillRefNumber) == "" {
		missing = append(missing, "BillRefNumber")
	}
	if len(missing) == 0 {
		return WebhookResult{}, true
	}

	s.logWebhook(ctx, event, payload, models.WebhookInvalidPayload, map[string]interface{}{"missing": missing}, nil)
	return WebhookResult{
		Response: models.Rejected("Missing required fields: " + strings.Join(missing, ", ")),
		Status:   models.WebhookInvalidPayload,
	}, false
}

// lookup returns a nil voucher with a ready rejection when no payable
// voucher carries the reference.
func (s *PaymentService) lookup(ctx context.Context, event string, payload models.MpesaConfirmation) (*models.Voucher, WebhookResult, error) {
	reference := strings.TrimSpace(payload.BillRefNumber)

	voucher, err := s.vouchers.FindPayableByReference(ctx, reference)
	if err == nil {
		return voucher, WebhookResult{VoucherID: voucher.ID.Hex()}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, WebhookResult{}, err
	}

	// A resent confirmation finds its voucher already paid.
	voucher, err = s.vouchers.FindPaidByReference(ctx, reference)
	if err == nil {
		return voucher, WebhookResult{VoucherID: voucher.ID.Hex()}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, WebhookResult{}, err
	}

	s.logWebhook(ctx, event, payload, models.WebhookVoucherNotFound, nil, nil)
	return nil, WebhookResult{
		Response: models.Rejected("Voucher not found"),
		Status:   models.WebhookVoucherNotFound,
	}, nil
}

func (s *PaymentService) duplicate(ctx context.Context, event string, payload models.MpesaConfirmation, voucher *models.Voucher) WebhookResult {
	s.logger.Info("Duplicate payment confirmation ignored",
		logger.Field{Key: "voucher_id", Value: voucher.ID.Hex()},
		logger.Field{Key: "transaction_id", Value: payload.TransID},
	)
	s.logWebhook(ctx, event, payload, models.WebhookDuplicate, map[string]interface{}{
		"existingTransactionId": voucher.Payment.TransactionID,
	}, nil)
	return WebhookResult{Response: models.Accepted(), Status: models.WebhookDuplicate, VoucherID: voucher.ID.Hex()}
}

func (s *PaymentService) checkAmount(ctx context.Context, event string, payload models.MpesaConfirmation, voucher *models.Voucher, paid decimal.Decimal) (WebhookResult, bool) {
	expected := decimal.NewFromFloat(voucher.VoucherInfo.Price)
	if paid.Sub(expected).Abs().LessThanOrEqual(s.tolerance) {
		return WebhookResult{}, true
	}

	s.logger.Warn("Payment amount mismatch",
		logger.Field{Key: "voucher_id", Value: voucher.ID.Hex()},
		logger.Field{Key: "expected", Value: expected.StringFixed(2)},
		logger.Field{Key: "received", Value: paid.StringFixed(2)},
	)
	s.logWebhook(ctx, event, payload, models.WebhookAmountMismatch, map[string]interface{}{
		"expected": expected.InexactFloat64(),
		"received": paid.InexactFloat64(),
	}, nil)
	return WebhookResult{
		Response:  models.Rejected("Amount mismatch"),
		Status:    models.WebhookAmountMismatch,
		VoucherID: voucher.ID.Hex(),
	}, false
}

// ownerOf resolves the billing account behind a voucher, falling back to the
// router's owner for vouchers created without one.
func (s *PaymentService) ownerOf(ctx context.Context, voucher *models.Voucher) primitive.ObjectID {
	if !voucher.UserID.IsZero() || voucher.RouterID.IsZero() {
		return voucher.UserID
	}
	router, err := s.routers.GetByID(ctx, voucher.RouterID)
	if err != nil {
		s.logger.Warn("Router lookup failed while resolving voucher owner",
			logger.Field{Key: "router_id", Value: voucher.RouterID.Hex()},
			logger.Err(err),
		)
		return primitive.NilObjectID
	}
	voucher.UserID = router.UserID
	return router.UserID
}

// recordSideEffects writes the ledger, audit and webhook entries after a
// committed payment. Each write is independent and idempotent enough to be
// retried; failures are logged only.
func (s *PaymentService) recordSideEffects(ctx context.Context, payload models.MpesaConfirmation, voucher *models.Voucher, payment models.VoucherPayment, paid, commission, rate decimal.Decimal) {
	currency := voucher.VoucherInfo.Currency
	if currency == "" {
		currency = s.currency
	}

	tx := &models.Transaction{
		EntryID:       uuid.New().String(),
		TransactionID: payment.TransactionID,
		VoucherID:     voucher.ID,
		RouterID:      voucher.RouterID,
		UserID:        voucher.UserID,
		Type:          models.TransactionTypeVoucherSale,
		Method:        payment.Method,
		Amount:        payment.Amount,
		Commission:    payment.Commission,
		NetAmount:     paid.Sub(commission).InexactFloat64(),
		Currency:      currency,
		PhoneNumber:   payment.PhoneNumber,
		Reference:     voucher.Reference,
		Status:        "completed",
		CreatedAt:     payment.PaymentDate,
	}
	if inserted, err := s.transactions.Record(ctx, tx); err != nil {
		s.logger.Error("Failed to record ledger transaction",
			logger.Field{Key: "transaction_id", Value: payment.TransactionID},
			logger.Err(err),
		)
	} else if !inserted {
		s.logger.Warn("Ledger entry already existed", logger.Field{Key: "transaction_id", Value: payment.TransactionID})
	}

	entry := &models.AuditLog{
		Action:       models.AuditVoucherPaid,
		ResourceType: "voucher",
		ResourceID:   voucher.ID,
		Details: map[string]interface{}{
			"transactionId":  payment.TransactionID,
			"amount":         payment.Amount,
			"commission":     payment.Commission,
			"commissionRate": rate.InexactFloat64(),
			"reference":      voucher.Reference,
		},
		CreatedAt: payment.PaymentDate,
	}
	if !voucher.UserID.IsZero() {
		owner := voucher.UserID
		entry.UserID = &owner
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to write payment audit log", logger.Err(err))
	}

	s.logWebhook(ctx, models.WebhookEventConfirmation, payload, models.WebhookSuccess, map[string]interface{}{
		"voucherId":  voucher.ID.Hex(),
		"commission": payment.Commission,
	}, nil)

	if s.metrics != nil {
		s.metrics.ObservePayment(payment.Method, payment.Commission)
	}
	if s.events != nil {
		s.events.VoucherPaid(voucher, payment)
	}

	s.notifyOwner(ctx, voucher, payment)
}

func (s *PaymentService) notifyOwner(ctx context.Context, voucher *models.Voucher, payment models.VoucherPayment) {
	if _, nop := s.notifier.(NopNotifier); nop || voucher.UserID.IsZero() {
		return
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		account, err := s.accounts.GetByID(ctx, voucher.UserID)
		if err != nil {
			s.logger.Warn("Owner lookup failed, skipping payment notification", logger.Err(err))
			return
		}
		if err := s.notifier.NotifyPayment(ctx, account, voucher, payment); err != nil {
			s.logger.Warn("Failed to notify owner of payment", logger.Err(err))
		}
	}()
}

func (s *PaymentService) logWebhook(ctx context.Context, event string, payload models.MpesaConfirmation, status models.WebhookStatus, details map[string]interface{}, cause error) {
	if s.metrics != nil {
		s.metrics.IncrementWebhook(event, string(status))
	}

	entry := &models.WebhookLog{
		Provider:      models.PaymentMethodMpesa,
		Event:         event,
		Status:        status,
		TransactionID: payload.TransID,
		Reference:     payload.BillRefNumber,
		Payload:       payload.AsMap(),
		Details:       details,
		CreatedAt:     time.Now(),
	}
	if payload.TransAmount.Valid {
		entry.Amount = payload.TransAmount.Decimal.InexactFloat64()
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := s.webhookLogs.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to write webhook log",
			logger.Field{Key: "status", Value: string(status)},
			logger.Err(err),
		)
	}
}
