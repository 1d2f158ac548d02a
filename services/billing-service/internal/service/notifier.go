package service

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
)

// Notifier tells a router owner about a completed sale.
type Notifier interface {
	NotifyPayment(ctx context.Context, account *models.BillingAccount, voucher *models.Voucher, payment models.VoucherPayment) error
}

type NopNotifier struct{}

func (NopNotifier) NotifyPayment(context.Context, *models.BillingAccount, *models.Voucher, models.VoucherPayment) error {
	return nil
}

type TelegramNotifier struct {
	bot    *bot.Bot
	logger logger.Logger
}

func NewTelegramNotifier(token string, log logger.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: b, logger: log}, nil
}

func (n *TelegramNotifier) NotifyPayment(ctx context.Context, account *models.BillingAccount, voucher *models.Voucher, payment models.VoucherPayment) error {
	if account == nil || account.Notifications.TelegramChatID == 0 {
		return nil
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: account.Notifications.TelegramChatID,
		Text:   formatPaymentMessage(voucher, payment),
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func formatPaymentMessage(voucher *models.Voucher, payment models.VoucherPayment) string {
	currency := voucher.VoucherInfo.Currency
	if currency == "" {
		currency = "KES"
	}
	pkg := voucher.VoucherInfo.PackageName
	if pkg == "" {
		pkg = voucher.VoucherInfo.PackageType
	}
	return fmt.Sprintf(
		"Voucher sold\nPackage: %s\nAmount: %s %.2f\nCommission: %s %.2f\nM-Pesa ref: %s\nPhone: %s",
		pkg, currency, payment.Amount, currency, payment.Commission, payment.TransactionID, payment.PhoneNumber,
	)
}
