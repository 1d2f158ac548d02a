package service

import (
	"time"

	"github.com/grigta/hotspot/pkg/logger"
	"github.com/grigta/hotspot/pkg/messaging"
	"github.com/grigta/hotspot/services/billing-service/internal/models"
)

const (
	EventVoucherPaid      = "voucher.paid"
	EventVoucherExpired   = "voucher.expired"
	EventVoucherCancelled = "voucher.cancelled"
)

// EventPublisher emits voucher lifecycle events. Publishing is best effort.
type EventPublisher struct {
	publisher messaging.Publisher
	logger    logger.Logger
}

func NewEventPublisher(publisher messaging.Publisher, log logger.Logger) *EventPublisher {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &EventPublisher{publisher: publisher, logger: log}
}

func (p *EventPublisher) VoucherPaid(voucher *models.Voucher, payment models.VoucherPayment) {
	p.publish(EventVoucherPaid, map[string]interface{}{
		"voucher_id":     voucher.ID.Hex(),
		"router_id":      voucher.RouterID.Hex(),
		"user_id":        voucher.UserID.Hex(),
		"reference":      voucher.Reference,
		"transaction_id": payment.TransactionID,
		"amount":         payment.Amount,
		"commission":     payment.Commission,
		"paid_at":        payment.PaymentDate,
	})
}

func (p *EventPublisher) VoucherExpired(voucher *models.Voucher, reason models.ExpiryReason, at time.Time) {
	p.publish(EventVoucherExpired, map[string]interface{}{
		"voucher_id": voucher.ID.Hex(),
		"router_id":  voucher.RouterID.Hex(),
		"code":       voucher.Code,
		"reason":     reason,
		"expired_at": at,
	})
}

func (p *EventPublisher) VoucherCancelled(voucher *models.Voucher, actorID string) {
	p.publish(EventVoucherCancelled, map[string]interface{}{
		"voucher_id": voucher.ID.Hex(),
		"router_id":  voucher.RouterID.Hex(),
		"code":       voucher.Code,
		"actor_id":   actorID,
	})
}

func (p *EventPublisher) publish(eventType string, data map[string]interface{}) {
	if err := p.publisher.PublishEvent(eventType, data); err != nil {
		p.logger.Warn("Failed to publish event",
			logger.Field{Key: "event", Value: eventType},
			logger.Err(err),
		)
	}
}
