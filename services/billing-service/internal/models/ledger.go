package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const TransactionTypeVoucherSale = "voucher_sale"

// Transaction is an immutable ledger entry keyed by the provider transaction id.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EntryID       string             `bson:"entryId" json:"entryId"`
	TransactionID string             `bson:"transactionId" json:"transactionId"`
	VoucherID     primitive.ObjectID `bson:"voucherId" json:"voucherId"`
	RouterID      primitive.ObjectID `bson:"routerId" json:"routerId"`
	UserID        primitive.ObjectID `bson:"userId" json:"userId"`
	Type          string             `bson:"type" json:"type"`
	Method        string             `bson:"method" json:"method"`
	Amount        float64            `bson:"amount" json:"amount"`
	Commission    float64            `bson:"commission" json:"commission"`
	NetAmount     float64            `bson:"netAmount" json:"netAmount"`
	Currency      string             `bson:"currency" json:"currency"`
	PhoneNumber   string             `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	Reference     string             `bson:"reference" json:"reference"`
	Status        string             `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}

const (
	AuditVoucherPaid      = "voucher.paid"
	AuditVoucherExpired   = "voucher.expired"
	AuditVoucherCancelled = "voucher.cancelled"
)

type AuditLog struct {
	ID           primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Action       string                 `bson:"action" json:"action"`
	ResourceType string                 `bson:"resourceType" json:"resourceType"`
	ResourceID   primitive.ObjectID     `bson:"resourceId" json:"resourceId"`
	UserID       *primitive.ObjectID    `bson:"userId,omitempty" json:"userId,omitempty"`
	Details      map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt    time.Time              `bson:"createdAt" json:"createdAt"`
}

type WebhookStatus string

const (
	WebhookSuccess         WebhookStatus = "success"
	WebhookInvalidPayload  WebhookStatus = "invalid_payload"
	WebhookVoucherNotFound WebhookStatus = "voucher_not_found"
	WebhookDuplicate       WebhookStatus = "duplicate"
	WebhookAmountMismatch  WebhookStatus = "amount_mismatch"
	WebhookError           WebhookStatus = "error"
)

type WebhookLog struct {
	ID            primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Provider      string                 `bson:"provider" json:"provider"`
	Event         string                 `bson:"event" json:"event"`
	Status        WebhookStatus          `bson:"status" json:"status"`
	TransactionID string                 `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	Reference     string                 `bson:"reference,omitempty" json:"reference,omitempty"`
	Amount        float64                `bson:"amount,omitempty" json:"amount,omitempty"`
	Payload       map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	Details       map[string]interface{} `bson:"details,omitempty" json:"details,omitempty"`
	Error         string                 `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt     time.Time              `bson:"createdAt" json:"createdAt"`
}
