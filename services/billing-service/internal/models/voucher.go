package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Voucher struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RouterID    primitive.ObjectID `bson:"routerId" json:"routerId"`
	UserID      primitive.ObjectID `bson:"userId" json:"userId"`
	Code        string             `bson:"code" json:"code"`
	Password    string             `bson:"password" json:"-"`
	Reference   string             `bson:"reference,omitempty" json:"reference,omitempty"`
	VoucherInfo VoucherInfo        `bson:"voucherInfo" json:"voucherInfo"`
	Usage       VoucherUsage       `bson:"usage" json:"usage"`
	Payment     *VoucherPayment    `bson:"payment,omitempty" json:"payment,omitempty"`
	Expiry      VoucherExpiry      `bson:"expiry" json:"expiry"`
	Status      VoucherStatus      `bson:"status" json:"status"`
	Batch       *VoucherBatch      `bson:"batch,omitempty" json:"batch,omitempty"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// VoucherInfo is the package sold with the voucher. Fixed at generation.
type VoucherInfo struct {
	PackageType string    `bson:"packageType" json:"packageType"`
	PackageName string    `bson:"packageName,omitempty" json:"packageName,omitempty"`
	Duration    int       `bson:"duration" json:"duration"`   // minutes
	DataLimit   int64     `bson:"dataLimit" json:"dataLimit"` // bytes, 0 = unlimited
	Bandwidth   Bandwidth `bson:"bandwidth" json:"bandwidth"`
	Price       float64   `bson:"price" json:"price"`
	Currency    string    `bson:"currency" json:"currency"`
}

type Bandwidth struct {
	Upload   int `bson:"upload" json:"upload"`     // kbps
	Download int `bson:"download" json:"download"` // kbps
}

type VoucherUsage struct {
	Used               bool       `bson:"used" json:"used"`
	DeviceMAC          string     `bson:"deviceMac,omitempty" json:"deviceMac,omitempty"`
	StartTime          *time.Time `bson:"startTime,omitempty" json:"startTime,omitempty"`
	EndTime            *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`
	DataUsed           int64      `bson:"dataUsed" json:"dataUsed"`
	TimeUsed           int64      `bson:"timeUsed" json:"timeUsed"` // seconds
	MaxDurationMinutes int        `bson:"maxDurationMinutes,omitempty" json:"maxDurationMinutes,omitempty"`
	ExpectedEndTime    *time.Time `bson:"expectedEndTime,omitempty" json:"expectedEndTime,omitempty"`
	TimedOnPurchase    bool       `bson:"timedOnPurchase" json:"timedOnPurchase"`
	PurchaseExpiresAt  *time.Time `bson:"purchaseExpiresAt,omitempty" json:"purchaseExpiresAt,omitempty"`
}

type VoucherPayment struct {
	Method        string    `bson:"method" json:"method"`
	TransactionID string    `bson:"transactionId" json:"transactionId"`
	PhoneNumber   string    `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	Amount        float64   `bson:"amount" json:"amount"`
	Commission    float64   `bson:"commission" json:"commission"`
	PaymentDate   time.Time `bson:"paymentDate" json:"paymentDate"`
}

type VoucherExpiry struct {
	ExpiresAt *time.Time   `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	ExpiredAt *time.Time   `bson:"expiredAt,omitempty" json:"expiredAt,omitempty"`
	Reason    ExpiryReason `bson:"reason,omitempty" json:"reason,omitempty"`
}

type VoucherBatch struct {
	BatchID     string    `bson:"batchId" json:"batchId"`
	BatchSize   int       `bson:"batchSize" json:"batchSize"`
	GeneratedAt time.Time `bson:"generatedAt" json:"generatedAt"`
}

type VoucherStatus string

const (
	VoucherStatusActive    VoucherStatus = "active"
	VoucherStatusPending   VoucherStatus = "pending"
	VoucherStatusPaid      VoucherStatus = "paid"
	VoucherStatusUsed      VoucherStatus = "used"
	VoucherStatusExpired   VoucherStatus = "expired"
	VoucherStatusCancelled VoucherStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s VoucherStatus) IsTerminal() bool {
	return s == VoucherStatusExpired || s == VoucherStatusCancelled
}

// TerminalStatuses lists the statuses a voucher never leaves.
var TerminalStatuses = []VoucherStatus{VoucherStatusExpired, VoucherStatusCancelled}

// PayableStatuses lists the statuses a payment confirmation may match.
var PayableStatuses = []VoucherStatus{VoucherStatusActive, VoucherStatusPending}

type ExpiryReason string

const (
	ReasonActivationExpiry ExpiryReason = "activationExpiry"
	ReasonPurchaseExpiry   ExpiryReason = "purchaseExpiry"
	ReasonUsageEnded       ExpiryReason = "usageEnded"
)

// Priority orders reasons when a voucher matches several triggers.
// Higher wins.
func (r ExpiryReason) Priority() int {
	switch r {
	case ReasonUsageEnded:
		return 3
	case ReasonPurchaseExpiry:
		return 2
	case ReasonActivationExpiry:
		return 1
	default:
		return 0
	}
}

// ExpiryReasons in selection order.
var ExpiryReasons = []ExpiryReason{ReasonActivationExpiry, ReasonPurchaseExpiry, ReasonUsageEnded}

// HasTransaction reports whether a payment has already been recorded.
func (v *Voucher) HasTransaction() bool {
	return v.Payment != nil && v.Payment.TransactionID != ""
}

type VoucherFilter struct {
	UserID   *primitive.ObjectID
	RouterID *primitive.ObjectID
	Status   string
	Limit    int
	Offset   int
}

// PaymentUpdate carries the fields committed by a successful confirmation.
type PaymentUpdate struct {
	Payment           VoucherPayment
	PurchaseExpiresAt *time.Time
}
