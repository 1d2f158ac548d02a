package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BillingAccount is the portal user that owns routers.
type BillingAccount struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email           string             `bson:"email" json:"email"`
	Name            string             `bson:"name" json:"name"`
	BusinessType    string             `bson:"businessType,omitempty" json:"businessType,omitempty"`
	PaymentSettings PaymentSettings    `bson:"paymentSettings" json:"paymentSettings"`
	Notifications   NotificationPrefs  `bson:"notifications" json:"notifications"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

type PaymentSettings struct {
	CommissionRate *float64 `bson:"commissionRate,omitempty" json:"commissionRate,omitempty"`
}

type NotificationPrefs struct {
	TelegramChatID int64 `bson:"telegramChatId,omitempty" json:"telegramChatId,omitempty"`
}

const CommissionRatesKey = "commission_rates"

type SystemConfig struct {
	ID    primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Key   string                 `bson:"key" json:"key"`
	Value map[string]interface{} `bson:"value" json:"value"`
}
