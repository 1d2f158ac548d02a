package models

import "github.com/shopspring/decimal"

const (
	PaymentMethodMpesa = "mpesa"

	WebhookEventConfirmation = "confirmation"
	WebhookEventValidation   = "validation"
)

// MpesaConfirmation is the C2B callback body. TransAmount arrives either as
// a number or as a string depending on the integration.
type MpesaConfirmation struct {
	TransactionType   string              `json:"TransactionType,omitempty"`
	TransID           string              `json:"TransID"`
	TransTime         string              `json:"TransTime,omitempty"`
	TransAmount       decimal.NullDecimal `json:"TransAmount"`
	BusinessShortCode string              `json:"BusinessShortCode,omitempty"`
	BillRefNumber     string              `json:"BillRefNumber"`
	InvoiceNumber     string              `json:"InvoiceNumber,omitempty"`
	OrgAccountBalance string              `json:"OrgAccountBalance,omitempty"`
	ThirdPartyTransID string              `json:"ThirdPartyTransID,omitempty"`
	MSISDN            string              `json:"MSISDN"`
	FirstName         string              `json:"FirstName,omitempty"`
	MiddleName        string              `json:"MiddleName,omitempty"`
	LastName          string              `json:"LastName,omitempty"`
}

// AsMap flattens the payload for webhook logs.
func (p MpesaConfirmation) AsMap() map[string]interface{} {
	m := map[string]interface{}{
		"TransactionType":   p.TransactionType,
		"TransID":           p.TransID,
		"TransTime":         p.TransTime,
		"BusinessShortCode": p.BusinessShortCode,
		"BillRefNumber":     p.BillRefNumber,
		"MSISDN":            p.MSISDN,
	}
	if p.TransAmount.Valid {
		m["TransAmount"] = p.TransAmount.Decimal.String()
	}
	return m
}

type MpesaResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

const (
	ResultAccepted = 0
	ResultRejected = 1
)

func Accepted() MpesaResponse {
	return MpesaResponse{ResultCode: ResultAccepted, ResultDesc: "Accepted"}
}

func Rejected(desc string) MpesaResponse {
	if desc == "" {
		desc = "Rejected"
	}
	return MpesaResponse{ResultCode: ResultRejected, ResultDesc: desc}
}
