package ports

import (
	"context"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

// PaymentNotification is an authenticated notification from the payment provider.
type PaymentNotification struct {
	OrderID   string
	PaymentID string
	// PaymentStatus is the provider status, upper-cased (COMPLETE, FAILED, ...).
	PaymentStatus string
	AmountGross   float64
	HasAmount     bool
	// Fields are the posted fields without the signature.
	Fields   map[string]string
	DedupKey string
}

type FormField struct {
	Name  string
	Value string
}

// CheckoutForm is posted by the browser to the provider's hosted payment page.
type CheckoutForm struct {
	ProcessURL string
	Fields     []FormField
}

type PaymentGateway interface {
	// VerifyNotification decodes a raw notification body and runs every configured
	// authenticity check. Failures wrap ErrInvalidInput, ErrInvalidSignature or
	// ErrPaymentRejected.
	VerifyNotification(ctx context.Context, body []byte, remoteIP string) (PaymentNotification, error)
	Checkout(order domain.Order) CheckoutForm
}
