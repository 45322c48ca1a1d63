package payfast

import (
	"fmt"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

type MerchantConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Sandbox     bool
}

type CheckoutURLs struct {
	ReturnURL string
	CancelURL string
	NotifyURL string
}

// CheckoutRequest is what the storefront posts to PayFast's process page.
type CheckoutRequest struct {
	ProcessURL string
	Fields     Fields
	Signature  string
}

func ProcessURL(sandbox bool) string {
	return "https://" + Host(sandbox) + "/eng/process"
}

// BuildCheckout lists the checkout fields in the order PayFast documents and signs them.
func BuildCheckout(cfg MerchantConfig, urls CheckoutURLs, order domain.Order) CheckoutRequest {
	first, last := splitName(order.CustomerName)
	fields := Fields{
		{Key: "merchant_id", Value: cfg.MerchantID},
		{Key: "merchant_key", Value: cfg.MerchantKey},
		{Key: "return_url", Value: urls.ReturnURL},
		{Key: "cancel_url", Value: urls.CancelURL},
		{Key: "notify_url", Value: urls.NotifyURL},
		{Key: "name_first", Value: first},
		{Key: "name_last", Value: last},
		{Key: "email_address", Value: order.CustomerEmail},
		{Key: "cell_number", Value: digitsOnly(order.CustomerPhone)},
		{Key: "m_payment_id", Value: order.ID},
		{Key: "amount", Value: fmt.Sprintf("%.2f", order.Total)},
		{Key: "item_name", Value: "Aloe Signs Order " + order.OrderNumber},
		{Key: "item_description", Value: describeItems(order.Items)},
	}
	return CheckoutRequest{
		ProcessURL: ProcessURL(cfg.Sandbox),
		Fields:     fields,
		Signature:  Signature(fields, cfg.Passphrase),
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PayFast caps item_description at 255 characters.
func describeItems(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Name))
	}
	desc := strings.Join(parts, ", ")
	if len(desc) > 255 {
		desc = desc[:252] + "..."
	}
	return desc
}
