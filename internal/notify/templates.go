package notify

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

const confirmationTemplate = `ALOE SIGNS - ORDER CONFIRMATION

Hi {{ .Order.CustomerName }},

Thank you for your order! We've received your payment and will start processing your order shortly.

ORDER DETAILS:
Order Number: {{ .Order.OrderNumber }}
Order Date: {{ date .Order.CreatedAt }}
Payment Status: Completed

ORDER ITEMS:
{{ range .Order.Items }}{{ itemLine . }}
{{ end }}
Subtotal: R{{ price .Order.Subtotal }}
Shipping: {{ shipping .Order.Shipping }}
Total: R{{ price .Order.Total }}

DELIVERY ADDRESS:
{{ .Order.CustomerAddress.Street }}
{{ .Order.CustomerAddress.City }}, {{ .Order.CustomerAddress.Province }}
{{ .Order.CustomerAddress.PostalCode }}

TRACK YOUR ORDER:
{{ .TrackingURL }}
{{ template "contact" . }}`

const statusUpdateTemplate = `ALOE SIGNS - ORDER STATUS UPDATE

Hi {{ .Order.CustomerName }},

Your order status has been updated.

ORDER DETAILS:
Order Number: {{ .Order.OrderNumber }}
Current Status: {{ upper .Order.Status }}
Updated: {{ date .Order.UpdatedAt }}

VIEW ORDER DETAILS:
{{ .TrackingURL }}
{{ template "contact" . }}`

const contactTemplate = `{{ define "contact" }}
If you have any questions, contact us at:
Email: {{ .ContactEmail }}
Phone: {{ .ContactPhone }}

© {{ .Year }} Aloe Signs. All rights reserved.{{ end }}`

const adminTemplate = `NEW ORDER RECEIVED - Order #{{ .Order.OrderNumber }}

CUSTOMER DETAILS:
Name: {{ .Order.CustomerName }}
Email: {{ .Order.CustomerEmail }}
Phone: {{ .Order.CustomerPhone }}
Address: {{ .Order.CustomerAddress.Street }}, {{ .Order.CustomerAddress.City }}, {{ .Order.CustomerAddress.Province }} {{ .Order.CustomerAddress.PostalCode }}

ORDER ITEMS:
{{ range .Order.Items }}{{ itemLine . }}
{{ end }}
Total: R{{ price .Order.Total }}

PAYMENT STATUS: {{ .Order.PaymentStatus }}
ORDER STATUS: {{ .Order.Status }}
ORDER DATE: {{ datetime .Order.CreatedAt }}

VIEW IN ADMIN PANEL:
{{ .AdminURL }}`

type templateData struct {
	Order        domain.Order
	TrackingURL  string
	AdminURL     string
	ContactEmail string
	ContactPhone string
	Year         int
}

func funcMap(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"price":    FormatPrice,
		"shipping": formatShipping,
		"itemLine": itemLine,
		"upper": func(v domain.OrderStatus) string {
			return strings.ToUpper(string(v))
		},
		"date": func(t time.Time) string {
			return t.In(loc).Format("2006/01/02")
		},
		"datetime": func(t time.Time) string {
			return t.In(loc).Format("2006/01/02, 15:04:05")
		},
	}
}

func parseTemplate(name, body string, loc *time.Location) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcMap(loc)).Parse(body + contactTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

// FormatPrice renders rands with a space as the thousands separator, e.g. 1 234.50.
func FormatPrice(v float64) string {
	cents := int64(math.Round(math.Abs(v) * 100))
	whole := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	if v < 0 && cents != 0 {
		b.WriteByte('-')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	fmt.Fprintf(&b, ".%02d", cents%100)
	return b.String()
}

func formatShipping(v float64) string {
	if math.Abs(v) < 0.005 {
		return "FREE"
	}
	return "R" + FormatPrice(v)
}

func itemLine(item domain.OrderItem) string {
	name := item.Name
	if item.Size != "" {
		name += " (" + item.Size + ")"
	}
	return fmt.Sprintf("%s x %d - R%s", name, item.Quantity, FormatPrice(item.LineTotal()))
}
