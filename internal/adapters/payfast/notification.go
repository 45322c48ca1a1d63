package payfast

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

const (
	StatusComplete  = "COMPLETE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusPending   = "PENDING"
)

// Notification is a parsed ITN body.
type Notification struct {
	Fields    Fields
	Signature string
}

func (n Notification) OrderID() string       { return n.Fields.Get("m_payment_id") }
func (n Notification) PaymentID() string     { return n.Fields.Get("pf_payment_id") }
func (n Notification) PaymentStatus() string { return strings.ToUpper(n.Fields.Get("payment_status")) }
func (n Notification) MerchantID() string    { return n.Fields.Get("merchant_id") }

func (n Notification) AmountGross() (float64, bool) {
	raw := strings.TrimSpace(n.Fields.Get("amount_gross"))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DedupKey identifies one delivery outcome for one PayFast payment.
func (n Notification) DedupKey() string {
	id := n.PaymentID()
	if id == "" {
		id = n.OrderID()
	}
	return id + ":" + n.PaymentStatus()
}

// ParseNotification decodes an application/x-www-form-urlencoded body,
// preserving the order fields were posted in.
func ParseNotification(body []byte) (Notification, error) {
	var n Notification
	for _, pair := range strings.Split(string(body), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: bad field name %q", domain.ErrInvalidInput, rawKey)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: bad value for %s", domain.ErrInvalidInput, key)
		}
		if key == signatureField {
			n.Signature = value
			continue
		}
		n.Fields = append(n.Fields, Field{Key: key, Value: value})
	}
	if len(n.Fields) == 0 {
		return Notification{}, fmt.Errorf("%w: empty notification", domain.ErrInvalidInput)
	}
	return n, nil
}
