package payfast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type GatewayConfig struct {
	Merchant MerchantConfig
	URLs     CheckoutURLs
	// ValidateWithServer posts every notification back to PayFast before trusting it.
	ValidateWithServer bool
	// CheckSource rejects notifications whose remote address is not a PayFast host.
	CheckSource bool
}

// Gateway is the PayFast implementation of ports.PaymentGateway.
type Gateway struct {
	cfg       GatewayConfig
	validator *Validator
	logger    *slog.Logger
}

var _ ports.PaymentGateway = (*Gateway)(nil)

// NewGateway accepts a nil validator when neither remote check is enabled.
func NewGateway(logger *slog.Logger, cfg GatewayConfig, validator *Validator) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       cfg,
		validator: validator,
		logger:    logger.With("module", "payfast", "layer", "adapter"),
	}
}

func (g *Gateway) VerifyNotification(ctx context.Context, body []byte, remoteIP string) (ports.PaymentNotification, error) {
	n, err := ParseNotification(body)
	if err != nil {
		return ports.PaymentNotification{}, err
	}
	if err := Verify(n, g.cfg.Merchant.Passphrase); err != nil {
		return ports.PaymentNotification{}, err
	}
	if want := g.cfg.Merchant.MerchantID; want != "" && n.MerchantID() != "" && n.MerchantID() != want {
		return ports.PaymentNotification{}, fmt.Errorf("%w: merchant id %q", domain.ErrPaymentRejected, n.MerchantID())
	}
	if g.cfg.CheckSource && g.validator != nil {
		if err := g.validator.CheckSource(ctx, remoteIP); err != nil {
			return ports.PaymentNotification{}, err
		}
	}
	if g.cfg.ValidateWithServer && g.validator != nil {
		if err := g.validator.ValidateWithServer(ctx, n); err != nil {
			return ports.PaymentNotification{}, err
		}
	}

	amount, hasAmount := n.AmountGross()
	return ports.PaymentNotification{
		OrderID:       n.OrderID(),
		PaymentID:     n.PaymentID(),
		PaymentStatus: n.PaymentStatus(),
		AmountGross:   amount,
		HasAmount:     hasAmount,
		Fields:        n.Fields.Map(),
		DedupKey:      n.DedupKey(),
	}, nil
}

func (g *Gateway) Checkout(order domain.Order) ports.CheckoutForm {
	req := BuildCheckout(g.cfg.Merchant, g.cfg.URLs, order)
	form := ports.CheckoutForm{
		ProcessURL: req.ProcessURL,
		Fields:     make([]ports.FormField, 0, len(req.Fields)+1),
	}
	for _, f := range req.Fields {
		if f.Value == "" {
			continue
		}
		form.Fields = append(form.Fields, ports.FormField{Name: f.Key, Value: f.Value})
	}
	form.Fields = append(form.Fields, ports.FormField{Name: signatureField, Value: req.Signature})
	return form
}
