// Package notify renders the plain-text emails sent around an order's lifecycle.
package notify

import (
	"bytes"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const (
	KindConfirmation  = "confirmation"
	KindStatusUpdate  = "status_update"
	KindAdminNewOrder = "admin_new_order"

	DefaultSiteURL = "http://localhost:3000"
)

type Config struct {
	SiteURL string
	// AdminEmail receives new-order notifications. Empty disables them.
	AdminEmail   string
	ContactEmail string
	ContactPhone string
	// Location used for dates in message bodies; defaults to Africa/Johannesburg.
	Location *time.Location
}

type Composer struct {
	cfg          Config
	confirmation *template.Template
	statusUpdate *template.Template
	admin        *template.Template
	nowFn        func() time.Time
}

func NewComposer(cfg Config) (*Composer, error) {
	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	if cfg.SiteURL == "" {
		cfg.SiteURL = DefaultSiteURL
	}
	if cfg.ContactEmail == "" {
		cfg.ContactEmail = "team@aloesigns.co.za"
	}
	if cfg.ContactPhone == "" {
		cfg.ContactPhone = "011 693 2600"
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Africa/Johannesburg")
		if err != nil {
			loc = time.FixedZone("SAST", 2*60*60)
		}
		cfg.Location = loc
	}

	c := &Composer{cfg: cfg, nowFn: time.Now}
	var err error
	if c.confirmation, err = parseTemplate(KindConfirmation, confirmationTemplate, cfg.Location); err != nil {
		return nil, err
	}
	if c.statusUpdate, err = parseTemplate(KindStatusUpdate, statusUpdateTemplate, cfg.Location); err != nil {
		return nil, err
	}
	if c.admin, err = parseTemplate(KindAdminNewOrder, adminTemplate, cfg.Location); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Composer) SiteURL() string { return c.cfg.SiteURL }

// TrackingURL points the customer at the storefront's order tracking page.
func (c *Composer) TrackingURL(orderNumber string) string {
	return c.cfg.SiteURL + "/order/track?q=" + url.QueryEscape(orderNumber)
}

func (c *Composer) AdminOrderURL(orderID string) string {
	return c.cfg.SiteURL + "/admin/orders/" + url.PathEscape(orderID)
}

func (c *Composer) OrderConfirmation(order domain.Order) (ports.EmailMessage, error) {
	body, err := c.render(c.confirmation, order)
	if err != nil {
		return ports.EmailMessage{}, err
	}
	return ports.EmailMessage{
		Kind:     KindConfirmation,
		FromName: "Aloe Signs",
		To:       order.CustomerEmail,
		Subject:  "Order Confirmation - " + order.OrderNumber,
		Body:     body,
	}, nil
}

func (c *Composer) StatusUpdate(order domain.Order) (ports.EmailMessage, error) {
	body, err := c.render(c.statusUpdate, order)
	if err != nil {
		return ports.EmailMessage{}, err
	}
	return ports.EmailMessage{
		Kind:     KindStatusUpdate,
		FromName: "Aloe Signs",
		To:       order.CustomerEmail,
		Subject:  "Order Update - " + order.OrderNumber,
		Body:     body,
	}, nil
}

// AdminNewOrder returns ok=false when no admin address is configured.
func (c *Composer) AdminNewOrder(order domain.Order) (msg ports.EmailMessage, ok bool, err error) {
	if c.cfg.AdminEmail == "" {
		return ports.EmailMessage{}, false, nil
	}
	body, err := c.render(c.admin, order)
	if err != nil {
		return ports.EmailMessage{}, false, err
	}
	return ports.EmailMessage{
		Kind:     KindAdminNewOrder,
		FromName: "Aloe Signs Website",
		To:       c.cfg.AdminEmail,
		Subject:  "New Order Received - " + order.OrderNumber,
		Body:     body,
	}, true, nil
}

func (c *Composer) render(tmpl *template.Template, order domain.Order) (string, error) {
	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, tmpl.Name(), templateData{
		Order:        order,
		TrackingURL:  c.TrackingURL(order.OrderNumber),
		AdminURL:     c.AdminOrderURL(order.ID),
		ContactEmail: c.cfg.ContactEmail,
		ContactPhone: c.cfg.ContactPhone,
		Year:         c.nowFn().In(c.cfg.Location).Year(),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
