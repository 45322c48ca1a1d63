package postgres

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

type orderModel struct {
	ID              string    `gorm:"column:id;primaryKey"`
	OrderNumber     string    `gorm:"column:order_number"`
	CustomerName    string    `gorm:"column:customer_name"`
	CustomerEmail   string    `gorm:"column:customer_email"`
	CustomerPhone   string    `gorm:"column:customer_phone"`
	CustomerAddress []byte    `gorm:"column:customer_address;type:jsonb"`
	Items           []byte    `gorm:"column:items;type:jsonb"`
	Subtotal        float64   `gorm:"column:subtotal"`
	Shipping        float64   `gorm:"column:shipping"`
	Total           float64   `gorm:"column:total"`
	Status          string    `gorm:"column:status"`
	PaymentStatus   string    `gorm:"column:payment_status"`
	PaymentID       string    `gorm:"column:payment_id"`
	PaymentData     []byte    `gorm:"column:payment_data;type:jsonb"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

type orderSequenceModel struct {
	Day       string `gorm:"column:day;primaryKey"`
	LastValue int    `gorm:"column:last_value"`
}

func (orderSequenceModel) TableName() string { return "order_sequences" }

func toOrderModel(o domain.Order) (orderModel, error) {
	address, err := json.Marshal(o.CustomerAddress)
	if err != nil {
		return orderModel{}, fmt.Errorf("encode address: %w", err)
	}
	items := o.Items
	if items == nil {
		items = []domain.OrderItem{}
	}
	itemsRaw, err := json.Marshal(items)
	if err != nil {
		return orderModel{}, fmt.Errorf("encode items: %w", err)
	}
	var paymentData []byte
	if len(o.PaymentData) > 0 {
		if paymentData, err = json.Marshal(o.PaymentData); err != nil {
			return orderModel{}, fmt.Errorf("encode payment data: %w", err)
		}
	}
	return orderModel{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		CustomerAddress: address,
		Items:           itemsRaw,
		Subtotal:        o.Subtotal,
		Shipping:        o.Shipping,
		Total:           o.Total,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		PaymentID:       o.PaymentID,
		PaymentData:     paymentData,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}, nil
}

func toDomainOrder(rec orderModel) (domain.Order, error) {
	out := domain.Order{
		ID:            rec.ID,
		OrderNumber:   rec.OrderNumber,
		CustomerName:  rec.CustomerName,
		CustomerEmail: rec.CustomerEmail,
		CustomerPhone: rec.CustomerPhone,
		Subtotal:      rec.Subtotal,
		Shipping:      rec.Shipping,
		Total:         rec.Total,
		Status:        domain.OrderStatus(rec.Status),
		PaymentStatus: domain.PaymentStatus(rec.PaymentStatus),
		PaymentID:     rec.PaymentID,
		CreatedAt:     rec.CreatedAt.UTC(),
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}
	if len(rec.CustomerAddress) > 0 {
		if err := json.Unmarshal(rec.CustomerAddress, &out.CustomerAddress); err != nil {
			return domain.Order{}, fmt.Errorf("decode address for %s: %w", rec.ID, err)
		}
	}
	if len(rec.Items) > 0 {
		if err := json.Unmarshal(rec.Items, &out.Items); err != nil {
			return domain.Order{}, fmt.Errorf("decode items for %s: %w", rec.ID, err)
		}
	}
	if len(rec.PaymentData) > 0 {
		if err := json.Unmarshal(rec.PaymentData, &out.PaymentData); err != nil {
			return domain.Order{}, fmt.Errorf("decode payment data for %s: %w", rec.ID, err)
		}
	}
	return out, nil
}
