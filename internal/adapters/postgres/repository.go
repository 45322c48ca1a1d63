package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type orderRepository struct {
	db *gorm.DB
}

var _ ports.OrderRepository = (*orderRepository)(nil)

func NewOrderRepository(db *gorm.DB) ports.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	var next int
	err := r.db.WithContext(ctx).Raw(
		`INSERT INTO order_sequences (day, last_value) VALUES (?, 1)
		 ON CONFLICT (day) DO UPDATE SET last_value = order_sequences.last_value + 1
		 RETURNING last_value`,
		day.UTC().Format("20060102"),
	).Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return next, nil
}

func (r *orderRepository) EnsureOrderSequence(ctx context.Context, day time.Time, floor int) error {
	if floor <= 0 {
		return nil
	}
	rec := orderSequenceModel{Day: day.UTC().Format("20060102"), LastValue: floor}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_value": gorm.Expr("GREATEST(order_sequences.last_value, EXCLUDED.last_value)"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("ensure order sequence: %w", err)
	}
	return nil
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	rec, err := toOrderModel(order)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.OrderNumber)
		}
		return err
	}
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", orderID))
}

func (r *orderRepository) FindByReference(ctx context.Context, ref string) (domain.Order, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ? OR order_number = ?", ref, ref))
}

func (r *orderRepository) LatestByEmail(ctx context.Context, email string) (domain.Order, error) {
	return r.take(r.db.WithContext(ctx).
		Where("lower(customer_email) = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at DESC"))
}

func (r *orderRepository) List(ctx context.Context, query ports.OrderQuery) ([]domain.Order, int, error) {
	tx := r.db.WithContext(ctx).Model(&orderModel{})
	if query.Status != "" {
		tx = tx.Where("status = ?", string(query.Status))
	}
	if query.CustomerEmail != "" {
		tx = tx.Where("lower(customer_email) = ?", strings.ToLower(strings.TrimSpace(query.CustomerEmail)))
	}
	tx = tx.Session(&gorm.Session{})
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := tx.Order("created_at DESC")
	if query.Limit > 0 {
		page = page.Limit(query.Limit)
	}
	if query.Offset > 0 {
		page = page.Offset(query.Offset)
	}
	var rows []orderModel
	if err := page.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		o, err := toDomainOrder(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, int(total), nil
}

// Update holds a row lock for the duration of mutate so concurrent
// notifications for the same order apply one after the other.
func (r *orderRepository) Update(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	var updated domain.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec orderModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", orderID).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		current, err := toDomainOrder(rec)
		if err != nil {
			return err
		}
		if err := mutate(&current); err != nil {
			return err
		}
		current.ID = orderID
		next, err := toOrderModel(current)
		if err != nil {
			return err
		}
		if err := tx.Model(&orderModel{}).Where("id = ?", orderID).Updates(map[string]any{
			"customer_name":    next.CustomerName,
			"customer_email":   next.CustomerEmail,
			"customer_phone":   next.CustomerPhone,
			"customer_address": next.CustomerAddress,
			"items":            next.Items,
			"subtotal":         next.Subtotal,
			"shipping":         next.Shipping,
			"total":            next.Total,
			"status":           next.Status,
			"payment_status":   next.PaymentStatus,
			"payment_id":       next.PaymentID,
			"payment_data":     next.PaymentData,
			"updated_at":       next.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *orderRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *orderRepository) take(tx *gorm.DB) (domain.Order, error) {
	var rec orderModel
	if err := tx.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, err
	}
	return toDomainOrder(rec)
}
