package ports

import (
	"context"
	"strings"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

type OrderQuery struct {
	Status        domain.OrderStatus
	CustomerEmail string
	Limit         int
	Offset        int
}

// OrderRepository is implemented by every storage driver (json file, postgres, badger).
type OrderRepository interface {
	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	// EnsureOrderSequence raises the day's last issued sequence to at least floor.
	// It never lowers it.
	EnsureOrderSequence(ctx context.Context, day time.Time, floor int) error
	Create(ctx context.Context, order domain.Order) error
	GetByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByReference matches either the order id or the order number.
	FindByReference(ctx context.Context, ref string) (domain.Order, error)
	// LatestByEmail returns the most recently created order for a customer email, case-insensitively.
	LatestByEmail(ctx context.Context, email string) (domain.Order, error)
	List(ctx context.Context, query OrderQuery) ([]domain.Order, int, error)
	// Update loads the order, applies mutate and persists the result atomically.
	// A mutate error aborts the write and is returned unchanged.
	Update(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error)
	Close() error
}

// MatchesQuery is shared by drivers that filter in process.
func MatchesQuery(order domain.Order, query OrderQuery) bool {
	if query.Status != "" && order.Status != query.Status {
		return false
	}
	if query.CustomerEmail != "" && !strings.EqualFold(order.CustomerEmail, query.CustomerEmail) {
		return false
	}
	return true
}

// Paginate applies limit/offset to an already sorted slice. A non-positive limit returns everything after offset.
func Paginate(orders []domain.Order, limit, offset int) []domain.Order {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(orders) {
		return []domain.Order{}
	}
	end := len(orders)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return orders[offset:end]
}
