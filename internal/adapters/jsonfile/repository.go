// Package jsonfile stores orders as a single JSON array on disk, the format the
// storefront has always written to data/orders.json.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

// Repository reads and rewrites the whole file on every call. The mutex
// serialises read-modify-write cycles within the process and writes go through
// a temp file + rename so readers never observe a partial file.
type Repository struct {
	mu       sync.Mutex
	path     string
	reserved map[string]int
}

var _ ports.OrderRepository = (*Repository)(nil)

func NewRepository(path string) *Repository {
	return &Repository{
		path:     path,
		reserved: make(map[string]int),
	}
}

func (r *Repository) NextOrderSequence(_ context.Context, day time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return 0, err
	}
	key := day.UTC().Format("20060102")
	prefix := "ORD-" + key + "-"
	maxSeq := r.reserved[key]
	for _, o := range orders {
		if !strings.HasPrefix(o.OrderNumber, prefix) {
			continue
		}
		if n, convErr := strconv.Atoi(strings.TrimPrefix(o.OrderNumber, prefix)); convErr == nil && n > maxSeq {
			maxSeq = n
		}
	}
	r.reserved[key] = maxSeq + 1
	return maxSeq + 1, nil
}

func (r *Repository) EnsureOrderSequence(_ context.Context, day time.Time, floor int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := day.UTC().Format("20060102")
	if floor > r.reserved[key] {
		r.reserved[key] = floor
	}
	return nil
}

func (r *Repository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.ID == order.ID || o.OrderNumber == order.OrderNumber {
			return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.OrderNumber)
		}
	}
	orders = append(orders, order)
	return r.save(orders)
}

func (r *Repository) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == orderID })
}

func (r *Repository) FindByReference(_ context.Context, ref string) (domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == ref || o.OrderNumber == ref })
}

func (r *Repository) LatestByEmail(_ context.Context, email string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}
	var (
		latest domain.Order
		found  bool
	)
	for _, o := range orders {
		if !strings.EqualFold(o.CustomerEmail, email) {
			continue
		}
		if !found || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
			found = true
		}
	}
	if !found {
		return domain.Order{}, domain.ErrNotFound
	}
	return latest, nil
}

func (r *Repository) List(_ context.Context, query ports.OrderQuery) ([]domain.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return nil, 0, err
	}
	filtered := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if ports.MatchesQuery(o, query) {
			filtered = append(filtered, o)
		}
	}
	slices.SortStableFunc(filtered, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return ports.Paginate(filtered, query.Limit, query.Offset), len(filtered), nil
}

func (r *Repository) Update(_ context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}
	idx := slices.IndexFunc(orders, func(o domain.Order) bool { return o.ID == orderID })
	if idx < 0 {
		return domain.Order{}, domain.ErrNotFound
	}
	updated := orders[idx]
	if err := mutate(&updated); err != nil {
		return domain.Order{}, err
	}
	updated.ID = orderID
	orders[idx] = updated
	if err := r.save(orders); err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *Repository) Close() error { return nil }

func (r *Repository) find(match func(domain.Order) bool) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.load()
	if err != nil {
		return domain.Order{}, err
	}
	for _, o := range orders {
		if match(o) {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

// load treats a missing or empty file as no orders. A file that exists but does
// not parse is an error: silently starting over would discard every order on
// the next write.
func (r *Repository) load() ([]domain.Order, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.Order{}, nil
		}
		return nil, fmt.Errorf("read orders file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return []domain.Order{}, nil
	}
	var orders []domain.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("parse orders file %s: %w", r.path, err)
	}
	return orders, nil
}

func (r *Repository) save(orders []domain.Order) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("encode orders: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".orders-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	// CreateTemp opens 0600; keep the existing file's mode instead.
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(r.path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod orders: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write orders: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync orders: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close orders: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		cleanup()
		return fmt.Errorf("replace orders file: %w", err)
	}
	return nil
}
