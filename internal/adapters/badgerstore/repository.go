// Package badgerstore is an embedded order store for single-node deployments
// that want more than a JSON file but no database server.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const (
	orderKeyPrefix  = "order:"
	numberKeyPrefix = "order_number:"
	emailKeyPrefix  = "email:"
	seqKeyPrefix    = "seq:"

	conflictRetries = 32
	sortableTime    = "20060102T150405.000000000Z"
)

type Repository struct {
	db    *badger.DB
	seqMu sync.Mutex
}

var _ ports.OrderRepository = (*Repository)(nil)

// Open opens (or creates) a store in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Repository, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Repository{db: db}, nil
}

func orderKey(id string) []byte { return []byte(orderKeyPrefix + id) }

func numberKey(number string) []byte { return []byte(numberKeyPrefix + number) }

func emailPrefix(email string) string {
	return emailKeyPrefix + strings.ToLower(strings.TrimSpace(email)) + ":"
}

func emailKey(o domain.Order) []byte {
	return []byte(emailPrefix(o.CustomerEmail) + o.CreatedAt.UTC().Format(sortableTime) + ":" + o.ID)
}

func (r *Repository) NextOrderSequence(_ context.Context, day time.Time) (int, error) {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	var next uint64
	key := sequenceKey(day)
	err := r.update(func(txn *badger.Txn) error {
		last, err := readSequence(txn, key)
		if err != nil {
			return err
		}
		next = last + 1
		return writeSequence(txn, key, next)
	})
	if err != nil {
		return 0, fmt.Errorf("next order sequence: %w", err)
	}
	return int(next), nil
}

func (r *Repository) EnsureOrderSequence(_ context.Context, day time.Time, floor int) error {
	if floor <= 0 {
		return nil
	}
	r.seqMu.Lock()
	defer r.seqMu.Unlock()

	key := sequenceKey(day)
	err := r.update(func(txn *badger.Txn) error {
		last, err := readSequence(txn, key)
		if err != nil || last >= uint64(floor) {
			return err
		}
		return writeSequence(txn, key, uint64(floor))
	})
	if err != nil {
		return fmt.Errorf("ensure order sequence: %w", err)
	}
	return nil
}

func sequenceKey(day time.Time) []byte {
	return []byte(seqKeyPrefix + day.UTC().Format("20060102"))
}

// readSequence returns the last issued value, zero when the day has none.
func readSequence(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value for %s", key)
		}
		last = binary.BigEndian.Uint64(val)
		return nil
	})
	return last, err
}

func writeSequence(txn *badger.Txn, key []byte, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return txn.Set(key, buf)
}

func (r *Repository) Create(_ context.Context, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	return r.update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{orderKey(order.ID), numberKey(order.OrderNumber)} {
			if _, err := txn.Get(key); err == nil {
				return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, order.OrderNumber)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Set(orderKey(order.ID), data); err != nil {
			return fmt.Errorf("set order: %w", err)
		}
		if err := txn.Set(numberKey(order.OrderNumber), []byte(order.ID)); err != nil {
			return fmt.Errorf("set order number index: %w", err)
		}
		if err := txn.Set(emailKey(order), []byte(order.ID)); err != nil {
			return fmt.Errorf("set email index: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetByID(_ context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = getOrder(txn, orderID)
		return err
	})
	return out, err
}

func (r *Repository) FindByReference(_ context.Context, ref string) (domain.Order, error) {
	var out domain.Order
	err := r.db.View(func(txn *badger.Txn) error {
		o, err := getOrder(txn, ref)
		if err == nil {
			out = o
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		item, err := txn.Get(numberKey(ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out, err = getOrder(txn, string(id))
		return err
	})
	return out, err
}

func (r *Repository) LatestByEmail(_ context.Context, email string) (domain.Order, error) {
	var out domain.Order
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(emailPrefix(email))
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			o, err := getOrder(txn, string(id))
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = o
			return nil
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *Repository) List(_ context.Context, query ports.OrderQuery) ([]domain.Order, int, error) {
	var filtered []domain.Order
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(orderKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var o domain.Order
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &o)
			}); err != nil {
				return fmt.Errorf("decode order: %w", err)
			}
			if ports.MatchesQuery(o, query) {
				filtered = append(filtered, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortStableFunc(filtered, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return ports.Paginate(filtered, query.Limit, query.Offset), len(filtered), nil
}

// Update retries on transaction conflicts, so mutate may run more than once.
func (r *Repository) Update(_ context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	var updated domain.Order
	err := r.update(func(txn *badger.Txn) error {
		current, err := getOrder(txn, orderID)
		if err != nil {
			return err
		}
		oldEmailKey := emailKey(current)
		if err := mutate(&current); err != nil {
			return err
		}
		current.ID = orderID
		data, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		if err := txn.Set(orderKey(orderID), data); err != nil {
			return err
		}
		if newEmailKey := emailKey(current); string(newEmailKey) != string(oldEmailKey) {
			if err := txn.Delete(oldEmailKey); err != nil {
				return err
			}
			if err := txn.Set(newEmailKey, []byte(orderID)); err != nil {
				return err
			}
		}
		updated = current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getOrder(txn *badger.Txn, id string) (domain.Order, error) {
	item, err := txn.Get(orderKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	var o domain.Order
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &o)
	}); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", id, err)
	}
	return o, nil
}
