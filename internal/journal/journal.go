package journal

import (
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/tradewire/lobgo/internal/domain"
)

// Journal is an append-only on-disk record of order lifecycle changes,
// fed from the OrdersChanged event stream. It exists for post-mortem
// debugging of reconciliation: every state an order passed through is
// kept, keyed by order id and wall-clock nanos.
type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal at dir.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

type entry struct {
	Order      domain.Order `json:"order"`
	RecordedAt time.Time    `json:"recordedAt"`
}

func key(orderID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("order/%s/%020d", orderID, at.UnixNano()))
}

// Record appends one journal entry per order. Failures are returned but
// are safe to ignore by the caller; the journal is an observer, not a
// participant in reconciliation.
func (j *Journal) Record(orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	now := time.Now()
	return j.db.Update(func(txn *badger.Txn) error {
		for _, o := range orders {
			data, err := json.Marshal(entry{Order: o, RecordedAt: now})
			if err != nil {
				return errors.Wrapf(err, "marshal order %s", o.ID)
			}
			if err := txn.Set(key(o.ID, now), data); err != nil {
				return errors.Wrapf(err, "append order %s", o.ID)
			}
		}
		return nil
	})
}

// History returns the recorded lifecycle of one order, oldest first.
func (j *Journal) History(orderID string) ([]domain.Order, error) {
	prefix := []byte("order/" + orderID + "/")
	var out []domain.Order
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e.Order)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read journal")
	}
	return out, nil
}
