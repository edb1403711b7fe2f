package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var (
	keyPrefix = []byte("report/")
	seqKey    = []byte("seq/report")
)

type badgerOutbox struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens an Outbox persisted in the directory.
func Open(dir string) (Outbox, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open outbox sequence: %w", err)
	}
	return &badgerOutbox{db: db, seq: seq}, nil
}

func entryKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, keyPrefix...), seq)
}

func (b *badgerOutbox) Put(_ context.Context, e Entry) (uint64, error) {
	// badger sequences start at 0. The first entry is 1, as Memory does.
	n, err := b.seq.Next()
	if err != nil {
		return 0, err
	}
	e.Seq = n + 1

	buf, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Seq), buf)
	}); err != nil {
		return 0, err
	}
	return e.Seq, nil
}

func (b *badgerOutbox) Pending(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("broken entry %x: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *badgerOutbox) Ack(_ context.Context, seq uint64) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(seq))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *badgerOutbox) Close() error {
	return errors.Join(b.seq.Release(), b.db.Close())
}
