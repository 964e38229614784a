package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// KV is the flat, non-indexed persistent store backing the daemon's
// kvstore collection (agtuuid, socket_host, socket_port, secret_digest;
// spec.md §6). Grounded on omni/internal/kv/kv.go's KVStore interface,
// trimmed to the Get/Set/Delete surface this spec actually needs —
// nothing here requires omni's namespacing, graph, or batch machinery.
type KV struct {
	db *badger.DB
}

// OpenKV opens (or creates) a badger database at dir. dir == "" opens an
// in-memory badger instance, useful for tests.
func OpenKV(dir string) (*KV, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening kvstore: %w", err)
	}
	return &KV{db: db}, nil
}

func (kv *KV) Close() error { return kv.db.Close() }

// Get decodes the value stored under name into out, matching the
// original's kvstore.get(name, default) two-path behavior: the caller
// supplies `out` pre-populated with the default and Get leaves it
// untouched (returning ErrNotFound) if the key is absent.
func (kv *KV) Get(name string, out any) error {
	return kv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, out)
		})
	})
}

// GetOrSetDefault returns the stored value for name, or persists and
// returns def if absent — the exact get(name, default) pattern
// original_source/stembot/dao/kvstore.py implements.
func (kv *KV) GetOrSetDefault(name string, def, out any) error {
	err := kv.Get(name, out)
	if err == nil {
		return nil
	}
	if err != ErrNotFound {
		return err
	}
	if err := kv.Set(name, def); err != nil {
		return err
	}
	return kv.Get(name, out)
}

func (kv *KV) Set(name string, value any) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return kv.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(name), data))
	})
}

func (kv *KV) Delete(name string) error {
	return kv.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
}
