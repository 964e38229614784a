package store

import (
	"encoding/json"
	"fmt"

	"github.com/phnomcobra/stembot/internal/logging"
)

// Collection is the typed handle application code uses, mirroring
// original_source's Collection(Document) wrapper: CreateAttribute,
// Find/FindObjuuids, NewObject/Get, and per-object Set/Destroy via Entry.
type Collection[T any] struct {
	doc *document
}

// Open returns a Collection bound to (connStr, name). Two Opens with the
// same pair share the same underlying rows (spec.md §4.2).
func Open[T any](connStr, name string, log *logging.Logger) (*Collection[T], error) {
	doc, err := openDocument(connStr, name, log)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{doc: doc}, nil
}

// MemoryConnStr returns the shared-cache in-memory sqlite connection
// string for the given logical store name, matching the original's
// 'file::memory:?cache=shared' in-memory collections: every in-memory
// Collection sharing `name` resolves to the same backing tables.
func MemoryConnStr(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

// CreateAttribute declares an index on path, rebuilding it over every
// existing object (spec.md §4.2).
func (c *Collection[T]) CreateAttribute(name, path string) error {
	return c.doc.createAttribute(name, path)
}

// Entry pairs an object's id with its decoded value and lets callers
// Set/Destroy it.
type Entry[T any] struct {
	Objuuid string
	Value   T
	coll    *Collection[T]
}

// Set re-encodes and stores Value, rebuilding this object's index rows.
func (e *Entry[T]) Set() error {
	data, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("encoding object %s: %w", e.Objuuid, err)
	}
	return e.coll.doc.setObject(e.Objuuid, data)
}

// Destroy removes the object and its index rows.
func (e *Entry[T]) Destroy() error {
	return e.coll.doc.deleteObject(e.Objuuid)
}

// NewObject creates a fresh row, stores value, and returns its Entry.
func (c *Collection[T]) NewObject(value T) (*Entry[T], error) {
	objuuid, err := c.doc.createObject()
	if err != nil {
		return nil, err
	}
	e := &Entry[T]{Objuuid: objuuid, Value: value, coll: c}
	if err := e.Set(); err != nil {
		return nil, err
	}
	return e, nil
}

// Get fetches one object by id.
func (c *Collection[T]) Get(objuuid string) (*Entry[T], error) {
	data, err := c.doc.getObject(objuuid)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding object %s: %w", objuuid, err)
	}
	return &Entry[T]{Objuuid: objuuid, Value: v, coll: c}, nil
}

// Find returns every object matching every clause in q (AND semantics).
// An empty/nil Query returns every object in the collection.
func (c *Collection[T]) Find(q Query) ([]*Entry[T], error) {
	ids, err := c.doc.findObjuuids(q)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry[T], 0, len(ids))
	for _, id := range ids {
		e, err := c.Get(id)
		if err != nil {
			if err == errNotFound {
				continue // destroyed concurrently between the two steps
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// FindObjuuids is Find without decoding, used by callers that only need
// membership (e.g. peer.Table.LoadPersistent checking "is there a peer
// with this agtuuid").
func (c *Collection[T]) FindObjuuids(q Query) ([]string, error) {
	return c.doc.findObjuuids(q)
}

// List is Find(nil).
func (c *Collection[T]) List() ([]*Entry[T], error) {
	return c.Find(nil)
}

// Eq builds a single-clause naked-equality Query, the common case.
func Eq(attr, value string) Query {
	return Query{{Attribute: attr, Op: OpEq, Value: value}}
}
