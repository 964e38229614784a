package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/phnomcobra/stembot/internal/logging"
)

// registry keeps one *sql.DB and one lock per connection string, so two
// Collection handles opened against the same (name, in_memory) share the
// same underlying store (spec.md §4.2's handle-sharing requirement).
// Locks are plain sync.Mutex: every public Document/Collection method
// acquires and releases its connection's lock without calling back into
// another locking method, so the "reentrant" requirement of spec.md §5 is
// satisfied by construction rather than by an actual recursive mutex.
type registry struct {
	mu    sync.Mutex
	dbs   map[string]*sql.DB
	locks map[string]*sync.Mutex
}

var globalRegistry = &registry{dbs: map[string]*sql.DB{}, locks: map[string]*sync.Mutex{}}

func (r *registry) open(connStr string) (*sql.DB, *sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[connStr]; ok {
		return db, r.locks[connStr], nil
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", connStr, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 + cache=shared: serialize at the Go level too
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	r.dbs[connStr] = db
	lock := &sync.Mutex{}
	r.locks[connStr] = lock
	return db, lock, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS TBL_COLLECTIONS (
			COLUUID TEXT PRIMARY KEY,
			NAME TEXT UNIQUE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS TBL_OBJECTS (
			OBJUUID TEXT NOT NULL,
			COLUUID TEXT NOT NULL,
			VALUE BLOB,
			PRIMARY KEY (OBJUUID, COLUUID),
			FOREIGN KEY (COLUUID) REFERENCES TBL_COLLECTIONS(COLUUID) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS TBL_ATTRIBUTES (
			COLUUID TEXT NOT NULL,
			ATTRIBUTE TEXT NOT NULL,
			PATH TEXT NOT NULL,
			PRIMARY KEY (COLUUID, ATTRIBUTE),
			FOREIGN KEY (COLUUID) REFERENCES TBL_COLLECTIONS(COLUUID) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS TBL_INDEX (
			OBJUUID TEXT NOT NULL,
			COLUUID TEXT NOT NULL,
			ATTRIBUTE TEXT NOT NULL,
			VALUE TEXT,
			FOREIGN KEY (COLUUID) REFERENCES TBL_COLLECTIONS(COLUUID) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS IDX_TBL_INDEX_LOOKUP ON TBL_INDEX (COLUUID, ATTRIBUTE, VALUE)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// document is the low-level, untyped handle onto one collection's rows,
// modelled on original_source's Document class.
type document struct {
	db      *sql.DB
	lock    *sync.Mutex
	connStr string
	coluuid string
	name    string
	log     *logging.Logger
}

func openDocument(connStr, name string, log *logging.Logger) (*document, error) {
	db, lock, err := globalRegistry.open(connStr)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	var coluuid string
	err = db.QueryRow(`SELECT COLUUID FROM TBL_COLLECTIONS WHERE NAME = ?`, name).Scan(&coluuid)
	if err == sql.ErrNoRows {
		coluuid = newUUID()
		if _, err := db.Exec(`INSERT INTO TBL_COLLECTIONS (COLUUID, NAME) VALUES (?, ?)`, coluuid, name); err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", name, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("looking up collection %s: %w", name, err)
	}

	return &document{db: db, lock: lock, connStr: connStr, coluuid: coluuid, name: name, log: log}, nil
}

// createObject inserts an empty row and returns its new objuuid.
func (d *document) createObject() (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	objuuid := newUUID()
	if _, err := d.db.Exec(`INSERT INTO TBL_OBJECTS (OBJUUID, COLUUID, VALUE) VALUES (?, ?, ?)`, objuuid, d.coluuid, []byte("{}")); err != nil {
		return "", fmt.Errorf("creating object: %w", err)
	}
	return objuuid, nil
}

// setObject stores value (already-marshalled JSON) under objuuid and
// rebuilds that object's index rows. Missing paths are logged and
// skipped, not fatal (spec.md §4.2).
func (d *document) setObject(objuuid string, value []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, err := d.db.Exec(
		`INSERT INTO TBL_OBJECTS (OBJUUID, COLUUID, VALUE) VALUES (?, ?, ?)
		 ON CONFLICT (OBJUUID, COLUUID) DO UPDATE SET VALUE = excluded.VALUE`,
		objuuid, d.coluuid, value,
	); err != nil {
		return fmt.Errorf("storing object %s: %w", objuuid, err)
	}

	if _, err := d.db.Exec(`DELETE FROM TBL_INDEX WHERE OBJUUID = ? AND COLUUID = ?`, objuuid, d.coluuid); err != nil {
		return fmt.Errorf("clearing index for %s: %w", objuuid, err)
	}

	attrs, err := d.listAttributesLocked()
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(value, &generic); err != nil {
		return fmt.Errorf("decoding object %s for indexing: %w", objuuid, err)
	}
	for attr, path := range attrs {
		v, ok := readPath(generic, path)
		if !ok {
			if d.log != nil {
				d.log.Debug("skipping index %s/%s for %s: path %s not present", d.name, attr, objuuid, path)
			}
			continue
		}
		if _, err := d.db.Exec(
			`INSERT INTO TBL_INDEX (OBJUUID, COLUUID, ATTRIBUTE, VALUE) VALUES (?, ?, ?, ?)`,
			objuuid, d.coluuid, attr, stringify(v),
		); err != nil {
			return fmt.Errorf("indexing %s/%s for %s: %w", d.name, attr, objuuid, err)
		}
	}
	return nil
}

func (d *document) getObject(objuuid string) ([]byte, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	var value []byte
	err := d.db.QueryRow(`SELECT VALUE FROM TBL_OBJECTS WHERE OBJUUID = ? AND COLUUID = ?`, objuuid, d.coluuid).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", objuuid, err)
	}
	return value, nil
}

func (d *document) deleteObject(objuuid string) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, err := d.db.Exec(`DELETE FROM TBL_INDEX WHERE OBJUUID = ? AND COLUUID = ?`, objuuid, d.coluuid); err != nil {
		return err
	}
	_, err := d.db.Exec(`DELETE FROM TBL_OBJECTS WHERE OBJUUID = ? AND COLUUID = ?`, objuuid, d.coluuid)
	return err
}

func (d *document) listObjuuids() ([]string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	rows, err := d.db.Query(`SELECT OBJUUID FROM TBL_OBJECTS WHERE COLUUID = ?`, d.coluuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *document) createAttribute(name, path string) error {
	d.lock.Lock()
	if _, err := d.db.Exec(
		`INSERT INTO TBL_ATTRIBUTES (COLUUID, ATTRIBUTE, PATH) VALUES (?, ?, ?)
		 ON CONFLICT (COLUUID, ATTRIBUTE) DO UPDATE SET PATH = excluded.PATH`,
		d.coluuid, name, path,
	); err != nil {
		d.lock.Unlock()
		return fmt.Errorf("declaring attribute %s: %w", name, err)
	}
	ids, err := d.listObjuuidsLocked()
	if err != nil {
		d.lock.Unlock()
		return err
	}
	d.lock.Unlock()

	// Rebuild the index for every existing object (spec.md §4.2:
	// "Creating an attribute rebuilds its index over existing objects").
	for _, id := range ids {
		value, err := d.getObject(id)
		if err != nil {
			continue
		}
		if err := d.setObject(id, value); err != nil {
			return err
		}
	}
	return nil
}

func (d *document) listAttributesLocked() (map[string]string, error) {
	rows, err := d.db.Query(`SELECT ATTRIBUTE, PATH FROM TBL_ATTRIBUTES WHERE COLUUID = ?`, d.coluuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var attr, path string
		if err := rows.Scan(&attr, &path); err != nil {
			return nil, err
		}
		out[attr] = path
	}
	return out, rows.Err()
}

func (d *document) listObjuuidsLocked() ([]string, error) {
	rows, err := d.db.Query(`SELECT OBJUUID FROM TBL_OBJECTS WHERE COLUUID = ?`, d.coluuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// findObjuuids runs q against the index, ANDing every clause (set
// intersection), matching original_source/dao/document.py's find_objuuids.
func (d *document) findObjuuids(q Query) ([]string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if len(q) == 0 {
		return d.listObjuuidsLocked()
	}

	var result map[string]bool
	for _, clause := range q {
		matched, err := d.matchClauseLocked(clause)
		if err != nil {
			return nil, err
		}
		set := map[string]bool{}
		for _, id := range matched {
			set[id] = true
		}
		if result == nil {
			result = set
		} else {
			for id := range result {
				if !set[id] {
					delete(result, id)
				}
			}
		}
	}
	out := make([]string, 0, len(result))
	for id := range result {
		out = append(out, id)
	}
	return out, nil
}

func (d *document) matchClauseLocked(c Clause) ([]string, error) {
	if directOps[c.Op] && !orderedOps[c.Op] {
		return d.matchDirectLocked(c)
	}
	return d.matchClientSideLocked(c)
}

func (d *document) matchDirectLocked(c Clause) ([]string, error) {
	var cmp, value string
	switch c.Op {
	case OpEq:
		cmp, value = "=", c.Value
		if c.Negate {
			cmp = "!="
		}
	case OpContains:
		cmp, value = "LIKE", "%"+escapeLike(c.Value)+"%"
		if c.Negate {
			cmp = "NOT LIKE"
		}
	case OpStartswith:
		cmp, value = "LIKE", escapeLike(c.Value)+"%"
		if c.Negate {
			cmp = "NOT LIKE"
		}
	case OpEndswith:
		cmp, value = "LIKE", "%"+escapeLike(c.Value)
		if c.Negate {
			cmp = "NOT LIKE"
		}
	default:
		return nil, fmt.Errorf("unsupported direct operator %q", c.Op)
	}
	query := fmt.Sprintf(
		`SELECT OBJUUID FROM TBL_INDEX WHERE COLUUID = ? AND ATTRIBUTE = ? AND VALUE %s ? ESCAPE '\'`,
		cmp,
	)
	rows, err := d.db.Query(query, d.coluuid, c.Attribute, value)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c.Attribute, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// matchClientSideLocked handles gt/gte/lt/lte/inside/regex by pulling
// every row for the attribute and comparing in Go, exactly as the
// original does (it SELECTs all rows for the attribute+collection then
// applies coerce()-based ordering or a Python `in`/`re.search`).
func (d *document) matchClientSideLocked(c Clause) ([]string, error) {
	rows, err := d.db.Query(
		`SELECT OBJUUID, VALUE FROM TBL_INDEX WHERE COLUUID = ? AND ATTRIBUTE = ?`,
		d.coluuid, c.Attribute,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", c.Attribute, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		append_, err := matches(c, value)
		if err != nil {
			return nil, err
		}
		if append_ != c.Negate {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

// matches evaluates whether value satisfies c's operator, ignoring
// c.Negate (the caller keeps a row when the match result differs from
// c.Negate, so a negated clause keeps exactly the non-matching rows).
func matches(c Clause, value string) (bool, error) {
	switch c.Op {
	case OpGt:
		return compareOrdered(value, c.Value) > 0, nil
	case OpGte:
		return compareOrdered(value, c.Value) >= 0, nil
	case OpLt:
		return compareOrdered(value, c.Value) < 0, nil
	case OpLte:
		return compareOrdered(value, c.Value) <= 0, nil
	case OpInside:
		return strings.Contains(c.Value, value), nil
	case OpRegex:
		return regexMatch(c.Value, value)
	default:
		return false, fmt.Errorf("unsupported client-side operator %q", c.Op)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(s)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatFloatCompact(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
