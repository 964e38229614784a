// Package store implements the Indexed Document Store (spec.md §4.2, C3):
// typed collections with attribute indices and an operator-based find,
// grounded on original_source/stembot/dao/document.py's TBL_OBJECTS/
// TBL_INDEX schema and find_objuuids algorithm, backed by
// github.com/mattn/go-sqlite3 rather than Python's stdlib sqlite3.
package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Operator is one of the query operators spec.md §4.2 lists, prefix `$`,
// optional `!` negation.
type Operator string

const (
	OpEq         Operator = "eq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpInside     Operator = "inside"
	OpStartswith Operator = "startswith"
	OpEndswith   Operator = "endswith"
	OpRegex      Operator = "regex"
)

// orderedOps are compared via coerced (int, then float, then string)
// ordering rather than a direct SQL comparison, matching the original's
// client-side coercion ("Ordered operators coerce operands: try integer,
// then float, then string").
var orderedOps = map[Operator]bool{OpGt: true, OpGte: true, OpLt: true, OpLte: true}

// directOps issue directly against the index column via SQL (=, !=, LIKE,
// NOT LIKE) since they need no numeric coercion.
var directOps = map[Operator]bool{OpEq: true, OpContains: true, OpStartswith: true, OpEndswith: true}

// Clause is one parsed query term: Attribute OP Value, with an optional
// negation flag.
type Clause struct {
	Attribute string
	Op        Operator
	Negate    bool
	Value     string
}

// Query is a set of clauses. find() requires ALL clauses to match
// (AND semantics, confirmed by original_source's set-intersection of
// per-clause objuuids).
type Query []Clause

// Parse turns a map of attribute -> expression strings into a Query.
// Expression syntax: "value" (naked, implies $eq), "$op:value", or
// "$!op:value" (negated). This mirrors Document.find_objuuids's prefix
// scanning of the expression string.
func Parse(params map[string]string) (Query, error) {
	q := make(Query, 0, len(params))
	for attr, expr := range params {
		clause, err := parseClause(attr, expr)
		if err != nil {
			return nil, err
		}
		q = append(q, clause)
	}
	return q, nil
}

func parseClause(attr, expr string) (Clause, error) {
	if !strings.HasPrefix(expr, "$") {
		return Clause{Attribute: attr, Op: OpEq, Value: expr}, nil
	}
	rest := expr[1:]
	negate := false
	if strings.HasPrefix(rest, "!") {
		negate = true
		rest = rest[1:]
	}
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return Clause{}, fmt.Errorf("malformed operator expression %q", expr)
	}
	op := Operator(rest[:idx])
	value := rest[idx+1:]
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpContains, OpInside, OpStartswith, OpEndswith, OpRegex:
	default:
		return Clause{}, fmt.Errorf("unknown operator %q", op)
	}
	return Clause{Attribute: attr, Op: op, Negate: negate, Value: value}, nil
}

// coerce attempts int, then float, then falls back to the original
// string, for ordered comparisons (spec.md §4.2).
func coerce(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// compareOrdered returns -1/0/1 comparing a to b after coercion, promoting
// mixed int/float pairs to float64 and falling back to string comparison
// if either side isn't numeric.
func compareOrdered(a, b string) int {
	ca, cb := coerce(a), coerce(b)
	af, aok := toFloat(ca)
	bf, bok := toFloat(cb)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
