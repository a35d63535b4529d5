// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ava-labs/avalanchego/database"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 1000
)

var ErrInvalidQuery = errors.New("invalid query")

// SortField orders results by one field.
type SortField struct {
	Field      string `json:"index"`
	Descending bool   `json:"descending"`
}

// FindOptions bound and order the result of Find.
type FindOptions struct {
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Sort   []SortField `json:"indexes"`
}

// Cursor is a finite, ordered sequence of rows.
type Cursor struct {
	rows []Document
	pos  int
}

// Next advances the cursor and reports whether a row is available.
func (c *Cursor) Next() bool {
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

// Document returns the current row.
func (c *Cursor) Document() Document { return c.rows[c.pos-1] }

// Len returns the total number of rows in the cursor.
func (c *Cursor) Len() int { return len(c.rows) }

// All returns every remaining row.
func (c *Cursor) All() []Document {
	rest := c.rows[c.pos:]
	c.pos = len(c.rows)
	return rest
}

type keyedRow struct {
	key []byte
	doc Document
}

// Find returns the rows of [table] matching [query], ordered by
// [opts.Sort] with ties broken by primary key order.
func (v *views) Find(table string, query Document, opts FindOptions) (*Cursor, error) {
	schema, err := v.Schema(table)
	if err != nil {
		return nil, err
	}
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", ErrInvalidQuery)
	}

	candidates, err := v.candidates(schema, query)
	if err != nil {
		return nil, err
	}
	matched := make([]keyedRow, 0, len(candidates))
	for _, row := range candidates {
		ok, err := matches(row.doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, s := range opts.Sort {
			a, _ := lookup(matched[i].doc, s.Field)
			b, _ := lookup(matched[j].doc, s.Field)
			if c := compareValues(a, b); c != 0 {
				if s.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return bytes.Compare(matched[i].key, matched[j].key) < 0
	})

	if opts.Offset >= len(matched) {
		return &Cursor{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	rows := make([]Document, len(matched))
	for i, row := range matched {
		rows[i] = row.doc
	}
	return &Cursor{rows: rows}, nil
}

// FindOne returns the first row of [table] matching [query], or nil if no
// row matches.
func (v *views) FindOne(table string, query Document) (Document, error) {
	cursor, err := v.Find(table, query, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if !cursor.Next() {
		return nil, nil
	}
	return cursor.Document(), nil
}

// candidates loads the rows that may match [query], using an index when the
// query pins every field of one with a plain equality.
func (v *views) candidates(schema *Schema, query Document) ([]keyedRow, error) {
	for _, idx := range schema.Indices {
		values, ok := equalityValues(idx, query)
		if !ok {
			continue
		}
		encoded, err := encodeKey(values)
		if err != nil {
			return nil, err
		}
		if idx.Unique {
			entry := append(indexPrefixOf(schema.Name, idx, uniqueEntry), encoded...)
			entry = append(entry, keySeparator)
			key, err := v.indexDB.Get(entry)
			if errors.Is(err, database.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			doc, err := v.getRow(schema.Name, key)
			if err != nil {
				return nil, err
			}
			return []keyedRow{{key: key, doc: doc}}, nil
		}

		prefix := append(indexPrefixOf(schema.Name, idx, nonUniqueEntry), encoded...)
		prefix = append(prefix, keySeparator)
		it := v.indexDB.NewIteratorWithPrefix(prefix)
		var rows []keyedRow
		for it.Next() {
			key := append([]byte(nil), it.Key()[len(prefix):]...)
			doc, err := v.getRow(schema.Name, key)
			if err != nil {
				it.Release()
				return nil, err
			}
			rows = append(rows, keyedRow{key: key, doc: doc})
		}
		err = it.Error()
		it.Release()
		return rows, err
	}

	prefix := tablePrefix(schema.Name)
	it := v.rowDB.NewIteratorWithPrefix(prefix)
	defer it.Release()

	var rows []keyedRow
	for it.Next() {
		doc, err := ParseDocument(it.Value())
		if err != nil {
			return nil, err
		}
		key := append([]byte(nil), it.Key()[len(prefix):]...)
		rows = append(rows, keyedRow{key: key, doc: doc})
	}
	return rows, it.Error()
}

func equalityValues(idx Index, query Document) ([]interface{}, bool) {
	values := make([]interface{}, len(idx.Fields))
	for i, field := range idx.Fields {
		cond, ok := query[field]
		if !ok || isOperator(cond) {
			return nil, false
		}
		if _, isArray := cond.([]interface{}); isArray {
			return nil, false
		}
		values[i] = cond
	}
	return values, true
}

func isOperator(cond interface{}) bool {
	m, ok := asMap(cond)
	if !ok || len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

func validateQuery(query Document) error {
	_, err := matches(Document{}, query)
	return err
}

// matches evaluates [query] against [doc]. Supported operators are $eq, $ne,
// $gt, $gte, $lt, $lte, $in, $nin, $exists, $and and $or.
func matches(doc map[string]interface{}, query map[string]interface{}) (bool, error) {
	result := true
	// Every clause is evaluated so an invalid query fails regardless of the
	// row it is matched against.
	for _, field := range sortedKeys(query) {
		cond := query[field]
		var (
			ok  bool
			err error
		)
		switch field {
		case "$and", "$or":
			ok, err = matchLogical(doc, field, cond)
		default:
			val, exists := lookup(doc, field)
			if isOperator(cond) {
				ok, err = matchOperators(val, exists, cond)
			} else {
				ok = matchEquality(val, exists, cond)
			}
		}
		if err != nil {
			return false, err
		}
		result = result && ok
	}
	return result, nil
}

func matchLogical(doc map[string]interface{}, op string, cond interface{}) (bool, error) {
	clauses, ok := cond.([]interface{})
	if !ok || len(clauses) == 0 {
		return false, fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidQuery, op)
	}
	anyMatched, allMatched := false, true
	for _, clause := range clauses {
		m, ok := asMap(clause)
		if !ok {
			return false, fmt.Errorf("%w: %s clause is not an object", ErrInvalidQuery, op)
		}
		matched, err := matches(doc, m)
		if err != nil {
			return false, err
		}
		anyMatched = anyMatched || matched
		allMatched = allMatched && matched
	}
	if op == "$or" {
		return anyMatched, nil
	}
	return allMatched, nil
}

func matchEquality(val interface{}, exists bool, cond interface{}) bool {
	if !exists {
		return cond == nil
	}
	if equalValues(val, cond) {
		return true
	}
	if arr, ok := val.([]interface{}); ok {
		for _, elem := range arr {
			if equalValues(elem, cond) {
				return true
			}
		}
	}
	return false
}

func matchOperators(val interface{}, exists bool, cond interface{}) (bool, error) {
	ops, _ := asMap(cond)
	result := true
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var ok bool
		switch op {
		case "$eq":
			ok = matchEquality(val, exists, arg)
		case "$ne":
			ok = !matchEquality(val, exists, arg)
		case "$gt", "$gte", "$lt", "$lte":
			ok = exists && rank(val) == rank(arg)
			if ok {
				c := compareValues(val, arg)
				switch op {
				case "$gt":
					ok = c > 0
				case "$gte":
					ok = c >= 0
				case "$lt":
					ok = c < 0
				default:
					ok = c <= 0
				}
			}
		case "$in", "$nin":
			list, isList := arg.([]interface{})
			if !isList {
				return false, fmt.Errorf("%w: %s needs an array", ErrInvalidQuery, op)
			}
			found := false
			for _, candidate := range list {
				if matchEquality(val, exists, candidate) {
					found = true
					break
				}
			}
			ok = found == (op == "$in")
		case "$exists":
			want, isBool := arg.(bool)
			if !isBool {
				return false, fmt.Errorf("%w: $exists needs a boolean", ErrInvalidQuery)
			}
			ok = exists == want
		default:
			return false, fmt.Errorf("%w: unknown operator %s", ErrInvalidQuery, op)
		}
		result = result && ok
	}
	return result, nil
}
