// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ava-labs/avalanchego/database"
)

// IDField is the primary key field of every row.
const IDField = "_id"

var (
	ErrSchema              = errors.New("schema error")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrTableNotFound       = errors.New("table not found")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrInvalidDocument     = errors.New("invalid document")
)

const (
	keySeparator = 0x00

	uniqueEntry    = 'u'
	nonUniqueEntry = 'n'
)

// Index is a secondary index over one or more fields of a table.
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique,omitempty"`
}

// TableOptions are the optional parameters of CreateTable.
type TableOptions struct {
	// PrimaryKey replaces the auto-incrementing numeric id with a composite
	// key over these fields.
	PrimaryKey []string `json:"primaryKey,omitempty"`
}

// Schema is the stored declaration of a table.
type Schema struct {
	Name       string   `json:"name"`
	Indices    []Index  `json:"indices"`
	PrimaryKey []string `json:"primaryKey,omitempty"`
	NextID     uint64   `json:"nextId"`
}

func (s *Schema) compositeKey() bool { return len(s.PrimaryKey) > 0 }

// Schema returns the declaration of [table].
func (v *views) Schema(table string) (*Schema, error) {
	b, err := v.schemaDB.Get([]byte(table))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	s := &Schema{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to parse schema of %s: %w", table, err)
	}
	return s, nil
}

// TableExists reports whether [table] has been created.
func (v *views) TableExists(table string) (bool, error) {
	return v.schemaDB.Has([]byte(table))
}

// CreateTable declares [table]. Re-declaring an existing table with the same
// indices and key is a no-op; any other re-declaration fails with ErrSchema.
func (t *Tx) CreateTable(table string, indices []Index, opts TableOptions) error {
	if table == "" || strings.IndexByte(table, keySeparator) >= 0 {
		return fmt.Errorf("%w: invalid table name %q", ErrSchema, table)
	}
	normalized := make([]Index, 0, len(indices))
	names := make(map[string]struct{}, len(indices))
	for _, idx := range indices {
		if len(idx.Fields) == 0 {
			return fmt.Errorf("%w: index without fields on %s", ErrSchema, table)
		}
		if idx.Name == "" {
			idx.Name = strings.Join(idx.Fields, "_")
		}
		if _, ok := names[idx.Name]; ok {
			return fmt.Errorf("%w: duplicate index %s on %s", ErrSchema, idx.Name, table)
		}
		names[idx.Name] = struct{}{}
		normalized = append(normalized, idx)
	}
	for _, field := range opts.PrimaryKey {
		if field == "" || field == IDField {
			return fmt.Errorf("%w: invalid primary key field %q on %s", ErrSchema, field, table)
		}
	}

	existing, err := t.Schema(table)
	switch {
	case err == nil:
		if reflect.DeepEqual(existing.Indices, normalized) && reflect.DeepEqual(existing.PrimaryKey, opts.PrimaryKey) {
			return nil
		}
		return fmt.Errorf("%w: table %s already exists with a different declaration", ErrSchema, table)
	case !errors.Is(err, ErrTableNotFound):
		return err
	}

	schema := &Schema{
		Name:       table,
		Indices:    normalized,
		PrimaryKey: opts.PrimaryKey,
		NextID:     1,
	}
	if err := t.putSchema(schema); err != nil {
		return err
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	t.mutations = append(t.mutations, Mutation{Op: OpInsert, Table: []byte(SchemaMutationTable), Key: []byte(table), Doc: b})
	return nil
}

func (t *Tx) putSchema(s *Schema) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return t.schemaDB.Put([]byte(s.Name), b)
}

// Insert adds [doc] to [table] and returns the stored row, including its
// assigned primary key.
func (t *Tx) Insert(table string, doc Document) (Document, error) {
	schema, err := t.Schema(table)
	if err != nil {
		return nil, err
	}
	row := doc.Copy()
	if schema.compositeKey() {
		id := make(map[string]interface{}, len(schema.PrimaryKey))
		for _, field := range schema.PrimaryKey {
			v, ok := lookup(row, field)
			if !ok {
				return nil, fmt.Errorf("%w: missing primary key field %s", ErrInvalidDocument, field)
			}
			id[field] = v
		}
		row[IDField] = id
	} else {
		row[IDField] = json.Number(strconv.FormatUint(schema.NextID, 10))
	}

	key, err := rowKey(schema, row)
	if err != nil {
		return nil, err
	}
	dbKey := rowDBKey(table, key)
	exists, err := t.rowDB.Has(dbKey)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: duplicate primary key in %s", ErrConstraintViolation, table)
	}
	if err := t.checkUnique(schema, row, key); err != nil {
		return nil, err
	}

	bytes, err := row.Bytes()
	if err != nil {
		return nil, err
	}
	if err := t.rowDB.Put(dbKey, bytes); err != nil {
		return nil, err
	}
	if err := t.putIndexEntries(schema, row, key); err != nil {
		return nil, err
	}
	if !schema.compositeKey() {
		schema.NextID++
		if err := t.putSchema(schema); err != nil {
			return nil, err
		}
	}
	t.mutations = append(t.mutations, Mutation{Op: OpInsert, Table: []byte(table), Key: key, Doc: bytes})
	return row, nil
}

// Update replaces the row of [table] identified by the primary key of [doc].
func (t *Tx) Update(table string, doc Document) error {
	schema, err := t.Schema(table)
	if err != nil {
		return err
	}
	row := doc.Copy()
	key, err := rowKey(schema, row)
	if err != nil {
		return err
	}
	old, err := t.getRow(table, key)
	if err != nil {
		return err
	}
	if schema.compositeKey() {
		// The key is derived from the row's fields, so [old] matches it.
		row[IDField] = old[IDField]
	}
	if err := t.checkUnique(schema, row, key); err != nil {
		return err
	}
	if err := t.deleteIndexEntries(schema, old, key); err != nil {
		return err
	}
	bytes, err := row.Bytes()
	if err != nil {
		return err
	}
	if err := t.rowDB.Put(rowDBKey(table, key), bytes); err != nil {
		return err
	}
	if err := t.putIndexEntries(schema, row, key); err != nil {
		return err
	}
	t.mutations = append(t.mutations, Mutation{Op: OpUpdate, Table: []byte(table), Key: key, Doc: bytes})
	return nil
}

// Remove deletes the row of [table] identified by the primary key of [doc].
func (t *Tx) Remove(table string, doc Document) error {
	schema, err := t.Schema(table)
	if err != nil {
		return err
	}
	key, err := rowKey(schema, doc)
	if err != nil {
		return err
	}
	old, err := t.getRow(table, key)
	if err != nil {
		return err
	}
	if err := t.deleteIndexEntries(schema, old, key); err != nil {
		return err
	}
	if err := t.rowDB.Delete(rowDBKey(table, key)); err != nil {
		return err
	}
	bytes, err := old.Bytes()
	if err != nil {
		return err
	}
	t.mutations = append(t.mutations, Mutation{Op: OpRemove, Table: []byte(table), Key: key, Doc: bytes})
	return nil
}

func (v *views) getRow(table string, key []byte) (Document, error) {
	b, err := v.rowDB.Get(rowDBKey(table, key))
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w in %s", ErrDocumentNotFound, table)
	}
	if err != nil {
		return nil, err
	}
	return ParseDocument(b)
}

func (t *Tx) checkUnique(schema *Schema, row Document, key []byte) error {
	for _, idx := range schema.Indices {
		if !idx.Unique {
			continue
		}
		entry, err := indexEntry(schema.Name, idx, row, uniqueEntry)
		if err != nil {
			return err
		}
		owner, err := t.indexDB.Get(entry)
		switch {
		case errors.Is(err, database.ErrNotFound):
			continue
		case err != nil:
			return err
		case string(owner) != string(key):
			return fmt.Errorf("%w: duplicate value for unique index %s of %s", ErrConstraintViolation, idx.Name, schema.Name)
		}
	}
	return nil
}

func (t *Tx) putIndexEntries(schema *Schema, row Document, key []byte) error {
	for _, idx := range schema.Indices {
		if idx.Unique {
			entry, err := indexEntry(schema.Name, idx, row, uniqueEntry)
			if err != nil {
				return err
			}
			if err := t.indexDB.Put(entry, key); err != nil {
				return err
			}
			continue
		}
		entry, err := indexEntry(schema.Name, idx, row, nonUniqueEntry)
		if err != nil {
			return err
		}
		if err := t.indexDB.Put(append(entry, key...), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) deleteIndexEntries(schema *Schema, row Document, key []byte) error {
	for _, idx := range schema.Indices {
		if idx.Unique {
			entry, err := indexEntry(schema.Name, idx, row, uniqueEntry)
			if err != nil {
				return err
			}
			if err := t.indexDB.Delete(entry); err != nil {
				return err
			}
			continue
		}
		entry, err := indexEntry(schema.Name, idx, row, nonUniqueEntry)
		if err != nil {
			return err
		}
		if err := t.indexDB.Delete(append(entry, key...)); err != nil {
			return err
		}
	}
	return nil
}

// rowKey derives the storage key of [row]: the big-endian auto-increment id,
// or the canonical encoding of the composite primary key values.
func rowKey(schema *Schema, row Document) ([]byte, error) {
	if schema.compositeKey() {
		values := make([]interface{}, len(schema.PrimaryKey))
		for i, field := range schema.PrimaryKey {
			v, ok := lookup(row, field)
			if !ok {
				return nil, fmt.Errorf("%w: missing primary key field %s", ErrInvalidDocument, field)
			}
			values[i] = v
		}
		return encodeKey(values)
	}

	id, ok := row.ID()
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidDocument, IDField)
	}
	d, ok := toDecimal(id)
	if !ok || !d.IsInteger() || d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid %s %v", ErrInvalidDocument, IDField, id)
	}
	n, err := strconv.ParseUint(d.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %v", ErrInvalidDocument, IDField, id)
	}
	return heightKey(n), nil
}

func rowDBKey(table string, key []byte) []byte {
	b := make([]byte, 0, len(table)+1+len(key))
	b = append(b, table...)
	b = append(b, keySeparator)
	return append(b, key...)
}

func tablePrefix(table string) []byte {
	return rowDBKey(table, nil)
}

func indexPrefixOf(table string, idx Index, kind byte) []byte {
	b := make([]byte, 0, len(table)+len(idx.Name)+4)
	b = append(b, table...)
	b = append(b, keySeparator, kind)
	b = append(b, idx.Name...)
	return append(b, keySeparator)
}

func indexValues(idx Index, row map[string]interface{}) []interface{} {
	values := make([]interface{}, len(idx.Fields))
	for i, field := range idx.Fields {
		v, _ := lookup(row, field)
		values[i] = v
	}
	return values
}

func indexEntry(table string, idx Index, row map[string]interface{}, kind byte) ([]byte, error) {
	encoded, err := encodeKey(indexValues(idx, row))
	if err != nil {
		return nil, err
	}
	b := indexPrefixOf(table, idx, kind)
	b = append(b, encoded...)
	return append(b, keySeparator), nil
}
