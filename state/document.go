// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Document is a table row. Numbers are kept as json.Number so that a row
// re-encodes to exactly the bytes it was decoded from.
type Document map[string]interface{}

// ParseDocument decodes a JSON object.
func ParseDocument(b []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	doc := Document{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}

// Bytes returns the canonical encoding of the document (sorted keys).
func (d Document) Bytes() ([]byte, error) {
	return json.Marshal(d)
}

// ID returns the document's primary key value.
func (d Document) ID() (interface{}, bool) {
	id, ok := d[IDField]
	return id, ok
}

// Copy returns a deep copy of the document.
func (d Document) Copy() Document {
	b, err := d.Bytes()
	if err != nil {
		return Document{}
	}
	cp, err := ParseDocument(b)
	if err != nil {
		return Document{}
	}
	return cp
}

// lookup resolves a dotted field path.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case Document:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Type ranks used to order values of different types.
const (
	rankNull = iota
	rankNumber
	rankString
	rankObject
	rankArray
	rankBool
)

func rank(v interface{}) int {
	switch v.(type) {
	case nil:
		return rankNull
	case json.Number, float64, int, int64, uint64:
		return rankNumber
	case string:
		return rankString
	case map[string]interface{}, Document:
		return rankObject
	case []interface{}:
		return rankArray
	case bool:
		return rankBool
	default:
		return rankObject
	}
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(n, 10))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// compareValues orders two JSON values: null < numbers < strings < objects <
// arrays < booleans, then by value within a type.
func compareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		da, okA := toDecimal(a)
		db, okB := toDecimal(b)
		if !okA || !okB {
			return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
		}
		return da.Cmp(db)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	default:
		ea, _ := json.Marshal(a)
		eb, _ := json.Marshal(b)
		return bytes.Compare(ea, eb)
	}
}

func equalValues(a, b interface{}) bool {
	return rank(a) == rank(b) && compareValues(a, b) == 0
}

// encodeKey canonically encodes a list of values for use inside a key.
func encodeKey(values []interface{}) ([]byte, error) {
	normalized := make([]interface{}, len(values))
	for i, v := range values {
		if d, ok := toDecimal(v); ok {
			normalized[i] = json.Number(d.String())
			continue
		}
		normalized[i] = v
	}
	return json.Marshal(normalized)
}

// sortedKeys returns the keys of [m] in lexical order.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
