package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/roach88/querygate/internal/executor"
)

// field is one key/value pair of an ordered JSON object.
type field struct {
	key string
	val any
}

// orderedObject is a JSON object whose keys are written in slice order.
type orderedObject []field

// MarshalResult serializes a successful query result.
//
// Key differences from json.Marshal:
//  1. Row objects keep the column order returned by the store
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are written byte for byte, without Unicode normalization
//  4. NaN and infinities are written as strings
func MarshalResult(query string, res *executor.QueryResult) ([]byte, error) {
	rows := make([]any, 0, res.RowCount())
	for _, row := range res.Rows {
		obj := make(orderedObject, len(res.Columns))
		for i, col := range res.Columns {
			obj[i] = field{key: col, val: row[i]}
		}
		rows = append(rows, obj)
	}

	columns := make([]any, len(res.Columns))
	for i, c := range res.Columns {
		columns[i] = c
	}

	var buf bytes.Buffer
	err := writeValue(&buf, orderedObject{
		{"query", query},
		{"row_count", int64(res.RowCount())},
		{"columns", columns},
		{"rows", rows},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalFailure serializes an error body. Empty reason and detail are
// omitted.
func MarshalFailure(f Failure) ([]byte, error) {
	obj := orderedObject{{"error", f.Kind}}
	if f.Reason != "" {
		obj = append(obj, field{"reason", f.Reason})
	}
	obj = append(obj, field{"message", f.Message})
	if f.Detail != "" {
		obj = append(obj, field{"detail", f.Detail})
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, obj); err != nil {
		return nil, fmt.Errorf("marshal failure: %w", err)
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		return writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case float64:
		return writeFloat(buf, val)
	case orderedObject:
		return writeObject(buf, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := make(orderedObject, len(keys))
		for i, k := range keys {
			obj[i] = field{k, val[k]}
		}
		return writeObject(buf, obj)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unsupported type for JSON payload: %T", v)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, obj orderedObject) error {
	buf.WriteByte('{')
	for i, f := range obj {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, f.key); err != nil {
			return fmt.Errorf("key %q: %w", f.key, err)
		}
		buf.WriteByte(':')
		if err := writeValue(buf, f.val); err != nil {
			return fmt.Errorf("value for key %q: %w", f.key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString writes s as a JSON string. The bytes of s are kept as the
// store returned them.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// json.Encoder adds a trailing newline
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return writeString(buf, strconv.FormatFloat(f, 'g', -1, 64))
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
