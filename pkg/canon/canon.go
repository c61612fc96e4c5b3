// Package canon implements the canonical byte encoding that ledger entries
// are hashed from. Stability of this encoding is what the ledger's chain
// integrity depends on: two implementations given the same fields must
// produce the same bytes.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Value is a single canonicalizable field. Absent optional fields must be
// omitted from the map entirely rather than set to a nil Value.
type Value struct {
	// exactly one of the following is populated
	str      string
	isStr    bool
	num      int64
	isNum    bool
	isTime   bool
	timeRFC  string // already-formatted RFC3339 Z microsecond string
}

// String wraps a string field.
func String(s string) Value { return Value{str: s, isStr: true} }

// Int wraps an integer field.
func Int(n int64) Value { return Value{num: n, isNum: true} }

// TimestampRFC3339Micro wraps a pre-formatted RFC3339 UTC timestamp with
// microsecond precision and a trailing "Z". Callers format with
// FormatTimestamp before constructing the Value so canon never has to guess
// at precision truncation rules.
func TimestampRFC3339Micro(formatted string) Value { return Value{timeRFC: formatted, isTime: true} }

// Fields is the ordered-by-construction set of fields to canonicalize; keys
// are sorted lexicographically by Unicode code point at encode time, so
// construction order does not matter.
type Fields map[string]Value

// Canonicalize serializes fields deterministically: keys sorted
// lexicographically by Unicode code point, strings minimally JSON-escaped,
// integers without a fractional part, timestamps as already-formatted
// RFC3339 Z strings. Absent fields (not present in the map) are omitted
// entirely — never emitted as null.
func Canonicalize(fields Fields) []byte {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, encodeJSONString(k)...)
		buf = append(buf, ':')
		buf = append(buf, encodeValue(fields[k])...)
	}
	buf = append(buf, '}')
	return buf
}

func encodeValue(v Value) []byte {
	switch {
	case v.isStr:
		return encodeJSONString(v.str)
	case v.isNum:
		return []byte(strconv.FormatInt(v.num, 10))
	case v.isTime:
		return encodeJSONString(v.timeRFC)
	default:
		// construction via the exported helpers always sets one of the
		// above; reaching here means a caller built a zero Value directly.
		panic(fmt.Sprintf("canon: field has no value set: %#v", v))
	}
}

// encodeJSONString relies on encoding/json's string escaping with HTML
// escaping turned off, so only the characters the JSON grammar requires
// (quote, backslash, and control characters) are escaped, plus U+2028 and
// U+2029, which encoding/json always escapes. Other multi-byte UTF-8 passes
// through unescaped.
func encodeJSONString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		// s is always a valid Go string; encoding a string cannot fail.
		panic(err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// SHA256Hex returns the lowercase 64-character hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}
