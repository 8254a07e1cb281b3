package protocol

import (
	"strconv"
	"strings"
)

// EncodeString quotes s and escapes embedded quotes, matching the
// original's encode() for str values.
func EncodeString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// EncodeInt/EncodeFloat/EncodeBool format bare numeric/boolean values —
// numbers unquoted, booleans as 0/1 (spec.md §4.4).
func EncodeInt(i int64) string  { return strconv.FormatInt(i, 10) }
func EncodeFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
func EncodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EncodeList space-joins already-encoded tokens, matching the original's
// recursive encode() for list values.
func EncodeList(items []string) string { return strings.Join(items, " ") }

// EncodeStrings quotes each of a list of plain strings and joins them —
// the common case of DEVICE PROVIDE/CLASSIFIER PROVIDE emitting a list of
// names.
func EncodeStrings(values []string) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = EncodeString(v)
	}
	return EncodeList(out)
}
