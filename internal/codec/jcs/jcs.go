// Package jcs implements RFC 8785 JSON Canonicalization Scheme: recursive
// object-key sort, minimal whitespace, and standard ECMA-262 number
// serialization. Consumed by DataIntegrity proof hashing and webvh
// log-entry hashing, per spec §4.1.
package jcs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize parses raw JSON and re-serializes it in canonical form.
// Numbers are decoded with json.Number and then serialized from their
// IEEE-754 double value, the number model RFC 8785 is defined over.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("jcs: parse input: %w", err)
	}

	return Marshal(v)
}

// Marshal canonically serializes an already-decoded value (map[string]any,
// []any, string, float64/json.Number, bool, nil).
func Marshal(v any) ([]byte, error) {
	var sb strings.Builder
	if err := write(&sb, v); err != nil {
		return nil, err
	}

	return []byte(sb.String()), nil
}

func write(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		writeString(sb, val)
	case json.Number:
		writeNumber(sb, val)
	case float64:
		writeNumber(sb, json.Number(strconv.FormatFloat(val, 'g', -1, 64)))
	case map[string]any:
		return writeObject(sb, val)
	case []any:
		return writeArray(sb, val)
	default:
		return fmt.Errorf("jcs: unsupported value type %T", v)
	}

	return nil
}

func writeObject(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	sb.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}

		writeString(sb, k)
		sb.WriteByte(':')

		if err := write(sb, m[k]); err != nil {
			return err
		}
	}

	sb.WriteByte('}')

	return nil
}

func writeArray(sb *strings.Builder, a []any) error {
	sb.WriteByte('[')

	for i, elem := range a {
		if i > 0 {
			sb.WriteByte(',')
		}

		if err := write(sb, elem); err != nil {
			return err
		}
	}

	sb.WriteByte(']')

	return nil
}

// writeString emits a JSON string with '"', '\' and control characters
// escaped and HTML-sensitive characters (<, >, &) left as-is. The line and
// paragraph separators U+2028 and U+2029 are still written as backslash-u
// escape sequences, which encoding/json always does.
func writeString(sb *strings.Builder, s string) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)

	sb.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

// writeNumber re-emits a JSON number in ECMA-262 Number-to-String form, per
// RFC 8785 §3.2.2.3: plain decimal notation for magnitudes in [1e-6, 1e21),
// shortest exponent notation (e.g. 1e+21, 1e-7) outside it, and -0 as 0.
// Values that do not parse as a finite float64 are written unchanged.
func writeNumber(sb *strings.Builder, n json.Number) {
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		sb.WriteString(n.String())

		return
	}

	if f == 0 {
		sb.WriteString("0")

		return
	}

	if abs := math.Abs(f); abs >= 1e-6 && abs < 1e21 {
		sb.WriteString(strconv.FormatFloat(f, 'f', -1, 64))

		return
	}

	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	sb.WriteString(mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0"))
}
