package canon

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/covenant/internal/fault"
)

// MarshalCanonical produces the compact canonical JSON used as every
// hashing pre-image. It differs from encoding/json in four ways:
// object keys are sorted by their UTF-8 bytes, strings are NFC
// normalized, HTML characters and U+2028/U+2029 are not escaped, and
// floats and nulls are rejected outright.
//
// Accepted shapes: Atom, Seq, string, int/int64, bool, []any, and
// map[string]any. Anything else is a canon fault.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fault.Canon(fault.CodeUnsupportedShape, "null is forbidden in canonical JSON")
	case Atom:
		return writeCanonicalString(buf, string(val))
	case Seq:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case string:
		return writeCanonicalString(buf, val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case float32, float64:
		return fault.Canon(fault.CodeUnsupportedShape, "floats are forbidden in canonical JSON: %v", val)
	}
	return fault.Canon(fault.CodeUnsupportedShape, "unsupported type for canonical JSON: %T", v)
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes one NFC-normalized JSON string. Go's
// encoder escapes U+2028/U+2029 for JavaScript embedding; canonical
// JSON wants the literal characters, so those escapes are undone
// afterwards.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var enc bytes.Buffer
	e := json.NewEncoder(&enc)
	e.SetEscapeHTML(false)
	if err := e.Encode(normalized); err != nil {
		return fault.Canon(fault.CodeUnsupportedShape, "encode string: %v", err)
	}
	out := bytes.TrimSuffix(enc.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators rewrites   and   escapes back to
// their literal characters. The scan tracks JSON escape state, so a
// source backslash (encoded as \\) never starts a rewrite: \\u2028 in
// the output means literal text " " and stays as is.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if data[i] != '\\' {
			out = append(out, data[i])
			i++
			continue
		}
		// data[i] starts an escape sequence; data[i+1] exists because
		// encoder output never ends mid-escape.
		if i+6 <= len(data) && data[i+1] == 'u' && bytes.HasPrefix(data[i+2:], []byte("202")) &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, " "...)
			} else {
				out = append(out, " "...)
			}
			i += 6
			continue
		}
		out = append(out, data[i], data[i+1])
		i += 2
	}
	return out
}
