package sigx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON serializes v as compact JSON with every object's keys in
// lexicographic order. Signer and verifier must produce the exact same bytes
// for the same logical message, so this is the only serialization either side
// is allowed to sign or verify.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sigx: marshal message: %w", err)
	}

	var buf bytes.Buffer
	if err := canonicalize(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// canonicalize rewrites a JSON document with sorted object keys and no
// insignificant whitespace. Scalar values are copied verbatim so number
// formatting survives the round trip.
func canonicalize(buf *bytes.Buffer, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("sigx: empty JSON value")
	}

	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("sigx: decode object: %w", err)
		}

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
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("sigx: encode key: %w", err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := canonicalize(buf, obj[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return fmt.Errorf("sigx: decode array: %w", err)
		}

		buf.WriteByte('[')
		for i, elem := range arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonicalize(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Scalars (strings, numbers, booleans, null) are already canonical.
		buf.Write(raw)
		return nil
	}
}
