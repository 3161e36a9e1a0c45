package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-marshals v into the deterministic form the canonical
// hash contract requires: sorted object keys, no insignificant
// whitespace, and numbers through encoding/json's fixed formatting. Amounts
// are integers; the PoRW proof's Score, Energy and RMSD are float64 and are
// hashed in encoding/json's shortest round-trip form.
//
// encoding/json sorts map keys for us when marshaling map[string]any, but
// struct field order follows declaration order, not lexical order. To keep
// the hash stable under refactors we decode once into a generic value and
// re-encode it, which normalizes map key order recursively.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: unmarshal: %w", err)
	}
	return encodeCanonical(generic)
}

func encodeCanonical(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := encodeCanonical(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []interface{}:
		out := []byte{'['}
		for i, e := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := encodeCanonical(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// CanonicalHash implements C1's canonical_hash: SHA-256 over the canonical
// JSON encoding of v.
func CanonicalHash(v interface{}) (Hash, error) {
	b, err := canonicalJSON(v)
	if err != nil {
		return Hash{}, err
	}
	return Hash(sha256.Sum256(b)), nil
}
