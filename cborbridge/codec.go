// Package cborbridge converts between JSON and CBOR for the operator
// diagnostics surface the lowbandwidth package exposes over HTTP, mapping
// a fixed table of dataset/TLV field names to small integer keys so the
// wire form stays compact.
//
// Grounded verbatim-algorithmically on cbor.go/cbor_codec.go: the
// intermediate-representation conversion (jsonInterfaceToCBORInterface /
// cborInterfaceToJSONInterface) carries over unchanged, since that part of
// the teacher's code has no Matrix-specific assumption baked in — only the
// key table (keys.go) is commissioner-domain.
package cborbridge

import (
	"fmt"
	"io"
	"reflect"
	"sort"

	cbor "github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/matrix-org/gomatrixserverlib"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts a single JSON object to/from a single CBOR object,
// substituting the field names in keys for small integers on the wire.
type Codec struct {
	keys      map[string]int
	enumKeys  map[int]string
	canonical bool
}

// New builds a Codec over keys. If canonical is set, CBORToJSON emits
// Matrix Canonical JSON and JSONToCBOR emits deterministically-encoded
// CBOR (RFC 8949 §4.2) — useful for tests and for hashing a dataset
// snapshot, not for everyday traffic.
func New(keys map[string]int, canonical bool) (*Codec, error) {
	c := &Codec{keys: keys, enumKeys: make(map[int]string), canonical: canonical}
	for k, v := range keys {
		if _, ok := c.enumKeys[v]; ok {
			return nil, fmt.Errorf("cborbridge: duplicate integer key %d for %q", v, k)
		}
		c.enumKeys[v] = k
	}
	return c, nil
}

// CBORToJSON converts a single CBOR object into a single JSON object.
func (c *Codec) CBORToJSON(input io.Reader) ([]byte, error) {
	var intermediate interface{}
	if err := cbor.NewDecoder(input).Decode(&intermediate); err != nil {
		return nil, fmt.Errorf("cborbridge: CBORToJSON: decoding cbor: %w", err)
	}
	intermediate = cborToJSON(intermediate, c.enumKeys)
	b, err := json.Marshal(intermediate)
	if err != nil {
		return nil, err
	}
	if c.canonical {
		return gomatrixserverlib.CanonicalJSON(b)
	}
	return b, nil
}

// JSONToCBOR converts a single JSON object into a single CBOR object.
func (c *Codec) JSONToCBOR(input io.Reader) ([]byte, error) {
	var intermediate interface{}
	if err := json.NewDecoder(input).Decode(&intermediate); err != nil {
		return nil, fmt.Errorf("cborbridge: JSONToCBOR: decoding json: %w", err)
	}
	intermediate = jsonToCBOR(intermediate, c.keys)
	if c.canonical {
		enc, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, fmt.Errorf("cborbridge: JSONToCBOR: building EncMode: %w", err)
		}
		return enc.Marshal(intermediate)
	}
	return cbor.Marshal(intermediate)
}

func jsonToCBOR(jsonInt interface{}, lookup map[string]int) interface{} {
	if jsonInt == nil {
		return nil
	}
	switch thing := reflect.ValueOf(jsonInt); thing.Type().Kind() {
	case reflect.Slice:
		arr := jsonInt.([]interface{})
		for i, element := range arr {
			arr[i] = jsonToCBOR(element, lookup)
		}
		return arr
	case reflect.Map:
		result := make(map[interface{}]interface{})
		m := jsonInt.(map[string]interface{})
		for k, v := range m {
			if knum, ok := lookup[k]; ok {
				result[knum] = jsonToCBOR(v, lookup)
			} else {
				result[k] = jsonToCBOR(v, lookup)
			}
		}
		return result
	case reflect.Bool, reflect.Float64, reflect.String:
		return jsonInt
	default:
		panic("cborbridge: unexpected JSON-decoded kind: " + thing.Type().Kind().String())
	}
}

func cborToJSON(cborInt interface{}, lookup map[int]string) interface{} {
	if cborInt == nil {
		return nil
	}
	switch thing := reflect.ValueOf(cborInt); thing.Type().Kind() {
	case reflect.Slice:
		arr := cborInt.([]interface{})
		for i, element := range arr {
			arr[i] = cborToJSON(element, lookup)
		}
		return arr
	case reflect.Map:
		result := make(map[string]interface{})
		m := cborInt.(map[interface{}]interface{})
		var intKeys []int
		intMap := make(map[int]interface{})
		var strKeys []string
		for k, v := range m {
			if kstr, ok := k.(string); ok {
				strKeys = append(strKeys, kstr)
				continue
			}
			if kint, ok := asInt(k); ok {
				intKeys = append(intKeys, kint)
				intMap[kint] = v
			}
			// non-string, non-integer keys are dropped: they have no
			// representation in JSON.
		}
		sort.Ints(intKeys)
		sort.Strings(strKeys)
		for _, ik := range intKeys {
			if kstr, ok := lookup[ik]; ok {
				result[kstr] = cborToJSON(intMap[ik], lookup)
			} else {
				result[fmt.Sprintf("%d", ik)] = cborToJSON(intMap[ik], lookup)
			}
		}
		for _, is := range strKeys {
			result[is] = cborToJSON(m[is], lookup)
		}
		return result
	default:
		return cborInt
	}
}

func asInt(k interface{}) (int, bool) {
	switch v := k.(type) {
	case uint64:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}
