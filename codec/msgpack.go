package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack serializes values using vmihailenco/msgpack/v5. Payloads whose maps
// all have string keys are re-encoded in sorted key order, so equal values
// produce equal payloads (and equal etags) whatever the map value type.
// Maps with other key types keep msgpack's iteration order.
// The zero value is ready to use.
type Msgpack[V any] struct {
	// UseJSONTag reads `json:"..."` tags instead of `msgpack:"..."`, so types
	// already tagged for the JSON codec keep their field names.
	UseJSONTag bool
}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (m Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if m.UseJSONTag {
		enc.SetCustomStructTag("json")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return canonical(buf.Bytes()), nil
}

// canonical rewrites b through msgpack's generic form, where every string-keyed
// map becomes map[string]any and honors key sorting. The typed encoders for
// maps such as map[string]int do not.
func canonical(b []byte) []byte {
	var generic any
	if err := msgpack.Unmarshal(b, &generic); err != nil {
		return b
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(generic); err != nil {
		return b
	}
	return buf.Bytes()
}

func (m Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	if m.UseJSONTag {
		dec.SetCustomStructTag("json")
	}
	err := dec.Decode(&v)
	return v, err
}
