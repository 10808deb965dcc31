package codec

import "encoding/json"

// JSON is the default Codec. Lease records serialized as JSON remain
// inspectable with plain redis-cli, which matters during incident debugging.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
