// Package codec provides pluggable serialization for the bookkeeping values
// dynoris keeps in the fast store, most notably lease records.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
