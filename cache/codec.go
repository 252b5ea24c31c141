package cache

import "github.com/bytedance/sonic"

// Codec serializes values of type T for the shared cache. Codec correctness is
// a precondition of the protection layer: a value encoded then decoded must
// compare equal.
type Codec[T any] interface {
	Encode(value T) (string, error)
	Decode(raw string) (T, error)
}

// JSONCodec encodes values as JSON.
type JSONCodec[T any] struct{}

// NewJSONCodec creates a JSON codec for T.
func NewJSONCodec[T any]() JSONCodec[T] {
	return JSONCodec[T]{}
}

// Encode implements Codec.
func (JSONCodec[T]) Encode(value T) (string, error) {
	data, err := sonic.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode implements Codec.
func (JSONCodec[T]) Decode(raw string) (T, error) {
	var value T
	if err := sonic.Unmarshal([]byte(raw), &value); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// StringCodec passes string values through unchanged. Useful for keys whose
// values are already serialized upstream.
type StringCodec struct{}

// Encode implements Codec.
func (StringCodec) Encode(value string) (string, error) { return value, nil }

// Decode implements Codec.
func (StringCodec) Decode(raw string) (string, error) { return raw, nil }
