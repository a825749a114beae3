package services

import (
	"encoding/json"
	"fmt"
)

// Shape is one known layout of a loosely typed response. Extract returns the items it finds, or an
// error if raw does not have this layout.
type Shape[T any] struct {
	Name    string
	Extract func(raw json.RawMessage) ([]T, error)
}

// DecodeResult tags which shape matched. OK is false when no shape produced any items.
type DecodeResult[T any] struct {
	Shape string
	OK    bool
	Items []T
}

// decodeShapes tries shapes in order and returns the first that decodes to a non-empty list.
func decodeShapes[T any](raw json.RawMessage, shapes ...Shape[T]) DecodeResult[T] {
	if len(raw) == 0 {
		return DecodeResult[T]{}
	}
	for _, s := range shapes {
		items, err := s.Extract(raw)
		if err == nil && len(items) > 0 {
			return DecodeResult[T]{Shape: s.Name, OK: true, Items: items}
		}
	}
	return DecodeResult[T]{}
}

// field returns a shape that reads an array under key.
func field[T any](key string) Shape[T] {
	return Shape[T]{
		Name: key,
		Extract: func(raw json.RawMessage) ([]T, error) {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, err
			}
			inner, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("no %q field", key)
			}
			var items []T
			if err := json.Unmarshal(inner, &items); err != nil {
				return nil, err
			}
			return items, nil
		},
	}
}

// single returns a shape that reads one object under key as a one-item list.
func single[T any](key string) Shape[T] {
	return Shape[T]{
		Name: key + "(single)",
		Extract: func(raw json.RawMessage) ([]T, error) {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, err
			}
			inner, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("no %q field", key)
			}
			var item T
			if err := json.Unmarshal(inner, &item); err != nil {
				return nil, err
			}
			return []T{item}, nil
		},
	}
}

// bare returns a shape for a top-level array.
func bare[T any]() Shape[T] {
	return Shape[T]{
		Name: "array",
		Extract: func(raw json.RawMessage) ([]T, error) {
			var items []T
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, err
			}
			return items, nil
		},
	}
}
