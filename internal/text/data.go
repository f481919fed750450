package text

import (
	"encoding/json"
	"fmt"
	"math"
)

// entityData reads typed fields from entity data. Missing fields yield the
// zero value; present fields of the wrong type are errors.
type entityData map[string]any

func (d entityData) str(key string) (string, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: want string, got %T", key, v)
	}
	return s, nil
}

func (d entityData) integer(key string) (int, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("field %q: %v is not an integer", key, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return int(i), nil
	}
	return 0, fmt.Errorf("field %q: want number, got %T", key, v)
}

func (d entityData) boolean(key string) (bool, error) {
	v, ok := d[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: want bool, got %T", key, v)
	}
	return b, nil
}

// fieldReader accumulates the first error across a series of reads.
type fieldReader struct {
	data entityData
	err  error
}

func (r *fieldReader) str(key string) string {
	s, err := r.data.str(key)
	r.keep(err)
	return s
}

func (r *fieldReader) integer(key string) int {
	n, err := r.data.integer(key)
	r.keep(err)
	return n
}

func (r *fieldReader) boolean(key string) bool {
	b, err := r.data.boolean(key)
	r.keep(err)
	return b
}

func (r *fieldReader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}

// putNonZero sets m[key] = v unless v is the zero value of its type.
func putNonZero[T comparable](m map[string]any, key string, v T) {
	var zero T
	if v != zero {
		m[key] = v
	}
}
