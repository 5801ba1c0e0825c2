// Package vecenc encodes session vectors and keyword lists for storage as
// SQLite BLOB/TEXT columns.
package vecenc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is malformed or fails
// round-trip validation.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector serializes a float32 vector as a length-prefixed,
// little-endian byte slice.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}

	buf := new(bytes.Buffer)

	length := len(vector)
	if length > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements exceeds maximum", length)
	}
	if err := binary.Write(buf, binary.LittleEndian, int32(length)); err != nil {
		return nil, fmt.Errorf("encode vector length: %w", err)
	}
	for _, val := range vector {
		if err := binary.Write(buf, binary.LittleEndian, val); err != nil {
			return nil, fmt.Errorf("encode vector value: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeVector parses bytes produced by EncodeVector back into a float32
// vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	buf := bytes.NewReader(data)

	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("decode vector length: %w", err)
	}
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}

	expectedBytes := int(length) * 4
	if buf.Len() < expectedBytes {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, length)
	for i := int32(0); i < length; i++ {
		if err := binary.Read(buf, binary.LittleEndian, &vector[i]); err != nil {
			return nil, fmt.Errorf("decode vector value at index %d: %w", i, err)
		}
	}

	return vector, nil
}

// ValidateVector rejects nil, empty, NaN, and infinite vectors.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		if val != val { // NaN
			return ErrInvalidVector
		}
		if math.IsInf(float64(val), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// EncodeKeywords serializes a keyword list to a JSON array string.
func EncodeKeywords(keywords []string) (string, error) {
	if keywords == nil {
		return "[]", nil
	}
	data, err := json.Marshal(keywords)
	if err != nil {
		return "", fmt.Errorf("encode keywords: %w", err)
	}
	return string(data), nil
}

// DecodeKeywords parses a JSON array string back into a keyword list.
func DecodeKeywords(jsonStr string) ([]string, error) {
	if jsonStr == "" {
		return nil, nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(jsonStr), &keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	return keywords, nil
}
