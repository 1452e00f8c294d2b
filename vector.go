package ouroboros

import (
	"bytes"
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vector is a fixed-length embedding.
// It implements sql.Scanner and driver.Valuer in pgvector text format,
// and encoding.BinaryMarshaler as little-endian float32s for BLOB columns.
type Vector []float32

// Scan implements sql.Scanner for reading pgvector values.
func (v *Vector) Scan(src any) error {
	if src == nil {
		*v = nil
		return nil
	}

	var s string
	switch val := src.(type) {
	case []byte:
		s = string(val)
	case string:
		s = val
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}

	// pgvector format: [0.1,0.2,0.3]
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	if s == "" {
		*v = nil
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("failed to parse vector element %d: %w", i, err)
		}
		result[i] = float32(f)
	}

	*v = result
	return nil
}

// Value implements driver.Valuer for writing pgvector values.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}

	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

// MarshalBinary encodes the vector as little-endian float32s.
func (v Vector) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, []float32(v)); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes little-endian float32s.
func (v *Vector) UnmarshalBinary(data []byte) error {
	if len(data)%4 != 0 {
		return fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return fmt.Errorf("failed to decode vector: %w", err)
	}
	*v = out
	return nil
}

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// Mismatched lengths and zero vectors score 0. The function is symmetric
// and a non-zero vector scores 1 against itself.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}
