package metastore

// Adapted from the teacher's internal/encoding/utils.go: the same
// length-prefixed little-endian float32 encoding, trimmed to the two
// operations metastore actually exercises (encoding the optional cached
// vector column and validating embeddings before they're persisted).

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when vector bytes are malformed.
var ErrInvalidVector = errors.New("metastore: invalid vector encoding")

// encodeVector serializes a float32 vector as a length-prefixed
// little-endian byte string, for storage in the memory_records.vector BLOB
// column.
func encodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vector))); err != nil {
		return nil, fmt.Errorf("encode vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("encode vector values: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeVector reverses encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}
	buf := bytes.NewReader(data)
	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("decode vector length: %w", err)
	}
	if length < 0 || int(length)*4 != buf.Len() {
		return nil, ErrInvalidVector
	}
	vector := make([]float32, length)
	if err := binary.Read(buf, binary.LittleEndian, &vector); err != nil {
		return nil, fmt.Errorf("decode vector values: %w", err)
	}
	return vector, nil
}

// validateVector rejects NaN/Inf components before a vector is persisted or
// re-inserted into the buffer.
func validateVector(vector []float32) error {
	for _, v := range vector {
		if v != v || math.IsInf(float64(v), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
