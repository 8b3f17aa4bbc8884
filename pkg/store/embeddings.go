package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// GetEmbedding returns the cached vector for model and hash. It returns
// ErrNotFound on a cache miss.
func (s *Store) GetEmbedding(ctx context.Context, model, hash string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		dims int
		blob []byte
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT dims, vector FROM embeddings WHERE model = ? AND hash = ?", model, hash,
	).Scan(&dims, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get embedding: %w", err)
	}

	vec, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("store: get embedding: %w", err)
	}
	if len(vec) != dims {
		return nil, fmt.Errorf("store: get embedding: stored %d dims, decoded %d", dims, len(vec))
	}

	return vec, nil
}

// PutEmbedding stores vec for model and hash, replacing any previous value.
func (s *Store) PutEmbedding(ctx context.Context, model, hash string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (model, hash, dims, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(model, hash) DO UPDATE SET dims = excluded.dims, vector = excluded.vector`,
		model, hash, len(vec), encodeVector(vec),
	)
	if err != nil {
		return fmt.Errorf("store: put embedding: %w", err)
	}
	return nil
}

// CountEmbeddings returns the number of cached vectors for model, or for all
// models when model is empty.
func (s *Store) CountEmbeddings(ctx context.Context, model string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM embeddings"
	var args []any
	if model != "" {
		query += " WHERE model = ?"
		args = append(args, model)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count embeddings: %w", err)
	}
	return n, nil
}

// encodeVector packs vec as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}

	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}
