// Package metadata provides content hashing for persisted snapshots.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FormatVersion is the snapshot file format version.
const FormatVersion = "2.0"

// Metadata verification errors.
var (
	ErrNoHashFound  = errors.New("no hash found in metadata")
	ErrHashMismatch = errors.New("hash mismatch")
)

// Stamp identifies a signed block of content.
type Stamp struct {
	SignedAt time.Time `json:"signed_at"`
	Version  string    `json:"version"`
	Hash     string    `json:"hash"`
}

// CalculateHash computes the SHA-256 hash of content.
func CalculateHash(content []byte) string {
	hash := sha256.Sum256(content)

	return hex.EncodeToString(hash[:])
}

// HashJSON hashes the compact JSON encoding of v.
func HashJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode content for hashing: %w", err)
	}

	return CalculateHash(data), nil
}

// Sign returns a fresh stamp for v.
func Sign(v any, now time.Time) (Stamp, error) {
	hash, err := HashJSON(v)
	if err != nil {
		return Stamp{}, err
	}

	return Stamp{
		SignedAt: now.UTC(),
		Version:  FormatVersion,
		Hash:     hash,
	}, nil
}

// Verify checks that v still hashes to want.
func Verify(v any, want string) (bool, error) {
	if want == "" {
		return false, ErrNoHashFound
	}

	calculated, err := HashJSON(v)
	if err != nil {
		return false, err
	}

	if calculated != want {
		return false, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, want, calculated)
	}

	return true, nil
}
