// Package session holds the per-identity refresh-token fingerprint.
//
// Exactly one fingerprint is stored per identity. The only write paths are
// Rotate, an atomic compare-and-set, and Clear. An empty string stands for
// "no active refresh token" everywhere in this package.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrConflict reports that the stored fingerprint changed underneath a Rotate.
	ErrConflict = errors.New("refresh fingerprint conflict")
	// ErrEmptyFingerprint rejects Rotate calls that would store nothing; use Clear.
	ErrEmptyFingerprint = errors.New("empty refresh fingerprint")
)

type Store interface {
	// Fingerprint returns the stored fingerprint or "" when none is active.
	Fingerprint(ctx context.Context, identityID string) (string, error)
	// Rotate replaces expected with next, failing with ErrConflict when the
	// stored value is no longer expected.
	Rotate(ctx context.Context, identityID, expected, next string) error
	// Clear drops the stored fingerprint. Clearing an empty slot is not an error.
	Clear(ctx context.Context, identityID string) error
}

// Fingerprinter derives the stored representation of a refresh token.
type Fingerprinter func(refreshToken string) string

// PlainFingerprint stores the token itself.
func PlainFingerprint(refreshToken string) string {
	return refreshToken
}

// SHA256Fingerprint stores the base64url SHA-256 of the token.
func SHA256Fingerprint(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func FingerprinterFor(mode string) (Fingerprinter, error) {
	switch mode {
	case "", "plain":
		return PlainFingerprint, nil
	case "sha256":
		return SHA256Fingerprint, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint mode %q", mode)
	}
}
