package crypto

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of a WireGuard private or public key.
const KeySize = 32

// KeyPair represents a WireGuard key pair (private and public keys), both base64-encoded.
type KeyPair struct {
	PrivateKey string `json:"private_key" yaml:"private_key"`
	PublicKey  string `json:"public_key" yaml:"public_key"`
}

// GenerateKeyPairFrom generates a key pair reading 32 bytes of entropy from r.
func GenerateKeyPairFrom(r io.Reader) (*KeyPair, error) {
	privateKeyBytes := make([]byte, KeySize)
	if _, err := io.ReadFull(r, privateKeyBytes); err != nil {
		return nil, fmt.Errorf("failed to read random bytes for private key: %w", err)
	}

	clampPrivateKey(privateKeyBytes)

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(privateKeyBytes),
		PublicKey:  base64.StdEncoding.EncodeToString(publicKeyBytes),
	}, nil
}

// DerivePublicKey derives the public key for a base64-encoded private key.
func DerivePublicKey(privateKey string) (string, error) {
	privateKeyBytes, err := decodeKey(privateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}

	// wg(8) clamps before scalar multiplication; do the same so unclamped keys
	// from other tools derive the same public key.
	clampPrivateKey(privateKeyBytes)

	publicKeyBytes, err := curve25519.X25519(privateKeyBytes, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(publicKeyBytes), nil
}

// clampPrivateKey applies the curve25519 clamping used by WireGuard.
func clampPrivateKey(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}

// NormalizeKey trims surrounding whitespace (as written by `wg genkey`) and
// validates the result.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if _, err := decodeKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func decodeKey(key string) ([]byte, error) {
	// 32 bytes base64-encode to exactly 44 characters.
	if len(key) != base64.StdEncoding.EncodedLen(KeySize) {
		return nil, fmt.Errorf("key has incorrect length: expected %d characters, got %d", base64.StdEncoding.EncodedLen(KeySize), len(key))
	}

	b, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("key is not valid base64: %w", err)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("key has incorrect length: expected %d bytes", KeySize)
	}
	return b, nil
}
