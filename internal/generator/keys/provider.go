package keys

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/willagc/dn42-peering/internal/generator/config"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
	"github.com/willagc/dn42-peering/pkg/crypto"
)

// KeyProvider produces WireGuard key material.
type KeyProvider interface {
	// Generate returns a fresh private/public key pair.
	Generate(ctx context.Context) (crypto.KeyPair, error)
	// DerivePublic returns the public key belonging to privateKey.
	DerivePublic(ctx context.Context, privateKey string) (string, error)
}

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.KeysConfig, log *logger.Logger) (KeyProvider, error) {
	switch cfg.Provider {
	case config.KeyProviderNative, "":
		return NewNativeProvider(nil), nil
	case config.KeyProviderWG:
		return NewCommandProvider(cfg.WGBinary, log), nil
	default:
		return nil, sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyGeneration,
			fmt.Sprintf("unknown key provider %q", cfg.Provider), nil)
	}
}

// NativeProvider generates keys in-process with curve25519.
type NativeProvider struct {
	entropy io.Reader
}

// NewNativeProvider creates a native provider reading entropy from r.
// A nil reader selects crypto/rand.
func NewNativeProvider(r io.Reader) *NativeProvider {
	if r == nil {
		r = rand.Reader
	}
	return &NativeProvider{entropy: r}
}

// Generate implements KeyProvider.
func (p *NativeProvider) Generate(ctx context.Context) (crypto.KeyPair, error) {
	if err := ctx.Err(); err != nil {
		return crypto.KeyPair{}, sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyGeneration, "key generation cancelled", err)
	}

	pair, err := crypto.GenerateKeyPairFrom(p.entropy)
	if err != nil {
		return crypto.KeyPair{}, sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyGeneration, "failed to generate key pair", err)
	}
	return *pair, nil
}

// DerivePublic implements KeyProvider.
func (p *NativeProvider) DerivePublic(_ context.Context, privateKey string) (string, error) {
	pub, err := crypto.DerivePublicKey(privateKey)
	if err != nil {
		return "", sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeInvalidKey, "failed to derive public key", err)
	}
	return pub, nil
}

// StaticProvider hands out a fixed key pair. It backs tests and dry runs
// where the identity must be reproducible.
type StaticProvider struct {
	Pair  crypto.KeyPair
	Err   error
	Calls int
}

// NewStaticProvider creates a provider that always returns pair.
func NewStaticProvider(pair crypto.KeyPair) *StaticProvider {
	return &StaticProvider{Pair: pair}
}

// Generate implements KeyProvider.
func (p *StaticProvider) Generate(_ context.Context) (crypto.KeyPair, error) {
	p.Calls++
	if p.Err != nil {
		return crypto.KeyPair{}, p.Err
	}
	return p.Pair, nil
}

// DerivePublic implements KeyProvider.
func (p *StaticProvider) DerivePublic(_ context.Context, privateKey string) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	if privateKey == p.Pair.PrivateKey {
		return p.Pair.PublicKey, nil
	}
	return crypto.DerivePublicKey(privateKey)
}
