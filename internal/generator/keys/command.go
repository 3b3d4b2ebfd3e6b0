package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
	"github.com/willagc/dn42-peering/pkg/crypto"
)

// CommandProvider shells out to wg(8): `wg genkey` and `wg pubkey`.
type CommandProvider struct {
	binary string
	logger *logger.Logger
}

// NewCommandProvider creates a provider invoking binary (usually "wg").
func NewCommandProvider(binary string, log *logger.Logger) *CommandProvider {
	if binary == "" {
		binary = "wg"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CommandProvider{
		binary: binary,
		logger: log.WithComponent("keys"),
	}
}

// Generate implements KeyProvider.
func (p *CommandProvider) Generate(ctx context.Context) (crypto.KeyPair, error) {
	out, err := p.run(ctx, nil, "genkey")
	if err != nil {
		return crypto.KeyPair{}, err
	}

	privateKey, err := parseToolKey(out)
	if err != nil {
		return crypto.KeyPair{}, sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeInvalidKey,
			fmt.Sprintf("%s genkey returned an invalid key", p.binary), err)
	}

	publicKey, err := p.DerivePublic(ctx, privateKey)
	if err != nil {
		return crypto.KeyPair{}, err
	}

	p.logger.Debug("generated key pair with external tool", "binary", p.binary)
	return crypto.KeyPair{PrivateKey: privateKey, PublicKey: publicKey}, nil
}

// DerivePublic implements KeyProvider.
func (p *CommandProvider) DerivePublic(ctx context.Context, privateKey string) (string, error) {
	out, err := p.run(ctx, []byte(privateKey+"\n"), "pubkey")
	if err != nil {
		return "", err
	}

	publicKey, err := parseToolKey(out)
	if err != nil {
		return "", sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeInvalidKey,
			fmt.Sprintf("%s pubkey returned an invalid key", p.binary), err)
	}
	return publicKey, nil
}

func (p *CommandProvider) run(ctx context.Context, stdin []byte, subcommand string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binary, subcommand)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyToolMissing,
				fmt.Sprintf("%s is not installed or not in PATH", p.binary), err)
		}
		return "", sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyGeneration,
			fmt.Sprintf("%s %s failed", p.binary, subcommand), err).
			WithMetadata("stderr", strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// parseToolKey validates and canonicalises a key printed by wg(8).
func parseToolKey(out string) (string, error) {
	key, err := wgtypes.ParseKey(strings.TrimSpace(out))
	if err != nil {
		return "", err
	}
	return key.String(), nil
}
