package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/willagc/dn42-peering/internal/generator/allocator"
	"github.com/willagc/dn42-peering/internal/generator/keys"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/fileutil"
	"github.com/willagc/dn42-peering/internal/shared/logger"
	"github.com/willagc/dn42-peering/pkg/crypto"
)

// File names inside the key storage directory.
const (
	PrivateKeyFile = "wg_private.key"
	PublicKeyFile  = "wg_public.key"
	MetadataFile   = "identity.yaml"
)

// LocalIdentity is this installation's long-lived presence in the mesh.
// Once created it never changes: every peer's configuration depends on it.
type LocalIdentity struct {
	PrivateKey string
	PublicKey  string
	Address    netip.Prefix
	ListenPort uint16
}

// AddressAllocator hands out a tunnel address and listen port for a new identity.
type AddressAllocator interface {
	Allocate() (netip.Prefix, uint16)
}

// metadata is the on-disk format of identity.yaml.
type metadata struct {
	Address    string `yaml:"address"`
	ListenPort int    `yaml:"listen_port"`
}

// Store owns the key storage directory.
type Store struct {
	dir       string
	keys      keys.KeyProvider
	allocator AddressAllocator
	logger    *logger.Logger
}

// NewStore creates an identity store rooted at dir.
func NewStore(dir string, provider keys.KeyProvider, alloc AddressAllocator, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		dir:       dir,
		keys:      provider,
		allocator: alloc,
		logger:    log.WithComponent("identity"),
	}
}

// Dir returns the key storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// LoadOrCreate returns the persisted identity, creating it on first run.
// Existing key material is never regenerated or overwritten.
func (s *Store) LoadOrCreate(ctx context.Context) (LocalIdentity, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return LocalIdentity{}, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to create key directory", s.dir, err)
	}

	privateKey, err := s.readKey(PrivateKeyFile)
	switch {
	case err == nil:
		return s.loadExisting(ctx, privateKey)
	case errors.Is(err, fs.ErrNotExist):
		return s.create(ctx)
	default:
		return LocalIdentity{}, err
	}
}

// Load returns the persisted identity without creating anything.
func (s *Store) Load(ctx context.Context) (LocalIdentity, error) {
	privateKey, err := s.readKey(PrivateKeyFile)
	if errors.Is(err, fs.ErrNotExist) {
		return LocalIdentity{}, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "no identity has been created yet", s.path(PrivateKeyFile),
			sharedErrors.ErrIdentityIncomplete)
	}
	if err != nil {
		return LocalIdentity{}, err
	}

	publicKey, err := s.readKey(PublicKeyFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LocalIdentity{}, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "public key is missing", s.path(PublicKeyFile),
				sharedErrors.ErrIdentityIncomplete)
		}
		return LocalIdentity{}, err
	}

	address, port, err := s.readMetadata()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return LocalIdentity{}, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "identity metadata is missing", s.path(MetadataFile),
				sharedErrors.ErrIdentityIncomplete)
		}
		return LocalIdentity{}, err
	}

	return LocalIdentity{PrivateKey: privateKey, PublicKey: publicKey, Address: address, ListenPort: port}, nil
}

func (s *Store) loadExisting(ctx context.Context, privateKey string) (LocalIdentity, error) {
	id := LocalIdentity{PrivateKey: privateKey}

	publicKey, err := s.readKey(PublicKeyFile)
	switch {
	case err == nil:
		id.PublicKey = publicKey
	case errors.Is(err, fs.ErrNotExist):
		// Recover a public key lost after a partial copy of the key directory.
		publicKey, err := s.keys.DerivePublic(ctx, privateKey)
		if err != nil {
			return LocalIdentity{}, err
		}
		if err := s.writeFile(PublicKeyFile, []byte(publicKey+"\n"), 0o644); err != nil {
			return LocalIdentity{}, err
		}
		s.logger.Warn("public key was missing, derived it from the private key", "path", s.path(PublicKeyFile))
		id.PublicKey = publicKey
	default:
		return LocalIdentity{}, err
	}

	address, port, err := s.readMetadata()
	switch {
	case err == nil:
		id.Address, id.ListenPort = address, port
	case errors.Is(err, fs.ErrNotExist):
		// Key directories written before address persistence existed only
		// hold the key pair. Allocate once and pin the result.
		id.Address, id.ListenPort = s.allocator.Allocate()
		if err := s.writeMetadata(id); err != nil {
			return LocalIdentity{}, err
		}
		s.logger.Info("allocated tunnel address for existing key pair",
			"address", id.Address.String(), "listen_port", id.ListenPort)
	default:
		return LocalIdentity{}, err
	}

	s.logger.Debug("loaded local identity", "dir", s.dir, "address", id.Address.String(), "listen_port", id.ListenPort)
	return id, nil
}

func (s *Store) create(ctx context.Context) (LocalIdentity, error) {
	pair, err := s.keys.Generate(ctx)
	if err != nil {
		return LocalIdentity{}, err
	}

	address, port := s.allocator.Allocate()
	id := LocalIdentity{
		PrivateKey: pair.PrivateKey,
		PublicKey:  pair.PublicKey,
		Address:    address,
		ListenPort: port,
	}

	// The private key goes last: its presence marks a complete identity.
	if err := s.writeMetadata(id); err != nil {
		return LocalIdentity{}, err
	}
	if err := s.writeFile(PublicKeyFile, []byte(id.PublicKey+"\n"), 0o644); err != nil {
		return LocalIdentity{}, err
	}
	if err := s.writeFile(PrivateKeyFile, []byte(id.PrivateKey+"\n"), 0o600); err != nil {
		return LocalIdentity{}, err
	}

	s.logger.Info("created local identity",
		"dir", s.dir,
		"public_key", id.PublicKey,
		"address", id.Address.String(),
		"listen_port", id.ListenPort,
	)
	return id, nil
}

// readKey returns fs.ErrNotExist unwrapped so callers can branch on it.
func (s *Store) readKey(name string) (string, error) {
	path := s.path(name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fs.ErrNotExist
	}
	if err != nil {
		return "", sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to read key file", path, err)
	}

	key, err := crypto.NormalizeKey(string(data))
	if err != nil {
		return "", sharedErrors.NewStorageError(sharedErrors.ErrCodeCorruptState, "key file does not hold a valid WireGuard key", path, err)
	}
	return key, nil
}

func (s *Store) readMetadata() (netip.Prefix, uint16, error) {
	path := s.path(MetadataFile)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return netip.Prefix{}, 0, fs.ErrNotExist
	}
	if err != nil {
		return netip.Prefix{}, 0, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to read identity metadata", path, err)
	}

	var m metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return netip.Prefix{}, 0, sharedErrors.NewStorageError(sharedErrors.ErrCodeCorruptState, "identity metadata is not valid YAML", path, err)
	}

	address, err := netip.ParsePrefix(m.Address)
	if err != nil || !address.Addr().Is4() || address.Bits() != 32 {
		return netip.Prefix{}, 0, sharedErrors.NewStorageError(sharedErrors.ErrCodeCorruptState,
			fmt.Sprintf("identity address %q is not an IPv4 /32", m.Address), path, err)
	}
	if !allocator.ValidPort(m.ListenPort) {
		return netip.Prefix{}, 0, sharedErrors.NewStorageError(sharedErrors.ErrCodeCorruptState,
			fmt.Sprintf("identity listen port %d is outside %d-%d", m.ListenPort, allocator.MinListenPort, allocator.MaxListenPort), path, nil)
	}

	return address, uint16(m.ListenPort), nil
}

func (s *Store) writeMetadata(id LocalIdentity) error {
	data, err := yaml.Marshal(metadata{
		Address:    id.Address.String(),
		ListenPort: int(id.ListenPort),
	})
	if err != nil {
		return sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to encode identity metadata", s.path(MetadataFile), err)
	}
	return s.writeFile(MetadataFile, data, 0o600)
}

func (s *Store) writeFile(name string, data []byte, perm os.FileMode) error {
	path := s.path(name)
	if err := fileutil.WriteFileAtomic(path, data, perm); err != nil {
		return sharedErrors.NewStorageError(sharedErrors.ErrCodeFileOperation, "failed to persist identity file", path, err)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}
