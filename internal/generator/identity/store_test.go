package identity

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willagc/dn42-peering/internal/generator/allocator"
	"github.com/willagc/dn42-peering/internal/generator/keys"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/pkg/crypto"
)

const (
	testPrivateKey = "dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo="
	testPublicKey  = "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo="
)

// countingAllocator returns a fixed allocation and records how often it was asked.
type countingAllocator struct {
	address netip.Prefix
	port    uint16
	calls   int
}

func (a *countingAllocator) Allocate() (netip.Prefix, uint16) {
	a.calls++
	return a.address, a.port
}

func newFixture(t *testing.T) (*Store, *keys.StaticProvider, *countingAllocator, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "secrets", "keys")
	provider := keys.NewStaticProvider(crypto.KeyPair{PrivateKey: testPrivateKey, PublicKey: testPublicKey})
	alloc := &countingAllocator{address: netip.MustParsePrefix("192.0.2.10/32"), port: 51111}
	return NewStore(dir, provider, alloc, nil), provider, alloc, dir
}

func TestLoadOrCreate_FirstRunCreatesIdentity(t *testing.T) {
	store, provider, alloc, dir := newFixture(t)

	id, err := store.LoadOrCreate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, LocalIdentity{
		PrivateKey: testPrivateKey,
		PublicKey:  testPublicKey,
		Address:    netip.MustParsePrefix("192.0.2.10/32"),
		ListenPort: 51111,
	}, id)
	assert.Equal(t, 1, provider.Calls)
	assert.Equal(t, 1, alloc.calls)

	priv, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey+"\n", string(priv))

	pub, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, testPublicKey+"\n", string(pub))

	meta, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)
	assert.Equal(t, "address: 192.0.2.10/32\nlisten_port: 51111\n", string(meta))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestLoadOrCreate_SecondRunReusesIdentity(t *testing.T) {
	store, provider, alloc, dir := newFixture(t)
	ctx := context.Background()

	first, err := store.LoadOrCreate(ctx)
	require.NoError(t, err)

	privBefore, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)

	// A different allocation would be handed out if the allocator were consulted.
	alloc.address = netip.MustParsePrefix("169.254.1.1/32")
	alloc.port = 60000

	second, err := store.LoadOrCreate(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.Calls, "key pair must not be regenerated")
	assert.Equal(t, 1, alloc.calls, "address must not be recomputed")

	privAfter, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, privBefore, privAfter)
}

func TestLoadOrCreate_RandomAllocatorStaysPinned(t *testing.T) {
	dir := t.TempDir()
	alloc, err := allocator.New(allocator.DefaultPools, allocator.NewRand(3))
	require.NoError(t, err)

	store := NewStore(dir, keys.NewNativeProvider(nil), alloc, nil)

	first, err := store.LoadOrCreate(context.Background())
	require.NoError(t, err)
	assert.True(t, alloc.Contains(first.Address))
	assert.True(t, allocator.ValidPort(int(first.ListenPort)))

	for i := 0; i < 3; i++ {
		again, err := store.LoadOrCreate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLoadOrCreate_LegacyKeyDirectory(t *testing.T) {
	store, provider, alloc, dir := newFixture(t)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	// Key pair left by an older shell generator: no trailing newline, no metadata.
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte(testPrivateKey), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(testPublicKey), 0o644))

	id, err := store.LoadOrCreate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testPrivateKey, id.PrivateKey)
	assert.Equal(t, testPublicKey, id.PublicKey)
	assert.Equal(t, 0, provider.Calls)
	assert.Equal(t, 1, alloc.calls)

	// keys untouched, metadata pinned
	priv, err := os.ReadFile(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, testPrivateKey, string(priv))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, loaded)
}

func TestLoadOrCreate_DerivesMissingPublicKey(t *testing.T) {
	store, _, _, dir := newFixture(t)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte(testPrivateKey+"\n"), 0o600))

	id, err := store.LoadOrCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testPublicKey, id.PublicKey)

	pub, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, testPublicKey+"\n", string(pub))
}

func TestLoadOrCreate_CorruptState(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{
			name:  "garbage private key",
			files: map[string]string{PrivateKeyFile: "not a key\n"},
		},
		{
			name: "metadata address not a host route",
			files: map[string]string{
				PrivateKeyFile: testPrivateKey,
				PublicKeyFile:  testPublicKey,
				MetadataFile:   "address: 192.0.2.0/24\nlisten_port: 50000\n",
			},
		},
		{
			name: "metadata port outside dynamic range",
			files: map[string]string{
				PrivateKeyFile: testPrivateKey,
				PublicKeyFile:  testPublicKey,
				MetadataFile:   "address: 192.0.2.1/32\nlisten_port: 51820\n",
			},
		},
		{
			name: "metadata not yaml",
			files: map[string]string{
				PrivateKeyFile: testPrivateKey,
				PublicKeyFile:  testPublicKey,
				MetadataFile:   "address: [unclosed\n",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, provider, _, dir := newFixture(t)
			require.NoError(t, os.MkdirAll(dir, 0o700))
			for name, content := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
			}

			_, err := store.LoadOrCreate(context.Background())
			require.Error(t, err)
			assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeCorruptState), "got %v", err)
			assert.Equal(t, sharedErrors.DomainStorage, sharedErrors.GetErrorDomain(err))
			assert.Equal(t, 0, provider.Calls, "corrupt state must not trigger regeneration")
		})
	}
}

func TestLoadOrCreate_KeyGenerationFailure(t *testing.T) {
	store, provider, _, dir := newFixture(t)
	provider.Err = sharedErrors.NewKeyGenerationError(sharedErrors.ErrCodeKeyToolMissing, "wg missing", nil)

	_, err := store.LoadOrCreate(context.Background())
	require.Error(t, err)
	assert.Equal(t, sharedErrors.DomainKeygen, sharedErrors.GetErrorDomain(err))

	_, statErr := os.Stat(filepath.Join(dir, PrivateKeyFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no key material may be written on failure")
}

func TestLoadOrCreate_UnwritableDirectory(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	provider := keys.NewStaticProvider(crypto.KeyPair{PrivateKey: testPrivateKey, PublicKey: testPublicKey})
	store := NewStore(filepath.Join(blocker, "keys"), provider, &countingAllocator{}, nil)

	_, err := store.LoadOrCreate(context.Background())
	require.Error(t, err)
	assert.Equal(t, sharedErrors.DomainStorage, sharedErrors.GetErrorDomain(err))
}

func TestLoad_WithoutIdentity(t *testing.T) {
	store, _, _, _ := newFixture(t)

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sharedErrors.ErrIdentityIncomplete)
}
