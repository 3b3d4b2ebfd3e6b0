package allocator

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willagc/dn42-peering/internal/generator/config"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

func TestAllocate_Ranges(t *testing.T) {
	a, err := New(DefaultPools, NewRand(1))
	require.NoError(t, err)

	seenPools := make(map[netip.Prefix]int)
	for i := 0; i < 2000; i++ {
		address, port := a.Allocate()

		require.Equal(t, 32, address.Bits(), "address %s is not a /32", address)
		require.True(t, a.Contains(address), "address %s outside pools", address)
		require.True(t, ValidPort(int(port)), "port %d outside dynamic range", port)

		for _, pool := range DefaultPools {
			if pool.Contains(address.Addr()) {
				seenPools[pool]++
			}
		}
	}

	// both pools are picked with equal probability
	assert.Len(t, seenPools, 2)
	for pool, n := range seenPools {
		assert.Greater(t, n, 800, "pool %s picked too rarely", pool)
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	a1, err := New(DefaultPools, NewRand(42))
	require.NoError(t, err)
	a2, err := New(DefaultPools, NewRand(42))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		addr1, port1 := a1.Allocate()
		addr2, port2 := a2.Allocate()
		assert.Equal(t, addr1, addr2)
		assert.Equal(t, port1, port2)
	}
}

func TestAllocate_SmallestPoolSkipsNetworkAndBroadcast(t *testing.T) {
	pool := netip.MustParsePrefix("10.1.2.0/30")
	a, err := New([]netip.Prefix{pool}, NewRand(7))
	require.NoError(t, err)

	seen := make(map[netip.Addr]bool)
	for i := 0; i < 200; i++ {
		address, _ := a.Allocate()
		seen[address.Addr()] = true
	}

	assert.Equal(t, map[netip.Addr]bool{
		netip.MustParseAddr("10.1.2.1"): true,
		netip.MustParseAddr("10.1.2.2"): true,
	}, seen)
}

func TestNew_InvalidPools(t *testing.T) {
	tests := []struct {
		name  string
		pools []netip.Prefix
	}{
		{name: "empty", pools: nil},
		{name: "ipv6", pools: []netip.Prefix{netip.MustParsePrefix("fd00::/8")}},
		{name: "too small", pools: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/31")}},
		{name: "zero value", pools: []netip.Prefix{{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.pools, NewRand(1))
			require.Error(t, err)
			assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeInvalidPool))
		})
	}

	_, err := New(DefaultPools, nil)
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	a, err := NewFromConfig(config.AllocatorConfig{Pools: []string{"100.64.0.0/10"}, Seed: 9})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("100.64.0.0/10")}, a.Pools())

	address, _ := a.Allocate()
	assert.True(t, netip.MustParsePrefix("100.64.0.0/10").Contains(address.Addr()))

	_, err = NewFromConfig(config.AllocatorConfig{Pools: []string{"bogus"}})
	assert.Error(t, err)
}

func TestInPools(t *testing.T) {
	assert.True(t, InPools(netip.MustParsePrefix("169.254.10.20/32"), DefaultPools))
	assert.False(t, InPools(netip.MustParsePrefix("169.254.0.0/32"), DefaultPools), "network address")
	assert.False(t, InPools(netip.MustParsePrefix("169.254.255.255/32"), DefaultPools), "broadcast address")
	assert.False(t, InPools(netip.MustParsePrefix("169.254.10.20/24"), DefaultPools), "not a /32")
	assert.False(t, InPools(netip.MustParsePrefix("203.0.113.5/32"), DefaultPools), "public address")
}

func TestValidPort(t *testing.T) {
	assert.True(t, ValidPort(49152))
	assert.True(t, ValidPort(65535))
	assert.False(t, ValidPort(49151))
	assert.False(t, ValidPort(65536))
}
