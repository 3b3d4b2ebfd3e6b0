package allocator

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/willagc/dn42-peering/internal/generator/config"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

// Dynamic (ephemeral) port range from RFC 6335.
const (
	MinListenPort = 49152
	MaxListenPort = 65535
)

// maxPoolBits keeps at least two usable hosts in every pool.
const maxPoolBits = 30

// DefaultPools are the non-publicly-routable ranges the local tunnel address is drawn from.
var DefaultPools = []netip.Prefix{
	netip.MustParsePrefix("192.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// Allocator picks a random /32 tunnel address and listen port. It does not
// check for collisions with other installations; the pool sizes make them
// unlikely at mesh scale.
type Allocator struct {
	pools []netip.Prefix
	rng   *rand.Rand
}

// New creates an allocator drawing from pools with the given random source.
func New(pools []netip.Prefix, rng *rand.Rand) (*Allocator, error) {
	if len(pools) == 0 {
		return nil, sharedErrors.NewAllocatorError(sharedErrors.ErrCodeInvalidPool, "at least one address pool is required", nil)
	}
	if rng == nil {
		return nil, sharedErrors.NewAllocatorError(sharedErrors.ErrCodeInvalidPool, "random source is required", nil)
	}

	validated := make([]netip.Prefix, 0, len(pools))
	for _, pool := range pools {
		if !pool.IsValid() || !pool.Addr().Is4() {
			return nil, sharedErrors.NewAllocatorError(sharedErrors.ErrCodeInvalidPool,
				fmt.Sprintf("pool %s is not an IPv4 prefix", pool), nil)
		}
		if pool.Bits() > maxPoolBits {
			return nil, sharedErrors.NewAllocatorError(sharedErrors.ErrCodeInvalidPool,
				fmt.Sprintf("pool %s has no usable host range", pool), nil)
		}
		validated = append(validated, pool.Masked())
	}

	return &Allocator{pools: validated, rng: rng}, nil
}

// NewFromConfig creates an allocator from configuration. A zero seed seeds
// the generator from the clock.
func NewFromConfig(cfg config.AllocatorConfig) (*Allocator, error) {
	pools, err := cfg.ParsedPools()
	if err != nil {
		return nil, sharedErrors.NewAllocatorError(sharedErrors.ErrCodeInvalidPool, "invalid allocator configuration", err)
	}

	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return New(pools, NewRand(seed))
}

// NewRand returns a deterministic random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Pools returns a copy of the configured pools.
func (a *Allocator) Pools() []netip.Prefix {
	return append([]netip.Prefix(nil), a.pools...)
}

// Allocate picks a pool, then a host inside it, then a listen port, each
// uniformly at random.
func (a *Allocator) Allocate() (netip.Prefix, uint16) {
	pool := a.pools[a.rng.IntN(len(a.pools))]
	return netip.PrefixFrom(a.randomHost(pool), 32), a.randomPort()
}

// randomHost excludes the network and broadcast addresses.
func (a *Allocator) randomHost(pool netip.Prefix) netip.Addr {
	size := uint64(1) << (32 - pool.Bits())
	base := addrToUint32(pool.Addr())
	offset := 1 + a.rng.Uint64N(size-2)
	return uint32ToAddr(base + uint32(offset))
}

func (a *Allocator) randomPort() uint16 {
	return uint16(MinListenPort + a.rng.IntN(MaxListenPort-MinListenPort+1))
}

// Contains reports whether address is a /32 host address inside one of the pools.
func (a *Allocator) Contains(address netip.Prefix) bool {
	return InPools(address, a.pools)
}

// InPools reports whether address is a /32 usable host inside one of pools.
func InPools(address netip.Prefix, pools []netip.Prefix) bool {
	if !address.IsValid() || address.Bits() != 32 || !address.Addr().Is4() {
		return false
	}
	for _, pool := range pools {
		if !pool.Contains(address.Addr()) {
			continue
		}
		size := uint64(1) << (32 - pool.Bits())
		offset := uint64(addrToUint32(address.Addr()) - addrToUint32(pool.Masked().Addr()))
		if offset > 0 && offset < size-1 {
			return true
		}
	}
	return false
}

// ValidPort reports whether port lies in the dynamic range.
func ValidPort(port int) bool {
	return port >= MinListenPort && port <= MaxListenPort
}

func addrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
