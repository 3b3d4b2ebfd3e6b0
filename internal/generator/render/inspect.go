package render

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/willagc/dn42-peering/internal/generator/identity"
	"github.com/willagc/dn42-peering/internal/generator/peer"
)

// Descriptor fields that Inspect understands.
const (
	FieldPublicKey = "PublicKey"
	FieldEndpoint  = "Endpoint"
	FieldAddress   = "Address"
	FieldTunnelIP  = "TunnelIP"
)

// Warning is a soft problem with a descriptor. It never stops a run.
type Warning struct {
	Source  string
	Field   string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Source, w.Field, w.Message)
}

// Inspect reports descriptor problems that still render but are unlikely to
// produce a working tunnel.
func (c *Compiler) Inspect(id identity.LocalIdentity, d peer.Descriptor) []Warning {
	var warnings []Warning
	warn := func(field, format string, args ...any) {
		warnings = append(warnings, Warning{Source: d.Source, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if value, _ := d.Get(c.opts.IdentifierField); strings.TrimSpace(value) == "" {
		warn(c.opts.IdentifierField, "missing, output is named %s%s", UnknownIdentifier, configExtension)
	}

	if key, ok := d.Get(FieldPublicKey); !ok || strings.TrimSpace(key) == "" {
		warn(FieldPublicKey, "missing, the [Peer] section has no key and the tunnel cannot come up")
	} else if _, err := wgtypes.ParseKey(key); err != nil {
		warn(FieldPublicKey, "not a WireGuard key: %v", err)
	}

	if endpoint, ok := d.Get(FieldEndpoint); ok {
		if err := validateEndpoint(endpoint); err != nil {
			warn(FieldEndpoint, "%v", err)
		}
	}

	if id.Address.IsValid() {
		for _, field := range []string{FieldAddress, FieldTunnelIP} {
			value, ok := d.Get(field)
			if !ok {
				continue
			}
			if addr, ok := parseHost(value); ok && addr == id.Address.Addr() {
				warn(field, "declares the local tunnel address %s", id.Address.Addr())
			}
		}
	}

	return warnings
}

// validateEndpoint accepts ip:port, [ipv6]:port and hostname:port.
func validateEndpoint(endpoint string) error {
	if _, err := netip.ParseAddrPort(endpoint); err == nil {
		return nil
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if host == "" {
		return fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return fmt.Errorf("invalid endpoint %q: bad port %q", endpoint, port)
	}
	return nil
}

// parseHost reads a bare address or a prefix and returns its address part.
func parseHost(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if prefix, err := netip.ParsePrefix(value); err == nil {
		return prefix.Addr(), true
	}
	if addr, err := netip.ParseAddr(value); err == nil {
		return addr, true
	}
	return netip.Addr{}, false
}
