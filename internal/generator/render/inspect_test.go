package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_CleanDescriptor(t *testing.T) {
	c := newCompiler(t, "")

	warnings := c.Inspect(testIdentity, descriptor(map[string]string{
		"ASN":       "4242421000",
		"PublicKey": testIdentity.PublicKey,
		"Endpoint":  "203.0.113.5:51820",
		"Address":   "172.22.0.1/32",
	}))
	assert.Empty(t, warnings)
}

func TestInspect_Warnings(t *testing.T) {
	key := testIdentity.PublicKey
	tests := []struct {
		name   string
		fields map[string]string
		field  string
	}{
		{name: "missing identifier", fields: map[string]string{"PublicKey": key}, field: "ASN"},
		{name: "missing public key", fields: map[string]string{"ASN": "1"}, field: "PublicKey"},
		{name: "blank public key", fields: map[string]string{"ASN": "1", "PublicKey": " "}, field: "PublicKey"},
		{name: "bad public key", fields: map[string]string{"ASN": "1", "PublicKey": "short"}, field: "PublicKey"},
		{name: "endpoint without port", fields: map[string]string{"ASN": "1", "PublicKey": key, "Endpoint": "203.0.113.5"}, field: "Endpoint"},
		{name: "endpoint bad port", fields: map[string]string{"ASN": "1", "PublicKey": key, "Endpoint": "example.net:99999"}, field: "Endpoint"},
		{name: "endpoint missing host", fields: map[string]string{"ASN": "1", "PublicKey": key, "Endpoint": ":51820"}, field: "Endpoint"},
		{name: "local address collision", fields: map[string]string{"ASN": "1", "PublicKey": key, "Address": "192.0.2.10/32"}, field: "Address"},
		{name: "local tunnel ip collision", fields: map[string]string{"ASN": "1", "PublicKey": key, "TunnelIP": "192.0.2.10"}, field: "TunnelIP"},
	}

	c := newCompiler(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := c.Inspect(testIdentity, descriptor(tt.fields))
			require.Len(t, warnings, 1)
			assert.Equal(t, tt.field, warnings[0].Field)
			assert.Equal(t, "peers/test.conf", warnings[0].Source)
			assert.Contains(t, warnings[0].String(), tt.field)
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	for _, endpoint := range []string{
		"203.0.113.5:51820",
		"[2001:db8::1]:51820",
		"dn42.example.net:20513",
	} {
		assert.NoError(t, validateEndpoint(endpoint), endpoint)
	}
}
