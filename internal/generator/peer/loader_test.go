package peer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse(t *testing.T) {
	input := `
# peer: example
ASN = 4242421000
Endpoint=203.0.113.5:51820

this line has no separator
   # indented comment = still a comment
PublicKey = abc=def==
AllowedIPs =   172.20.0.0/14, fd00::/8
ASN = 4242421001
Empty =
`

	fields, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"ASN":        "4242421001",
		"Endpoint":   "203.0.113.5:51820",
		"PublicKey":  "abc=def==",
		"AllowedIPs": "172.20.0.0/14, fd00::/8",
		"Empty":      "",
	}, fields)
}

func TestParse_Empty(t *testing.T) {
	fields, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestParse_CRLF(t *testing.T) {
	fields, err := Parse(strings.NewReader("ASN=1\r\nEndpoint = a:1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ASN": "1", "Endpoint": "a:1"}, fields)
}

func TestParse_OverlongLineIsSkipped(t *testing.T) {
	long := "Comment=" + strings.Repeat("x", MaxLineLength+1)
	atLimit := "Note=" + strings.Repeat("y", MaxLineLength-len("Note="))
	input := "ASN=4242421000\n" + long + "\n" + atLimit + "\nEndpoint=203.0.113.5:51820"

	fields, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "4242421000", fields["ASN"])
	assert.Equal(t, "203.0.113.5:51820", fields["Endpoint"])
	assert.Len(t, fields["Note"], MaxLineLength-len("Note="))
	assert.NotContains(t, fields, "Comment")
}

func TestLoadAll_OverlongLineIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.conf", strings.Repeat("#", 2*MaxLineLength)+"\nASN=1\n")

	descriptors, err := NewLoader(dir, "", nil).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, map[string]string{"ASN": "1"}, descriptors[0].Fields)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.conf", "ASN=4242420002\n")
	writeFile(t, dir, "a.conf", "ASN=4242420001\nEndpoint=198.51.100.1:50000\n")
	writeFile(t, dir, "README.md", "ASN=9999\n")
	writeFile(t, dir, "c.conf.bak", "ASN=8888\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.conf"), 0o755))

	descriptors, err := NewLoader(dir, "", nil).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, filepath.Join(dir, "a.conf"), descriptors[0].Source)
	assert.Equal(t, map[string]string{"ASN": "4242420001", "Endpoint": "198.51.100.1:50000"}, descriptors[0].Fields)
	assert.Equal(t, filepath.Join(dir, "b.conf"), descriptors[1].Source)

	asn, ok := descriptors[1].Get("ASN")
	assert.True(t, ok)
	assert.Equal(t, "4242420002", asn)

	_, ok = descriptors[1].Get("Endpoint")
	assert.False(t, ok)
}

func TestLoadAll_IgnoresUnrelatedFilesWithoutReadingThem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "peer.conf", "ASN=1\n")

	// A dangling symlink cannot be opened; it must not be touched.
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "notes.txt")))

	descriptors, err := NewLoader(dir, ".conf", nil).LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, descriptors, 1)
}

func TestLoadAll_CustomSuffix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "peer.conf", "ASN=1\n")
	writeFile(t, dir, "peer.peer", "ASN=2\n")

	descriptors, err := NewLoader(dir, ".peer", nil).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "2", descriptors[0].Fields["ASN"])
}

func TestLoadAll_UnreadableDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.conf", "ASN=1\n")
	broken := filepath.Join(dir, "b.conf")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), broken))

	_, err := NewLoader(dir, "", nil).LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, sharedErrors.IsErrorCode(err, sharedErrors.ErrCodeDescriptorRead))

	domainErr, ok := sharedErrors.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, broken, domainErr.Metadata()["path"])
}

func TestLoadAll_MissingDirectory(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "absent"), "", nil).LoadAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, sharedErrors.DomainDescriptor, sharedErrors.GetErrorDomain(err))
}

func TestLoadAll_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.conf", "ASN=1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(dir, "", nil).LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
