package render

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/willagc/dn42-peering/internal/generator/identity"
	"github.com/willagc/dn42-peering/internal/generator/peer"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

// DefaultTemplate renders a wg-quick configuration for one DN42 peer.
//
//go:embed default.tmpl
var DefaultTemplate string

const (
	// UnknownIdentifier names the output of a descriptor without an identifier.
	UnknownIdentifier = "unknown"

	// DefaultIdentifierField is the descriptor field naming the output file.
	DefaultIdentifierField = "ASN"

	configExtension = ".conf"
)

// Render context keys available to templates.
const (
	KeyPrivateKey   = "private_key"
	KeyPublicKey    = "public_key"
	KeyLocalAddress = "local_address"
	KeyListenPort   = "listen_port"
	KeyLocalASN     = "local_asn"
	KeyPeer         = "peer"
)

// Compiled is the rendered configuration of one peer.
type Compiled struct {
	Identifier string
	Path       string
	// Source is the descriptor the configuration was compiled from.
	Source  string
	Content []byte
}

// Options configures a Compiler.
type Options struct {
	OutputDir       string
	IdentifierField string
	LocalASN        string
}

// Compiler combines the local identity with peer descriptors. It is safe for
// concurrent use.
type Compiler struct {
	tmpl   *template.Template
	opts   Options
	logger *logger.Logger
}

// NewCompiler parses templateText. An empty text selects DefaultTemplate.
func NewCompiler(templateText string, opts Options, log *logger.Logger) (*Compiler, error) {
	if templateText == "" {
		templateText = DefaultTemplate
	}
	if opts.IdentifierField == "" {
		opts.IdentifierField = DefaultIdentifierField
	}
	if log == nil {
		log = logger.NewNop()
	}

	tmpl, err := template.New("wireguard").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return nil, sharedErrors.NewTemplateRenderError(sharedErrors.ErrCodeTemplateParse, "failed to parse template", err)
	}

	return &Compiler{
		tmpl:   tmpl,
		opts:   opts,
		logger: log.WithComponent("compiler"),
	}, nil
}

// NewCompilerFromFile reads the template at path. An empty path selects
// DefaultTemplate.
func NewCompilerFromFile(path string, opts Options, log *logger.Logger) (*Compiler, error) {
	if path == "" {
		return NewCompiler("", opts, log)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to read template", path, err)
	}

	c, err := NewCompiler(string(data), opts, log)
	if err != nil {
		if domainErr, ok := sharedErrors.AsDomainError(err); ok {
			return nil, domainErr.WithMetadata("path", path)
		}
		return nil, err
	}
	return c, nil
}

// Compile renders the configuration for d. Path and Content depend only on
// the identity and the descriptor fields.
func (c *Compiler) Compile(id identity.LocalIdentity, d peer.Descriptor) (Compiled, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, c.context(id, d)); err != nil {
		return Compiled{}, sharedErrors.NewTemplateRenderError(sharedErrors.ErrCodeTemplateRender, "failed to render peer configuration", err).
			WithMetadata("path", d.Source)
	}

	identifier := c.Identifier(d)
	c.logger.Debug("compiled peer configuration", "source", d.Source, "identifier", identifier, "bytes", buf.Len())
	return Compiled{
		Identifier: identifier,
		Path:       c.OutputPath(identifier),
		Source:     d.Source,
		Content:    buf.Bytes(),
	}, nil
}

// Identifier returns the output name of d: the identifier field with path
// separators flattened, or UnknownIdentifier when the field is absent or blank.
func (c *Compiler) Identifier(d peer.Descriptor) string {
	value, _ := d.Get(c.opts.IdentifierField)
	return SanitizeIdentifier(value)
}

// OutputPath returns where the configuration named identifier is written.
func (c *Compiler) OutputPath(identifier string) string {
	return filepath.Join(c.opts.OutputDir, identifier+configExtension)
}

// SanitizeIdentifier maps a raw identifier onto a single file name component.
func SanitizeIdentifier(raw string) string {
	identifier := strings.TrimSpace(raw)
	if identifier == "" {
		return UnknownIdentifier
	}
	return strings.NewReplacer("/", "_", `\`, "_").Replace(identifier)
}

func (c *Compiler) context(id identity.LocalIdentity, d peer.Descriptor) map[string]any {
	fields := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}

	return map[string]any{
		KeyPrivateKey:   id.PrivateKey,
		KeyPublicKey:    id.PublicKey,
		KeyLocalAddress: id.Address.String(),
		KeyListenPort:   strconv.Itoa(int(id.ListenPort)),
		KeyLocalASN:     c.opts.LocalASN,
		KeyPeer:         fields,
	}
}
