package publish

import (
	"os"
	"path/filepath"

	"github.com/willagc/dn42-peering/internal/generator/render"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/fileutil"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

const (
	publicKeyExtension = ".pub"
	filePerm           = 0o644
	// Output configurations embed the private key.
	configPerm = 0o600
)

// Publisher writes generated artifacts into the output directory.
// A Publisher is meant for one run and is not safe for concurrent use.
type Publisher struct {
	dir     string
	logger  *logger.Logger
	written map[string]string // path -> source of the write
}

// NewPublisher creates a publisher for dir.
func NewPublisher(dir string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Publisher{
		dir:     dir,
		logger:  log.WithComponent("publisher"),
		written: make(map[string]string),
	}
}

// Dir returns the output directory.
func (p *Publisher) Dir() string {
	return p.dir
}

// EnsureDir creates the output directory if needed.
func (p *Publisher) EnsureDir() error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return sharedErrors.NewStorageError(sharedErrors.ErrCodeStorage, "failed to create output directory", p.dir, err)
	}
	return nil
}

// PublicKeyPath returns where the local public key is published.
func (p *Publisher) PublicKeyPath(localASN string) string {
	return filepath.Join(p.dir, localASN+publicKeyExtension)
}

// PublishLocal writes the local public key to <dir>/<localASN>.pub.
func (p *Publisher) PublishLocal(publicKey, localASN string) (string, error) {
	path := p.PublicKeyPath(localASN)
	if err := p.write(path, []byte(publicKey+"\n"), filePerm, "local identity"); err != nil {
		return "", err
	}
	return path, nil
}

// PublishPeer writes a compiled configuration to its path, replacing any
// previous content. When two descriptors of one run map to the same path the
// later one wins and a warning names both.
func (p *Publisher) PublishPeer(c render.Compiled) error {
	return p.write(c.Path, c.Content, configPerm, c.Source)
}

// Written returns the number of distinct paths published so far.
func (p *Publisher) Written() int {
	return len(p.written)
}

func (p *Publisher) write(path string, data []byte, perm os.FileMode, source string) error {
	if previous, ok := p.written[path]; ok {
		p.logger.Warn("output path written twice in one run, last writer wins",
			"path", path, "previous_source", previous, "source", source)
	}

	if err := p.EnsureDir(); err != nil {
		return err
	}

	same, err := fileutil.SameContent(path, data)
	if err != nil {
		return sharedErrors.NewStorageError(sharedErrors.ErrCodeFileOperation, "failed to read existing output", path, err)
	}

	if same {
		// Files left by older generators may be world-readable.
		if err := os.Chmod(path, perm); err != nil {
			return sharedErrors.NewStorageError(sharedErrors.ErrCodeFileOperation, "failed to set output permissions", path, err)
		}
		p.logger.Debug("output unchanged", "path", path)
	} else {
		if err := fileutil.WriteFileAtomic(path, data, perm); err != nil {
			return sharedErrors.NewStorageError(sharedErrors.ErrCodeFileOperation, "failed to write output", path, err)
		}
		p.logger.Debug("output written", "path", path, "bytes", len(data))
	}

	p.written[path] = source
	return nil
}
