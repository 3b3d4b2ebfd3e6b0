package peer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

// DefaultSuffix marks a file in the peer directory as a descriptor.
const DefaultSuffix = ".conf"

// Loader discovers and parses the peer descriptors of one directory.
type Loader struct {
	dir    string
	suffix string
	logger *logger.Logger
}

// NewLoader creates a loader for dir. An empty suffix selects DefaultSuffix.
func NewLoader(dir, suffix string, log *logger.Logger) *Loader {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{
		dir:    dir,
		suffix: suffix,
		logger: log.WithComponent("peers"),
	}
}

// Dir returns the descriptor directory.
func (l *Loader) Dir() string {
	return l.dir
}

// LoadAll parses every descriptor in the directory, in directory order
// (sorted by file name). Files without the descriptor suffix are never opened.
// The first unreadable descriptor aborts the load.
func (l *Loader) LoadAll(ctx context.Context) ([]Descriptor, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, sharedErrors.NewDescriptorReadError("failed to list peer directory", l.dir, err)
	}

	var descriptors []Descriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if !strings.HasSuffix(name, l.suffix) {
			continue
		}
		if entry.IsDir() {
			l.logger.Debug("skipping directory with descriptor suffix", "name", name)
			continue
		}

		d, err := l.Load(filepath.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	l.logger.Debug("loaded peer descriptors", "dir", l.dir, "count", len(descriptors))
	return descriptors, nil
}

// Load parses a single descriptor file.
func (l *Loader) Load(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, sharedErrors.NewDescriptorReadError("failed to open peer descriptor", path, err)
	}
	defer f.Close()

	fields, err := Parse(f)
	if err != nil {
		return Descriptor{}, sharedErrors.NewDescriptorReadError("failed to read peer descriptor", path, err)
	}

	return Descriptor{Source: path, Fields: fields}, nil
}
