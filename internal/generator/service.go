package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/willagc/dn42-peering/internal/generator/identity"
	"github.com/willagc/dn42-peering/internal/generator/peer"
	"github.com/willagc/dn42-peering/internal/generator/publish"
	"github.com/willagc/dn42-peering/internal/generator/render"
	sharedErrors "github.com/willagc/dn42-peering/internal/shared/errors"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

// IdentityStore resolves the local identity.
type IdentityStore interface {
	LoadOrCreate(ctx context.Context) (identity.LocalIdentity, error)
}

// DescriptorLoader yields the peer descriptors of one run.
type DescriptorLoader interface {
	LoadAll(ctx context.Context) ([]peer.Descriptor, error)
}

// Options tunes a Generator.
type Options struct {
	OutputDir string
	LocalASN  string
	// Workers bounds parallel compilation. Values below 1 compile sequentially.
	Workers int
	// DryRun compiles every peer without writing anything.
	DryRun bool
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Identity identity.LocalIdentity
	// PublicKeyPath is empty in dry-run mode.
	PublicKeyPath string
	// Compiled holds one entry per descriptor, in descriptor order.
	Compiled []render.Compiled
	// Published lists every path written, the public key first.
	Published []string
	Warnings  []render.Warning
	DryRun    bool
}

// Generator runs identity resolution, descriptor loading, compilation and
// publishing, strictly in that order.
type Generator struct {
	identities IdentityStore
	loader     DescriptorLoader
	compiler   *render.Compiler
	opts       Options
	logger     *logger.Logger
}

// New creates a generator from its components.
func New(identities IdentityStore, loader DescriptorLoader, compiler *render.Compiler, opts Options, log *logger.Logger) *Generator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Generator{
		identities: identities,
		loader:     loader,
		compiler:   compiler,
		opts:       opts,
		logger:     log.WithComponent("generator"),
	}
}

// Run executes one generation. The first fatal error aborts the run and is
// returned as a *errors.StageError naming the stage and path involved.
func (g *Generator) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:  uuid.New().String(),
		DryRun: g.opts.DryRun,
	}
	ctx = logger.WithRunID(ctx, result.RunID)

	op := g.logger.StartOp(ctx, "generate", "output", g.opts.OutputDir, "dry_run", g.opts.DryRun)

	result, err := g.run(ctx, op, result)
	if err != nil {
		op.Fail(err, "generation failed")
		return nil, err
	}

	op.Complete("generation completed",
		"peers", len(result.Compiled),
		"published", len(result.Published),
		"warnings", len(result.Warnings),
	)
	return result, nil
}

func (g *Generator) run(ctx context.Context, op *logger.Operation, result *Result) (*Result, error) {
	id, err := g.identities.LoadOrCreate(ctx)
	if err != nil {
		return nil, stageError(sharedErrors.StageIdentity, "", err)
	}
	result.Identity = id

	descriptors, err := g.loader.LoadAll(ctx)
	if err != nil {
		return nil, stageError(sharedErrors.StageLoad, "", err)
	}

	compiled, warnings, err := g.compileAll(ctx, id, descriptors)
	if err != nil {
		return nil, err
	}
	result.Compiled = compiled
	result.Warnings = warnings

	for _, w := range warnings {
		g.logger.WithContext(logger.WithPeer(ctx, w.Source)).Warn("peer descriptor warning", "field", w.Field, "detail", w.Message)
	}

	if g.opts.DryRun {
		return result, nil
	}

	// Nothing touches the output directory until every peer compiled.
	publisher := publish.NewPublisher(g.opts.OutputDir, g.logger)
	if err := publisher.EnsureDir(); err != nil {
		return nil, stageError(sharedErrors.StagePublish, g.opts.OutputDir, err)
	}

	path, err := publisher.PublishLocal(id.PublicKey, g.opts.LocalASN)
	if err != nil {
		return nil, stageError(sharedErrors.StagePublish, publisher.PublicKeyPath(g.opts.LocalASN), err)
	}
	result.PublicKeyPath = path
	result.Published = append(result.Published, path)

	for i, c := range compiled {
		if err := publisher.PublishPeer(c); err != nil {
			return nil, stageError(sharedErrors.StagePublish, c.Path, err)
		}
		result.Published = append(result.Published, c.Path)
		op.Progress("peer published", "path", c.Path, "done", i+1, "total", len(compiled))
	}

	return result, nil
}

// compileAll renders every descriptor with at most Workers in flight. Results
// are stored by index so their order never depends on scheduling.
func (g *Generator) compileAll(ctx context.Context, id identity.LocalIdentity, descriptors []peer.Descriptor) ([]render.Compiled, []render.Warning, error) {
	compiled := make([]render.Compiled, len(descriptors))
	warnings := make([][]render.Warning, len(descriptors))
	failures := make([]error, len(descriptors))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.opts.Workers)

	for i, d := range descriptors {
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			log := g.logger.WithContext(logger.WithPeer(gctx, d.Source))
			c, err := g.compiler.Compile(id, d)
			if err != nil {
				log.Debug("peer failed to compile", "error", err)
				failures[i] = err
				return err
			}
			log.Debug("peer compiled", "identifier", c.Identifier)
			compiled[i] = c
			warnings[i] = g.compiler.Inspect(id, d)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		// Report the failing descriptor that comes first in load order.
		for i, failure := range failures {
			if failure != nil {
				return nil, nil, stageError(sharedErrors.StageCompile, descriptors[i].Source, failure)
			}
		}
		return nil, nil, stageError(sharedErrors.StageCompile, "", err)
	}

	var flat []render.Warning
	for _, w := range warnings {
		flat = append(flat, w...)
	}
	return compiled, flat, nil
}

// stageError wraps err for the operator. An empty path is filled from the
// domain error metadata when available.
func stageError(stage, path string, err error) error {
	var existing *sharedErrors.StageError
	if errors.As(err, &existing) {
		return err
	}

	if path == "" {
		if domainErr, ok := sharedErrors.AsDomainError(err); ok {
			if p, ok := domainErr.Metadata()["path"].(string); ok {
				path = p
			}
		}
	}
	return sharedErrors.NewStageError(stage, path, err)
}

func (r *Result) String() string {
	return fmt.Sprintf("run %s: %d peers, %d files published, %d warnings",
		r.RunID, len(r.Compiled), len(r.Published), len(r.Warnings))
}
