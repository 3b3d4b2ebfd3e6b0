package generator

import (
	"context"
	"fmt"

	"github.com/willagc/dn42-peering/internal/generator/allocator"
	"github.com/willagc/dn42-peering/internal/generator/config"
	"github.com/willagc/dn42-peering/internal/generator/identity"
	"github.com/willagc/dn42-peering/internal/generator/keys"
	"github.com/willagc/dn42-peering/internal/generator/peer"
	"github.com/willagc/dn42-peering/internal/generator/render"
	"github.com/willagc/dn42-peering/internal/shared/logger"
)

// Components holds everything a run is wired from.
type Components struct {
	Keys      keys.KeyProvider
	Allocator *allocator.Allocator
	Identity  *identity.Store
	Loader    *peer.Loader
	Compiler  *render.Compiler
}

// NewComponents builds the run components described by cfg.
func NewComponents(cfg *config.Config, log *logger.Logger) (*Components, error) {
	if log == nil {
		log = logger.NewNop()
	}

	op := log.StartOp(context.Background(), "create_components")

	provider, err := keys.NewProvider(cfg.Keys, log)
	if err != nil {
		op.Fail(err, "failed to create key provider")
		return nil, fmt.Errorf("failed to create key provider: %w", err)
	}

	alloc, err := allocator.NewFromConfig(cfg.Allocator)
	if err != nil {
		op.Fail(err, "failed to create address allocator")
		return nil, fmt.Errorf("failed to create address allocator: %w", err)
	}

	compiler, err := render.NewCompilerFromFile(cfg.Paths.Template, render.Options{
		OutputDir:       cfg.Paths.Output,
		IdentifierField: cfg.Peers.IdentifierField,
		LocalASN:        cfg.LocalASN,
	}, log)
	if err != nil {
		op.Fail(err, "failed to load template")
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	components := &Components{
		Keys:      provider,
		Allocator: alloc,
		Identity:  identity.NewStore(cfg.Paths.Keys, provider, alloc, log),
		Loader:    peer.NewLoader(cfg.Paths.Peers, cfg.Peers.Suffix, log),
		Compiler:  compiler,
	}

	op.Complete("components created", "key_provider", cfg.Keys.Provider)
	return components, nil
}

// NewFromConfig wires a Generator from cfg.
func NewFromConfig(cfg *config.Config, log *logger.Logger) (*Generator, error) {
	components, err := NewComponents(cfg, log)
	if err != nil {
		return nil, err
	}

	return New(components.Identity, components.Loader, components.Compiler, Options{
		OutputDir: cfg.Paths.Output,
		LocalASN:  cfg.LocalASN,
		Workers:   cfg.Compile.Workers,
		DryRun:    cfg.Compile.DryRun,
	}, log), nil
}
