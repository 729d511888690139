package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/fetch"
	"github.com/avocado-linux/avocado/pkg/signing"
)

// Build drives the full pipeline: analyze, prepare the SDK, build
// extensions, image extensions, build runtimes. Phases run strictly in
// order and the first failure aborts the build.
type Build struct {
	common

	Project *Project
	Runner  containerRunner
	Volumes volumeManager
	Keys    *signing.Registry

	// requested runtime names; nil selects every runtime applying to
	// the target
	Runtimes []string
}

func (b *Build) volumes() volumeManager {
	if b.Volumes != nil {
		return b.Volumes
	}

	return container.NewVolumes(b.Project.ContainerRuntime)
}

// Run executes all five phases.
func (b *Build) Run(ctx context.Context) error {
	ui := GetUI(ctx)

	ui.Phase(1, 5, "analyze")

	selected, err := b.Project.Composed.SelectRuntimes(b.Runtimes)
	if err != nil {
		return err
	}

	deps, err := b.Project.Composed.Resolve(selected)
	if err != nil {
		return err
	}

	ui.Done("target %s: %d runtime(s), %d extension dependencies",
		b.Project.Target, len(selected), len(deps))

	if err := b.volumes().Ensure(ctx, b.Project.Volume()); err != nil {
		return err
	}

	ui.Phase(2, 5, "prepare sdk")

	// SDK compilation only matters when there are extensions to build
	if len(deps) > 0 {
		if err := b.PrepareSdk(ctx); err != nil {
			return err
		}
	}

	ui.Phase(3, 5, "build extensions")

	if err := b.BuildExtensions(ctx, deps); err != nil {
		return err
	}

	ui.Phase(4, 5, "image extensions")

	if err := b.ImageExtensions(ctx, deps); err != nil {
		return err
	}

	ui.Phase(5, 5, "build runtimes")

	return b.BuildRuntimes(ctx, selected)
}

// PrepareSdk runs the SDK preparation step on its own.
func (b *Build) PrepareSdk(ctx context.Context) error {
	sp := &SdkPrepare{Project: b.Project, Runner: b.Runner}
	sp.SetLogger(b.L())

	if err := sp.Prepare(ctx); err != nil {
		return errors.Wrap(err, "preparing sdk")
	}

	return nil
}

// BuildExtensions runs phase 2 over an already-resolved dependency set.
func (b *Build) BuildExtensions(ctx context.Context, deps []data.Dependency) error {
	eb := &ExtBuild{Project: b.Project, Runner: b.Runner, Fetcher: fetch.New(b.L())}
	eb.SetLogger(b.L())

	for _, dep := range deps {
		if err := eb.Build(ctx, dep); err != nil {
			return errors.Wrapf(err, "building extension '%s'", dep.Name)
		}
	}

	return nil
}

// ImageExtensions runs phase 3 over an already-resolved dependency set.
func (b *Build) ImageExtensions(ctx context.Context, deps []data.Dependency) error {
	ei := &ExtImage{Project: b.Project, Runner: b.Runner}
	ei.SetLogger(b.L())

	for _, dep := range deps {
		if err := ei.Image(ctx, dep); err != nil {
			return errors.Wrapf(err, "imaging extension '%s'", dep.Name)
		}
	}

	return nil
}

// BuildRuntimes runs phase 4 for each selected runtime, each against
// its own dependency slice.
func (b *Build) BuildRuntimes(ctx context.Context, selected []string) error {
	rb := &RuntimeBuild{Project: b.Project, Runner: b.Runner, Volumes: b.Volumes, Keys: b.Keys}
	rb.SetLogger(b.L())

	for _, rt := range selected {
		rtDeps, err := b.Project.Composed.Resolve([]string{rt})
		if err != nil {
			return err
		}

		if err := rb.Build(ctx, rt, rtDeps); err != nil {
			return errors.Wrapf(err, "building runtime '%s'", rt)
		}
	}

	return nil
}

// BuildOneExtension is the single-extension fast path: phases 2 and 3
// for just the dependencies matching name.
func (b *Build) BuildOneExtension(ctx context.Context, name string) error {
	deps, err := b.extensionDeps(name)
	if err != nil {
		return err
	}

	if err := b.volumes().Ensure(ctx, b.Project.Volume()); err != nil {
		return err
	}

	if err := b.BuildExtensions(ctx, deps); err != nil {
		return err
	}

	return b.ImageExtensions(ctx, deps)
}

// ImageOneExtension re-images one extension without rebuilding it.
func (b *Build) ImageOneExtension(ctx context.Context, name string) error {
	deps, err := b.extensionDeps(name)
	if err != nil {
		return err
	}

	if err := b.volumes().Ensure(ctx, b.Project.Volume()); err != nil {
		return err
	}

	return b.ImageExtensions(ctx, deps)
}

// BuildOneRuntime is the single-runtime fast path: phase 4 only, for
// one runtime that must apply to the target.
func (b *Build) BuildOneRuntime(ctx context.Context, rtName string) error {
	selected, err := b.Project.Composed.SelectRuntimes([]string{rtName})
	if err != nil {
		return err
	}

	if err := b.volumes().Ensure(ctx, b.Project.Volume()); err != nil {
		return err
	}

	return b.BuildRuntimes(ctx, selected)
}

func (b *Build) extensionDeps(name string) ([]data.Dependency, error) {
	selected, err := b.Project.Composed.SelectRuntimes(nil)
	if err != nil {
		return nil, err
	}

	all, err := b.Project.Composed.Resolve(selected)
	if err != nil {
		return nil, err
	}

	var out []data.Dependency

	for _, dep := range all {
		if dep.Name == name {
			out = append(out, dep)
		}
	}

	if len(out) == 0 {
		return nil, errors.Errorf("extension '%s' is not referenced by any runtime for target %s", name, b.Project.Target)
	}

	return out, nil
}
