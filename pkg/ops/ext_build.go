package ops

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/avocado-linux/avocado/pkg/config"
	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/fetch"
)

// ExtBuild installs one extension's packages into its isolated sysroot
// inside the SDK container.
type ExtBuild struct {
	common

	Project *Project
	Runner  containerRunner
	Fetcher *fetch.Fetcher
}

func (e *ExtBuild) runner() containerRunner {
	if e.Runner != nil {
		return e.Runner
	}

	return e.Project.runner()
}

// Build dispatches on the dependency kind. Versioned extensions come
// prebuilt from the package repo at their pinned version.
func (e *ExtBuild) Build(ctx context.Context, dep data.Dependency) error {
	switch dep.Kind {
	case data.DepVersioned:
		return e.installVersioned(ctx, dep)
	case data.DepExternal:
		return e.buildExternal(ctx, dep)
	case data.DepRemote:
		return e.buildRemote(ctx, dep)
	default:
		spec, _ := e.Project.Composed.Root.Extension(dep.Name)
		return e.buildSpec(ctx, dep.Name, spec)
	}
}

// buildExternal builds and images the extension in one pass, so the
// imaging phase only has to verify the artifact landed.
func (e *ExtBuild) buildExternal(ctx context.Context, dep data.Dependency) error {
	extCfg, ok := e.Project.Composed.Config(dep.ConfigPath)
	if !ok {
		return errors.Errorf("external config %s was not composed", dep.ConfigPath)
	}

	spec, ok := extCfg.Extension(dep.Name)
	if !ok {
		return errors.Errorf("extension '%s' is not defined in %s", dep.Name, dep.ConfigPath)
	}

	ui := GetUI(ctx)

	target := e.Project.Target
	sysroot := extSysroot(target, dep.Name)
	outDir := extOutputDir(target)
	out := outDir + "/" + dep.Name + "-" + e.Project.extImageVersion(dep) + ".raw"

	lines := []string{"mkdir -p " + shQuote(sysroot)}

	if packages, ok := spec["packages"].(map[string]any); ok {
		if args := packageArgs(packages); len(args) > 0 {
			lines = append(lines, dnfInstall(sysroot, e.Project.Composed.Root.SDKRepoRelease(), args))
		}
	}

	lines = append(lines,
		"mkdir -p "+shQuote(outDir),
		mksquashfsLine(sysroot, out, e.Project.SourceDateEpoch()),
	)

	script := scriptHeader() + strings.Join(lines, "\n") + "\n"

	hash := e.Project.stampHash("ext-build", dep.Name, script)

	if e.Project.Stamps.Done("ext-build-"+dep.Name, hash) {
		ui.Skip("extension %s is up to date", dep.Name)
		return nil
	}

	if err := e.runScript(ctx, ui, dep.Name, script); err != nil {
		return err
	}

	return e.Project.Stamps.Mark("ext-build-"+dep.Name, hash)
}

func (e *ExtBuild) buildRemote(ctx context.Context, dep data.Dependency) error {
	if dep.Source != nil && dep.Source.Kind == data.SourceRepo {
		// installed straight from the extension repo inside the container
		return e.installFromRepo(ctx, dep)
	}

	fetcher := e.Fetcher
	if fetcher == nil {
		fetcher = fetch.New(e.L())
	}

	dest := e.Project.RemoteDest(dep.Name)

	if err := fetcher.Materialize(ctx, dep, dest); err != nil {
		return err
	}

	fetched, err := config.LoadWith(filepath.Join(dest, "avocado.yaml"), e.Project.Composed.Context, e.L())
	if err != nil {
		return errors.Wrapf(err, "remote extension '%s' has no loadable config", dep.Name)
	}

	spec, ok := fetched.Extension(dep.Name)
	if !ok {
		return errors.Errorf("extension '%s' is not defined in its fetched config", dep.Name)
	}

	return e.buildSpec(ctx, dep.Name, spec)
}

// installVersioned pulls the pinned extension package from the SDK repo
// into its sysroot.
func (e *ExtBuild) installVersioned(ctx context.Context, dep data.Dependency) error {
	ui := GetUI(ctx)

	target := e.Project.Target
	sysroot := extSysroot(target, dep.Name)

	script := scriptHeader() +
		"mkdir -p " + shQuote(sysroot) + "\n" +
		dnfInstall(sysroot, e.Project.Composed.Root.SDKRepoRelease(), []string{dep.Name + "-" + dep.Version}) + "\n"

	hash := e.Project.stampHash("ext-build", dep.Name, script)

	if e.Project.Stamps.Done("ext-build-"+dep.Name, hash) {
		ui.Skip("extension %s@%s is up to date", dep.Name, dep.Version)
		return nil
	}

	if err := e.runScript(ctx, ui, dep.Name, script); err != nil {
		return err
	}

	return e.Project.Stamps.Mark("ext-build-"+dep.Name, hash)
}

func (e *ExtBuild) installFromRepo(ctx context.Context, dep data.Dependency) error {
	ui := GetUI(ctx)

	target := e.Project.Target
	sysroot := extSysroot(target, dep.Name)

	script := scriptHeader() +
		"mkdir -p " + shQuote(sysroot) + "\n" +
		dnfInstall(sysroot, e.Project.Composed.Root.SDKRepoRelease(), []string{dep.Name}) + "\n"

	return e.runScript(ctx, ui, dep.Name, script)
}

func (e *ExtBuild) buildSpec(ctx context.Context, extName string, spec map[string]any) error {
	ui := GetUI(ctx)

	target := e.Project.Target
	sysroot := extSysroot(target, extName)

	var lines []string

	lines = append(lines, "mkdir -p "+shQuote(sysroot))

	if packages, ok := spec["packages"].(map[string]any); ok {
		if args := packageArgs(packages); len(args) > 0 {
			lines = append(lines, dnfInstall(sysroot, e.Project.Composed.Root.SDKRepoRelease(), args))
		}
	}

	script := scriptHeader() + strings.Join(lines, "\n") + "\n"

	serialized, err := yaml.Marshal(spec)
	if err != nil {
		return track(err)
	}

	hash := e.Project.stampHash("ext-build", extName, string(serialized))

	if e.Project.Stamps.Done("ext-build-"+extName, hash) {
		ui.Skip("extension %s is up to date", extName)
		return nil
	}

	if err := e.runScript(ctx, ui, extName, script); err != nil {
		return err
	}

	return e.Project.Stamps.Mark("ext-build-"+extName, hash)
}

func (e *ExtBuild) runScript(ctx context.Context, ui *UI, extName, script string) error {
	ui.Busy("building extension %s", extName)

	rc, err := e.Project.runConfig(script)
	if err != nil {
		return err
	}

	if err := e.runner().Run(ctx, rc); err != nil {
		ui.Fail("extension %s", extName)
		return err
	}

	ui.Done("extension %s", extName)

	return nil
}
