package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/signing"
	"github.com/avocado-linux/avocado/pkg/update"
)

// volumeManager is the slice of container.Volumes the runtime build
// needs. Tests substitute a fake.
type volumeManager interface {
	Ensure(ctx context.Context, volName string) error
	Remove(ctx context.Context, volName string) error
	Extract(ctx context.Context, volName, containerPath, hostPath string) error
	Insert(ctx context.Context, volName, hostPath, containerPath string) error
}

// RuntimeBuild provisions one runtime: installs its packages into the
// runtime sysroot, lays the extension images in, embeds the update
// authority's root.json, and images the result. When the runtime asks
// for artifact signing, a host-side signing service is run for the
// duration of the imaging step.
type RuntimeBuild struct {
	common

	Project *Project
	Runner  containerRunner
	Volumes volumeManager
	Keys    *signing.Registry
}

func (r *RuntimeBuild) runner() containerRunner {
	if r.Runner != nil {
		return r.Runner
	}

	return r.Project.runner()
}

func (r *RuntimeBuild) volumes() volumeManager {
	if r.Volumes != nil {
		return r.Volumes
	}

	return container.NewVolumes(r.Project.ContainerRuntime)
}

func (r *RuntimeBuild) registry() (*signing.Registry, error) {
	if r.Keys != nil {
		return r.Keys, nil
	}

	return signing.OpenDefault(r.L())
}

// rootJSONPath is where the update authority document lands inside the
// runtime sysroot.
func rootJSONPath(target, rtName string) string {
	return runtimeSysroot(target, rtName) + "/var/lib/avocado/root.json"
}

// helperPath is where the in-container signing client is staged in the
// shared volume.
const helperPath = container.MountPoint + "/avocado-sign"

// Build runs the full per-runtime pipeline for the resolved dependency
// set deps.
func (r *RuntimeBuild) Build(ctx context.Context, rtName string, deps []data.Dependency) error {
	ui := GetUI(ctx)

	spec, ok := r.Project.Composed.Root.Runtime(rtName)
	if !ok {
		return errors.Errorf("runtime '%s' is not defined in %s", rtName, r.Project.ConfigPath)
	}

	serialized, err := yaml.Marshal(spec)
	if err != nil {
		return track(err)
	}

	depKeys := make([]string, 0, len(deps))
	for _, d := range deps {
		depKeys = append(depKeys, d.Key())
	}

	hash := r.Project.stampHash("runtime-build", rtName, string(serialized), strings.Join(depKeys, "\n"))

	if r.Project.Stamps.Done("runtime-build-"+rtName, hash) {
		ui.Skip("runtime %s is up to date", rtName)
		return nil
	}

	if err := r.volumes().Ensure(ctx, r.Project.Volume()); err != nil {
		return err
	}

	ui.Busy("provisioning runtime %s", rtName)

	if err := r.provision(ctx, rtName, spec, deps); err != nil {
		ui.Fail("runtime %s provisioning", rtName)
		return err
	}

	ui.Done("runtime %s provisioned", rtName)

	if err := r.embedRoot(ctx, rtName, spec); err != nil {
		return err
	}

	ui.Busy("imaging runtime %s", rtName)

	if err := r.image(ctx, rtName, spec); err != nil {
		ui.Fail("runtime %s image", rtName)
		return err
	}

	ui.Done("runtime %s imaged", rtName)

	return r.Project.Stamps.Mark("runtime-build-"+rtName, hash)
}

// provision installs the runtime's packages and copies the extension
// images into the sysroot inside one SDK container run.
func (r *RuntimeBuild) provision(ctx context.Context, rtName string, spec map[string]any, deps []data.Dependency) error {
	rc, err := r.Project.runConfig(r.provisionScript(rtName, spec, deps))
	if err != nil {
		return err
	}

	return r.runner().Run(ctx, rc)
}

func (r *RuntimeBuild) provisionScript(rtName string, spec map[string]any, deps []data.Dependency) string {
	target := r.Project.Target
	sysroot := runtimeSysroot(target, rtName)
	extDir := sysroot + "/var/lib/avocado/extensions"

	var lines []string

	lines = append(lines,
		"mkdir -p "+shQuote(sysroot),
		"mkdir -p "+shQuote(extDir),
		"mkdir -p "+shQuote(runtimeOutputDir(target, rtName)),
	)

	if packages, ok := spec["packages"].(map[string]any); ok {
		if args := packageArgs(packages); len(args) > 0 {
			lines = append(lines, dnfInstall(sysroot, r.Project.Composed.Root.SDKRepoRelease(), args))
		}
	}

	for _, dep := range deps {
		// each extension build left a <name>-<version>.raw behind
		lines = append(lines, "cp "+extOutputDir(target)+"/"+dep.Name+"-*.raw "+shQuote(extDir)+"/")
	}

	return scriptHeader() + strings.Join(lines, "\n") + "\n"
}

// embedRoot generates the TUF root document on the host and inserts it
// into the runtime sysroot through the volume.
func (r *RuntimeBuild) embedRoot(ctx context.Context, rtName string, spec map[string]any) error {
	ui := GetUI(ctx)

	reg, err := r.registry()
	if err != nil {
		return err
	}

	priv, err := update.RootKey(ctx, r.Project.Dir, runtimeSigningKey(spec), reg)
	if err != nil {
		return err
	}

	doc, err := update.GenerateRoot(priv, time.Now())
	if err != nil {
		return err
	}

	work, err := os.MkdirTemp("", "avocado-root-*")
	if err != nil {
		return track(err)
	}
	defer os.RemoveAll(work)

	hostPath := filepath.Join(work, "root.json")

	if err := os.WriteFile(hostPath, doc, 0644); err != nil {
		return track(err)
	}

	dest := rootJSONPath(r.Project.Target, rtName)

	if err := r.volumes().Insert(ctx, r.Project.Volume(), hostPath, dest); err != nil {
		return errors.Wrapf(err, "embedding root.json into runtime '%s'", rtName)
	}

	ui.Done("update authority root.json embedded")

	return nil
}

// image squashes the sysroot into the runtime artifact, running the
// signing service alongside when the runtime requests artifact signing.
func (r *RuntimeBuild) image(ctx context.Context, rtName string, spec map[string]any) error {
	target := r.Project.Target
	sysroot := runtimeSysroot(target, rtName)
	out := runtimeOutputDir(target, rtName) + "/" + rtName + ".raw"

	lines := []string{mksquashfsLine(sysroot, out, r.Project.SourceDateEpoch())}

	var mounts []string

	artifacts := runtimeSignedArtifacts(spec)

	if len(artifacts) > 0 {
		svc, socketDir, err := r.startSigningService(ctx, rtName, spec)
		if err != nil {
			return err
		}
		defer os.RemoveAll(socketDir)
		defer svc.Close()

		if err := r.installHelper(ctx); err != nil {
			return err
		}

		mounts = append(mounts, svc.SocketPath+":"+signing.ContainerSocketPath)

		lines = append(lines, "chmod +x "+shQuote(helperPath))

		for _, a := range artifacts {
			p := a
			if !strings.HasPrefix(p, "/") {
				p = runtimeOutputDir(target, rtName) + "/" + p
			}

			lines = append(lines, shQuote(helperPath)+" "+shQuote(p)+" "+runtimeSigningAlgorithm(spec))
		}
	}

	rc, err := r.Project.runConfig(scriptHeader() + strings.Join(lines, "\n") + "\n")
	if err != nil {
		return err
	}

	rc.Mounts = append(rc.Mounts, mounts...)

	return r.runner().Run(ctx, rc)
}

func (r *RuntimeBuild) startSigningService(ctx context.Context, rtName string, spec map[string]any) (*signing.Service, string, error) {
	reg, err := r.registry()
	if err != nil {
		return nil, "", err
	}

	keyName := runtimeSigningKey(spec)
	if keyName == "" {
		keyName = data.DefaultKeyName
	}

	// the default key may not exist yet on a fresh project
	if keyName == data.DefaultKeyName {
		if _, err := update.EnsureDefaultKey(ctx, r.Project.Dir, reg); err != nil {
			return nil, "", err
		}
	}

	socketDir, err := os.MkdirTemp("", "avocado-ipc-*")
	if err != nil {
		return nil, "", track(err)
	}

	handler := signing.NewHandler(
		r.Project.Target, rtName, r.Project.Volume(), keyName,
		signing.NewSigner(reg, r.L()), r.volumes(), r.L(),
	)

	svc := signing.NewService(filepath.Join(socketDir, "sign.sock"), handler, r.L())

	if err := svc.Start(ctx); err != nil {
		os.RemoveAll(socketDir)
		return nil, "", err
	}

	return svc, socketDir, nil
}

// installHelper stages the signing client script in the shared volume
// so the imaging script can invoke it.
func (r *RuntimeBuild) installHelper(ctx context.Context) error {
	work, err := os.MkdirTemp("", "avocado-helper-*")
	if err != nil {
		return track(err)
	}
	defer os.RemoveAll(work)

	hostPath := filepath.Join(work, "avocado-sign")

	err = os.WriteFile(hostPath, []byte(signing.HelperScript(signing.ContainerSocketPath)), 0755)
	if err != nil {
		return track(err)
	}

	return r.volumes().Insert(ctx, r.Project.Volume(), hostPath, helperPath)
}

// runtimeSigningKey returns the key name the runtime's signing section
// names, or "" when unset.
func runtimeSigningKey(spec map[string]any) string {
	sm, _ := spec["signing"].(map[string]any)
	s, _ := sm["key"].(string)
	return s
}

// runtimeSignedArtifacts lists the artifact paths the runtime wants
// signed, relative paths resolving under its output directory.
func runtimeSignedArtifacts(spec map[string]any) []string {
	sm, _ := spec["signing"].(map[string]any)

	v, ok := sm["artifacts"]
	if !ok {
		return nil
	}

	seq, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string

	for _, e := range seq {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}

	return out
}

func runtimeSigningAlgorithm(spec map[string]any) string {
	sm, _ := spec["signing"].(map[string]any)

	if s, _ := sm["checksum_algorithm"].(string); s != "" {
		return s
	}

	return string(signing.AlgoSHA256)
}
