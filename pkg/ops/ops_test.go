package ops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/signing"
	"github.com/avocado-linux/avocado/pkg/update"
)

const testConfig = `default_target: qemux86-64

supported_targets:
  - qemux86-64

distro:
  version: "1.2.3"
  channel: dev

sdk:
  image: docker.io/avocado/sdk:1.0
  repo_release: "0.1"

runtimes:
  dev:
    packages:
      avocado-img-bootfiles: "*"
    extensions:
      - app

extensions:
  app:
    version: "2.0.0"
    packages:
      vim: "*"
`

type fakeRunner struct {
	runs []container.RunConfig
}

func (f *fakeRunner) Run(_ context.Context, rc container.RunConfig) error {
	f.runs = append(f.runs, rc)
	return nil
}

type fakeVolumes struct {
	ensured  []string
	removed  []string
	inserted map[string]string
}

func newFakeVolumes() *fakeVolumes {
	return &fakeVolumes{inserted: map[string]string{}}
}

func (f *fakeVolumes) Ensure(_ context.Context, volName string) error {
	f.ensured = append(f.ensured, volName)
	return nil
}

func (f *fakeVolumes) Remove(_ context.Context, volName string) error {
	f.removed = append(f.removed, volName)
	return nil
}

func (f *fakeVolumes) Extract(_ context.Context, _, containerPath, hostPath string) error {
	return os.WriteFile(hostPath, []byte(f.inserted[containerPath]), 0644)
}

func (f *fakeVolumes) Insert(_ context.Context, _, hostPath, containerPath string) error {
	raw, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}

	f.inserted[containerPath] = string(raw)
	return nil
}

func testProject(t *testing.T, configText string) *Project {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "avocado.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configText), 0644))

	p, err := LoadProject(ProjectOptions{ConfigPath: path, Target: "qemux86-64"}, hclog.NewNullLogger())
	require.NoError(t, err)

	return p
}

func testKeys(t *testing.T) *signing.Registry {
	t.Helper()
	return signing.NewRegistry(filepath.Join(t.TempDir(), "keys"), hclog.NewNullLogger())
}

func TestExtBuild(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	eb := &ExtBuild{Project: p, Runner: runner}

	ctx := context.Background()
	dep := data.Dependency{Name: "app", Kind: data.DepLocal}

	require.NoError(t, eb.Build(ctx, dep))
	require.Len(t, runner.runs, 1)

	script := runner.runs[0].Script
	assert.Contains(t, script, "set -eu")
	assert.Contains(t, script, "mkdir -p '/opt/_avocado/qemux86-64/extensions/app'")
	assert.Contains(t, script, "--installroot '/opt/_avocado/qemux86-64/extensions/app'")
	assert.Contains(t, script, "--releasever '0.1'")
	assert.Contains(t, script, "'vim'")

	assert.Equal(t, "docker.io/avocado/sdk:1.0", runner.runs[0].Image)
	assert.Equal(t, "qemux86-64", runner.runs[0].Target)

	// the stamp makes the rebuild a no-op
	require.NoError(t, eb.Build(ctx, dep))
	assert.Len(t, runner.runs, 1)
}

func TestExtBuildVersioned(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	eb := &ExtBuild{Project: p, Runner: runner}

	dep := data.Dependency{Name: "pinned", Kind: data.DepVersioned, Version: "1.36.0"}

	require.NoError(t, eb.Build(context.Background(), dep))
	require.Len(t, runner.runs, 1)
	assert.Contains(t, runner.runs[0].Script, "'pinned-1.36.0'")
}

func TestExtBuildExternal(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "peripheral.yaml"), []byte(`extensions:
  sensor:
    version: "3.1.0"
    packages:
      libgpiod: "*"
`), 0644))

	path := filepath.Join(dir, "avocado.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`default_target: qemux86-64

supported_targets:
  - qemux86-64

distro:
  version: "1.2.3"

sdk:
  image: docker.io/avocado/sdk:1.0
  repo_release: "0.1"

runtimes:
  dev:
    packages:
      sensor-pkg:
        extensions: sensor
        config: peripheral.yaml
`), 0644))

	p, err := LoadProject(ProjectOptions{ConfigPath: path, Target: "qemux86-64"}, hclog.NewNullLogger())
	require.NoError(t, err)

	deps, err := p.Composed.Resolve([]string{"dev"})
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, data.DepExternal, deps[0].Kind)

	runner := &fakeRunner{}
	eb := &ExtBuild{Project: p, Runner: runner}

	require.NoError(t, eb.Build(context.Background(), deps[0]))
	require.Len(t, runner.runs, 1)

	// the external's build pass installs and images in one script
	script := runner.runs[0].Script
	assert.Contains(t, script, "'libgpiod'")
	assert.Contains(t, script, "'/opt/_avocado/qemux86-64/output/extensions/sensor-3.1.0.raw'")
	assert.Contains(t, script, "mksquashfs")

	verify := (&ExtImage{Project: p, Runner: runner}).Script(deps[0])
	assert.Contains(t, verify, "test -f '/opt/_avocado/qemux86-64/output/extensions/sensor-3.1.0.raw'")
	assert.NotContains(t, verify, "mksquashfs")
}

func TestExtImage(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	ei := &ExtImage{Project: p, Runner: runner}

	t.Run("local uses the declared extension version", func(t *testing.T) {
		script := ei.Script(data.Dependency{Name: "app", Kind: data.DepLocal})

		assert.Contains(t, script, "mkdir -p '/opt/_avocado/qemux86-64/output/extensions'")
		assert.Contains(t, script, "'/opt/_avocado/qemux86-64/output/extensions/app-2.0.0.raw'")
		assert.Contains(t, script, "-noappend -no-xattrs -reproducible")
		assert.Contains(t, script, "SOURCE_DATE_EPOCH=0 ")
	})

	t.Run("versioned queries the package database", func(t *testing.T) {
		script := ei.Script(data.Dependency{Name: "pinned", Kind: data.DepVersioned, Version: "1.36.0"})

		assert.Contains(t, script, "rpm --root '/opt/_avocado/qemux86-64/extensions/pinned' -q --qf '%{VERSION}' 'pinned'")
		assert.Contains(t, script, `'/opt/_avocado/qemux86-64/output/extensions/pinned-'"${ver}"'.raw'`)
	})

	t.Run("versioned image name expands the queried version", func(t *testing.T) {
		shPath, err := exec.LookPath("sh")
		if err != nil {
			t.Skip("sh not available")
		}

		script := ei.Script(data.Dependency{Name: "pinned", Kind: data.DepVersioned, Version: "1.36.0"})

		// run just the mksquashfs line with a stub binary recording
		// its output-path argument
		lines := strings.Split(strings.TrimSpace(script), "\n")
		squash := lines[len(lines)-1]

		bin := t.TempDir()
		argv := filepath.Join(bin, "argv")

		stub := "#!/bin/sh\nprintf '%s\\n' \"$2\" > \"$MKSQUASHFS_ARGV\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(bin, "mksquashfs"), []byte(stub), 0755))

		cmd := exec.Command(shPath, "-c", "ver=9.9.9\n"+squash)
		cmd.Env = append(os.Environ(),
			"PATH="+bin+string(os.PathListSeparator)+os.Getenv("PATH"),
			"MKSQUASHFS_ARGV="+argv,
		)
		require.NoError(t, cmd.Run())

		got, err := os.ReadFile(argv)
		require.NoError(t, err)
		assert.Equal(t,
			"/opt/_avocado/qemux86-64/output/extensions/pinned-9.9.9.raw",
			strings.TrimSpace(string(got)))
	})

	t.Run("external verifies the prebuilt artifact", func(t *testing.T) {
		script := ei.Script(data.Dependency{Name: "sensor", Kind: data.DepExternal, ConfigPath: "/nonexistent/peripheral.yaml"})

		assert.Contains(t, script, "test -f '/opt/_avocado/qemux86-64/output/extensions/sensor-1.2.3.raw'")
		assert.NotContains(t, script, "mksquashfs")
	})

	t.Run("imaging runs once per stamp", func(t *testing.T) {
		ctx := context.Background()
		dep := data.Dependency{Name: "app", Kind: data.DepLocal}

		require.NoError(t, ei.Image(ctx, dep))
		require.NoError(t, ei.Image(ctx, dep))
		assert.Len(t, runner.runs, 1)
	})
}

func TestRuntimeBuild(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	vols := newFakeVolumes()
	rb := &RuntimeBuild{Project: p, Runner: runner, Volumes: vols, Keys: testKeys(t)}

	ctx := context.Background()
	deps := []data.Dependency{{Name: "app", Kind: data.DepLocal}}

	require.NoError(t, rb.Build(ctx, "dev", deps))

	require.Equal(t, []string{p.Volume()}, vols.ensured)
	require.Len(t, runner.runs, 2)

	provision := runner.runs[0].Script
	assert.Contains(t, provision, "mkdir -p '/opt/_avocado/qemux86-64/runtimes/dev'")
	assert.Contains(t, provision, "'avocado-img-bootfiles'")
	assert.Contains(t, provision, "cp /opt/_avocado/qemux86-64/output/extensions/app-*.raw")

	doc, ok := vols.inserted["/opt/_avocado/qemux86-64/runtimes/dev/var/lib/avocado/root.json"]
	require.True(t, ok, "root.json was not embedded")
	require.NoError(t, update.VerifyRoot([]byte(doc)))

	// the default update key was provisioned in the project
	_, err := os.Stat(filepath.Join(p.Dir, ".avocado", "signing", "default.key"))
	require.NoError(t, err)

	image := runner.runs[1].Script
	assert.Contains(t, image, "'/opt/_avocado/qemux86-64/output/runtimes/dev/dev.raw'")
	assert.Contains(t, image, "-reproducible")

	require.NoError(t, rb.Build(ctx, "dev", deps))
	assert.Len(t, runner.runs, 2)
}

func TestRuntimeBuildSigned(t *testing.T) {
	signedConfig := strings.Replace(testConfig, "    extensions:\n      - app\n", `    extensions:
      - app
    signing:
      key: default
      artifacts:
        - dev.raw
`, 1)

	p := testProject(t, signedConfig)
	runner := &fakeRunner{}
	vols := newFakeVolumes()
	rb := &RuntimeBuild{Project: p, Runner: runner, Volumes: vols, Keys: testKeys(t)}

	deps := []data.Dependency{{Name: "app", Kind: data.DepLocal}}
	require.NoError(t, rb.Build(context.Background(), "dev", deps))
	require.Len(t, runner.runs, 2)

	helper, ok := vols.inserted["/opt/_avocado/avocado-sign"]
	require.True(t, ok, "helper script was not staged")
	assert.Contains(t, helper, signing.ContainerSocketPath)

	image := runner.runs[1]

	require.Len(t, image.Mounts, 1)
	assert.True(t, strings.HasSuffix(image.Mounts[0], ":"+signing.ContainerSocketPath))

	assert.Contains(t, image.Script, "chmod +x '/opt/_avocado/avocado-sign'")
	assert.Contains(t, image.Script,
		"'/opt/_avocado/avocado-sign' '/opt/_avocado/qemux86-64/output/runtimes/dev/dev.raw' sha256")
}

func TestBuildPhases(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	vols := newFakeVolumes()

	b := &Build{Project: p, Runner: runner, Volumes: vols, Keys: testKeys(t)}

	require.NoError(t, b.Run(context.Background()))

	require.Equal(t, []string{p.Volume()}, vols.ensured[:1])
	require.Len(t, runner.runs, 4)

	assert.Contains(t, runner.runs[0].Script, "mkdir -p '/opt/_avocado/qemux86-64/extensions/app'")
	assert.Contains(t, runner.runs[1].Script, "app-2.0.0.raw")
	assert.Contains(t, runner.runs[2].Script, "mkdir -p '/opt/_avocado/qemux86-64/runtimes/dev'")
	assert.Contains(t, runner.runs[3].Script, "dev.raw")
}

// sdkTestConfig adds sdk.dependencies and an sdk.compile section to
// the shared fixture.
func sdkTestConfig() string {
	return strings.Replace(testConfig, `  repo_release: "0.1"
`, `  repo_release: "0.1"
  dependencies:
    nativesdk-cmake: "*"
  compile:
    app-lib:
      compile: build-sdk.sh
      dependencies:
        cross-gcc: "*"
`, 1)
}

func TestSdkPrepare(t *testing.T) {
	p := testProject(t, sdkTestConfig())
	runner := &fakeRunner{}
	sp := &SdkPrepare{Project: p, Runner: runner}

	ctx := context.Background()

	require.NoError(t, sp.Prepare(ctx))
	require.Len(t, runner.runs, 1)

	script := runner.runs[0].Script
	assert.Contains(t, script, "mkdir -p '/opt/_avocado/qemux86-64/sdk'")
	assert.Contains(t, script, "--installroot '/opt/_avocado/qemux86-64/sdk' --releasever '0.1' 'nativesdk-cmake'")
	assert.Contains(t, script, "--installroot '/opt/_avocado/qemux86-64/sdk/target-sysroot' --releasever '0.1' 'cross-gcc'")
	assert.Contains(t, script, "[ -f '/opt/_avocado/src/build-sdk.sh' ]")
	assert.Contains(t, script, "bash '/opt/_avocado/src/build-sdk.sh'")

	// the stamp makes the rerun a no-op
	require.NoError(t, sp.Prepare(ctx))
	assert.Len(t, runner.runs, 1)
}

func TestSdkPrepareNothingConfigured(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}
	sp := &SdkPrepare{Project: p, Runner: runner}

	require.NoError(t, sp.Prepare(context.Background()))
	assert.Empty(t, runner.runs)
}

func TestBuildRunsSdkPrepare(t *testing.T) {
	p := testProject(t, sdkTestConfig())
	runner := &fakeRunner{}
	vols := newFakeVolumes()

	b := &Build{Project: p, Runner: runner, Volumes: vols, Keys: testKeys(t)}

	require.NoError(t, b.Run(context.Background()))
	require.Len(t, runner.runs, 5)

	// the SDK is prepared before any extension build
	assert.Contains(t, runner.runs[0].Script, "'/opt/_avocado/qemux86-64/sdk'")
	assert.Contains(t, runner.runs[1].Script, "mkdir -p '/opt/_avocado/qemux86-64/extensions/app'")
}

func TestBuildOneExtension(t *testing.T) {
	p := testProject(t, testConfig)
	runner := &fakeRunner{}

	b := &Build{Project: p, Runner: runner, Volumes: newFakeVolumes()}

	require.NoError(t, b.BuildOneExtension(context.Background(), "app"))
	require.Len(t, runner.runs, 2)

	err := b.BuildOneExtension(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not referenced by any runtime")
}

func TestInitProject(t *testing.T) {
	dir := t.TempDir()

	op := &InitProject{Dir: dir, Target: "imx93-evk"}
	require.NoError(t, op.Run(context.Background()))

	raw, err := os.ReadFile(filepath.Join(dir, "avocado.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "default_target: imx93-evk")

	err = op.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigDump(t *testing.T) {
	p := testProject(t, testConfig)

	var out strings.Builder

	dump := &ConfigDump{Project: p, Output: &out}
	require.NoError(t, dump.Dump(context.Background()))

	assert.Contains(t, out.String(), "# target: qemux86-64")
	assert.Contains(t, out.String(), "default_target: qemux86-64")

	var deep strings.Builder

	dump = &ConfigDump{Project: p, Output: &deep, Deep: true}
	require.NoError(t, dump.Dump(context.Background()))
	assert.Contains(t, deep.String(), "map[string]interface {}")
}

func TestClean(t *testing.T) {
	p := testProject(t, testConfig)
	vols := newFakeVolumes()

	remotes := filepath.Join(p.Dir, ".avocado", "remotes", "thing")
	require.NoError(t, os.MkdirAll(remotes, 0755))

	c := &Clean{Project: p, Volumes: vols}
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{p.Volume()}, vols.removed)

	_, err := os.Stat(remotes)
	assert.True(t, os.IsNotExist(err))
}
