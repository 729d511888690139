package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-linux/avocado/pkg/data"
)

func compose(t *testing.T, dir, body string) *Composed {
	t.Helper()

	path := writeConfig(t, dir, "avocado.yaml", body)

	cc, err := Compose(path, "", nil)
	require.NoError(t, err)

	return cc
}

func depNames(deps []data.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Name
	}
	return out
}

func TestResolve(t *testing.T) {
	t.Run("local extensions sort by name", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    extensions: [zed, alpha, mid]
`)

		deps, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)

		assert.Equal(t, []string{"alpha", "mid", "zed"}, depNames(deps))

		for _, d := range deps {
			assert.Equal(t, data.DepLocal, d.Kind)
		}
	})

	t.Run("resolution is deterministic", func(t *testing.T) {
		dir := t.TempDir()
		cc := compose(t, dir, `
default_target: qemux86-64
runtimes:
  dev:
    extensions: [b, a]
    packages:
      pkg-c:
        extensions: c
        vsn: 1.0.0
`)

		first, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)

		second, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, []string{"a", "b", "c"}, depNames(first))
	})

	t.Run("extensions table source makes a remote", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    extensions: [fetched, inline]
extensions:
  fetched:
    source:
      git: https://github.com/avocado-linux/extensions.git
      ref: main
  inline:
    types: [sysext]
`)

		deps, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)
		require.Len(t, deps, 2)

		assert.Equal(t, data.DepRemote, deps[0].Kind)
		require.NotNil(t, deps[0].Source)
		assert.Equal(t, data.SourceGit, deps[0].Source.Kind)
		assert.Equal(t, "https://github.com/avocado-linux/extensions.git", deps[0].Source.URL)
		assert.Equal(t, "main", deps[0].Source.Ref)

		assert.Equal(t, data.DepLocal, deps[1].Kind)
	})

	t.Run("versioned package entries", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    packages:
      avocado-ext-sshd:
        extensions: sshd
        vsn: 1.2.3
`)

		deps, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)
		require.Len(t, deps, 1)

		assert.Equal(t, data.DepVersioned, deps[0].Kind)
		assert.Equal(t, "sshd", deps[0].Name)
		assert.Equal(t, "1.2.3", deps[0].Version)
	})

	t.Run("invalid version is fatal", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    packages:
      bad:
        extensions: sshd
        vsn: "2024.*"
`)

		_, err := cc.Resolve([]string{"dev"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid version")
	})

	t.Run("packages must be a mapping", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    packages:
      - not-a-mapping
`)

		_, err := cc.Resolve([]string{"dev"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'=' instead of ':'")
	})

	t.Run("external config recursion", func(t *testing.T) {
		dir := t.TempDir()

		writeConfig(t, dir, "peripheral.yaml", `
extensions:
  peripheral:
    types: [sysext]
    packages:
      inner-pkg:
        extensions: inner
`)

		cc := compose(t, dir, `
default_target: qemux86-64
runtimes:
  dev:
    packages:
      peripheral-pkg:
        extensions: peripheral
        config: peripheral.yaml
`)

		deps, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)
		require.Len(t, deps, 2)

		assert.Equal(t, "inner", deps[0].Name)
		assert.Equal(t, data.DepLocal, deps[0].Kind)

		assert.Equal(t, "peripheral", deps[1].Name)
		assert.Equal(t, data.DepExternal, deps[1].Kind)
		assert.NotEmpty(t, deps[1].ConfigPath)
	})

	t.Run("local dependency cycles are skipped", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    extensions: [a]
extensions:
  a:
    packages:
      pkg-b:
        extensions: b
  b:
    packages:
      pkg-a:
        extensions: a
`)

		deps, err := cc.Resolve([]string{"dev"})
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b"}, depNames(deps))
	})

	t.Run("empty runtime set resolves to nothing", func(t *testing.T) {
		cc := compose(t, t.TempDir(), `
default_target: qemux86-64
runtimes:
  dev:
    extensions: [a]
`)

		deps, err := cc.Resolve(nil)
		require.NoError(t, err)
		assert.Empty(t, deps)
	})
}

func TestSelectRuntimes(t *testing.T) {
	doc := `
default_target: qemux86-64
supported_targets: [qemux86-64, raspberrypi4]
runtimes:
  anywhere: {}
  pinned:
    target: raspberrypi4
`

	t.Run("no request selects matching runtimes", func(t *testing.T) {
		cc := compose(t, t.TempDir(), doc)

		selected, err := cc.SelectRuntimes(nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"anywhere"}, selected)
	})

	t.Run("mismatched explicit runtime is fatal", func(t *testing.T) {
		cc := compose(t, t.TempDir(), doc)

		_, err := cc.SelectRuntimes([]string{"pinned"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("unknown runtime is fatal", func(t *testing.T) {
		cc := compose(t, t.TempDir(), doc)

		_, err := cc.SelectRuntimes([]string{"missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not defined")
	})
}
