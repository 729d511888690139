package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackageArgs(t *testing.T) {
	t.Run("sorted and version-pinned", func(t *testing.T) {
		args := packageArgs(map[string]any{
			"zlib":    "*",
			"busybox": "1.36.0",
			"vim":     "",
		})

		assert.Equal(t, []string{"busybox-1.36.0", "vim", "zlib"}, args)
	})

	t.Run("extension wiring entries are skipped", func(t *testing.T) {
		args := packageArgs(map[string]any{
			"avocado-pkg-app": map[string]any{
				"extensions": map[string]any{"app": map[string]any{}},
			},
			"vim": "*",
		})

		assert.Equal(t, []string{"vim"}, args)
	})

	t.Run("non-string values install by name", func(t *testing.T) {
		args := packageArgs(map[string]any{"weird": 7})
		assert.Equal(t, []string{"weird"}, args)
	})
}

func TestDnfInstall(t *testing.T) {
	line := dnfInstall("/opt/_avocado/qemux86-64/extensions/app", "0.1", []string{"vim", "zlib"})

	assert.Equal(t,
		"dnf -y install --installroot '/opt/_avocado/qemux86-64/extensions/app' --releasever '0.1' 'vim' 'zlib'",
		line)
}

func TestMksquashfsLine(t *testing.T) {
	line := mksquashfsLine("/opt/_avocado/t/extensions/app", "/opt/_avocado/t/output/extensions/app-1.0.0.raw", 42)

	assert.Equal(t,
		"SOURCE_DATE_EPOCH=42 mksquashfs '/opt/_avocado/t/extensions/app' '/opt/_avocado/t/output/extensions/app-1.0.0.raw' -noappend -no-xattrs -reproducible",
		line)
}

func TestShQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shQuote("it's"))
}

func TestVolumeLayout(t *testing.T) {
	assert.Equal(t, "/opt/_avocado/t/extensions/app", extSysroot("t", "app"))
	assert.Equal(t, "/opt/_avocado/t/output/extensions", extOutputDir("t"))
	assert.Equal(t, "/opt/_avocado/t/runtimes/dev", runtimeSysroot("t", "dev"))
	assert.Equal(t, "/opt/_avocado/t/output/runtimes/dev", runtimeOutputDir("t", "dev"))
}
