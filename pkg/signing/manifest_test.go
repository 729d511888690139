package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-linux/avocado/pkg/data"
)

func TestSignManifest(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry(filepath.Join(t.TempDir(), "keys"), hclog.NewNullLogger())
	_, err := reg.GenerateKey(ctx, "release")
	require.NoError(t, err)

	signer := NewSigner(reg, hclog.NewNullLogger())

	root := t.TempDir()

	write := func(rel, content string) data.ManifestFile {
		local := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(local), 0755))
		require.NoError(t, os.WriteFile(local, []byte(content), 0644))

		sum := sha256.Sum256([]byte(content))

		return data.ManifestFile{
			ContainerPath: "/opt/_avocado/t/output/runtimes/dev/" + rel,
			Hash:          hex.EncodeToString(sum[:]),
			Size:          int64(len(content)),
		}
	}

	resolve := func(containerPath string) string {
		return filepath.Join(root, strings.TrimPrefix(containerPath, "/opt/_avocado/t/output/runtimes/dev/"))
	}

	mf := &data.HashManifest{
		Runtime:           "dev",
		ChecksumAlgorithm: "sha256",
		Files: []data.ManifestFile{
			write("dev.raw", "runtime image bytes"),
			write("boot/kernel", "kernel bytes"),
		},
	}

	t.Run("signs every listed file", func(t *testing.T) {
		sigs, err := signer.SignManifest(ctx, "release", mf, resolve)
		require.NoError(t, err)
		require.Len(t, sigs, 2)

		for _, f := range mf.Files {
			local := resolve(f.ContainerPath)

			require.FileExists(t, SigPath(local))
			require.NoError(t, signer.VerifyFile(local, SigPath(local), "release"))
		}
	})

	t.Run("recorded hash must match the file", func(t *testing.T) {
		bad := &data.HashManifest{
			Runtime:           "dev",
			ChecksumAlgorithm: "sha256",
			Files: []data.ManifestFile{{
				ContainerPath: mf.Files[0].ContainerPath,
				Hash:          strings.Repeat("00", 32),
			}},
		}

		_, err := signer.SignManifest(ctx, "release", bad, resolve)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("round-trips through ReadManifest", func(t *testing.T) {
		raw, err := json.Marshal(mf)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "manifest.json")
		require.NoError(t, os.WriteFile(path, raw, 0644))

		got, err := ReadManifest(path)
		require.NoError(t, err)
		assert.Equal(t, mf, got)
	})

	t.Run("rejects unknown algorithms", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "manifest.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"runtime":"dev","checksum_algorithm":"md5","files":[]}`), 0644))

		_, err := ReadManifest(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported checksum algorithm")
	})
}
