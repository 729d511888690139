package signing

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner(t *testing.T) {
	ctx := context.Background()

	writeFile := func(t *testing.T, content string) string {
		t.Helper()

		path := filepath.Join(t.TempDir(), "artifact.raw")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		return path
	}

	t.Run("sign and verify with sha256", func(t *testing.T) {
		reg := NewRegistry(t.TempDir(), nil)

		_, err := reg.GenerateKey(ctx, "release")
		require.NoError(t, err)

		path := writeFile(t, "hello world")

		signer := NewSigner(reg, nil)

		sf, err := signer.SignFile(ctx, "release", path, AlgoSHA256)
		require.NoError(t, err)

		assert.Equal(t, "1", sf.Version)
		assert.Equal(t, "sha256", sf.ChecksumAlgorithm)
		assert.Equal(t, "release", sf.KeyName)

		digest, _, err := HashFile(AlgoSHA256, path)
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(digest), sf.Checksum)

		sigPath := SigPath(path)
		require.NoError(t, WriteSignatureFile(sigPath, sf))

		require.NoError(t, signer.VerifyFile(path, sigPath, "release"))

		// keyid embedded in the signature resolves the key too
		require.NoError(t, signer.VerifyFile(path, sigPath, ""))
	})

	t.Run("verification fails for a different key", func(t *testing.T) {
		reg := NewRegistry(t.TempDir(), nil)

		_, err := reg.GenerateKey(ctx, "one")
		require.NoError(t, err)
		_, err = reg.GenerateKey(ctx, "two")
		require.NoError(t, err)

		path := writeFile(t, "hello world")

		signer := NewSigner(reg, nil)

		sf, err := signer.SignFile(ctx, "one", path, AlgoSHA256)
		require.NoError(t, err)

		sigPath := SigPath(path)
		require.NoError(t, WriteSignatureFile(sigPath, sf))

		err = signer.VerifyFile(path, sigPath, "two")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verification failed")
	})

	t.Run("verification fails for modified content", func(t *testing.T) {
		reg := NewRegistry(t.TempDir(), nil)

		_, err := reg.GenerateKey(ctx, "release")
		require.NoError(t, err)

		path := writeFile(t, "hello world")

		signer := NewSigner(reg, nil)

		sf, err := signer.SignFile(ctx, "release", path, AlgoSHA256)
		require.NoError(t, err)

		sigPath := SigPath(path)
		require.NoError(t, WriteSignatureFile(sigPath, sf))

		require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))

		err = signer.VerifyFile(path, sigPath, "release")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})

	t.Run("blake3 digests", func(t *testing.T) {
		reg := NewRegistry(t.TempDir(), nil)

		_, err := reg.GenerateKey(ctx, "release")
		require.NoError(t, err)

		path := writeFile(t, "hello world")

		signer := NewSigner(reg, nil)

		sf, err := signer.SignFile(ctx, "release", path, AlgoBLAKE3)
		require.NoError(t, err)

		assert.Equal(t, "blake3", sf.ChecksumAlgorithm)
		assert.Len(t, sf.Checksum, 64)

		sigPath := SigPath(path)
		require.NoError(t, WriteSignatureFile(sigPath, sf))
		require.NoError(t, signer.VerifyFile(path, sigPath, "release"))
	})

	t.Run("unknown algorithm is rejected", func(t *testing.T) {
		_, err := ParseAlgorithm("md5")
		require.Error(t, err)
	})

	t.Run("signature hex round-trips", func(t *testing.T) {
		reg := NewRegistry(t.TempDir(), nil)

		_, err := reg.GenerateKey(ctx, "release")
		require.NoError(t, err)

		path := writeFile(t, "payload")

		signer := NewSigner(reg, nil)

		sf, err := signer.SignFile(ctx, "release", path, AlgoSHA256)
		require.NoError(t, err)

		sig, err := hex.DecodeString(sf.Signature)
		require.NoError(t, err)
		assert.Len(t, sig, 64)
		assert.Equal(t, sf.Signature, hex.EncodeToString(sig))
	})
}
