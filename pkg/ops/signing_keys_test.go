package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avocado-linux/avocado/pkg/signing"
)

func TestSigningKeysRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("file-backed removal needs no prompt", func(t *testing.T) {
		reg := testKeys(t)

		_, err := reg.GenerateKey(ctx, "release")
		require.NoError(t, err)

		var out strings.Builder
		sk := &SigningKeys{Keys: reg, Output: &out}

		require.NoError(t, sk.Remove(ctx, "release", false))

		_, err = reg.Get("release")
		assert.ErrorIs(t, err, signing.ErrKeyNotFound)
		assert.NotContains(t, out.String(), "[y/N]")
	})

	t.Run("declining the prompt keeps the hardware key", func(t *testing.T) {
		dir := t.TempDir()

		regFile := `{"keys":{"hw":{"keyid":"abc123","algorithm":"ed25519","created_at":"2026-01-01T00:00:00Z","uri":"pkcs11:token=avocado;object=hw"}}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.json"), []byte(regFile), 0600))

		reg := signing.NewRegistry(dir, hclog.NewNullLogger())

		var out strings.Builder
		sk := &SigningKeys{Keys: reg, Output: &out, Input: strings.NewReader("n\n")}

		require.NoError(t, sk.Remove(ctx, "hw", true))

		_, err := reg.Get("hw")
		require.NoError(t, err, "key must stay registered after declining")
		assert.Contains(t, out.String(), "[y/N]")
	})

	t.Run("empty input counts as a decline", func(t *testing.T) {
		dir := t.TempDir()

		regFile := `{"keys":{"hw":{"keyid":"abc123","algorithm":"ed25519","created_at":"2026-01-01T00:00:00Z","uri":"pkcs11:token=avocado;object=hw"}}}`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "keys.json"), []byte(regFile), 0600))

		reg := signing.NewRegistry(dir, hclog.NewNullLogger())

		var out strings.Builder
		sk := &SigningKeys{Keys: reg, Output: &out, Input: strings.NewReader("")}

		require.NoError(t, sk.Remove(ctx, "hw", true))

		_, err := reg.Get("hw")
		require.NoError(t, err)
	})
}
