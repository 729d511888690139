package update

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/signing"
)

// DefaultKeyDir is where the auto-generated update key lives, relative
// to the project root.
const DefaultKeyDir = ".avocado/signing"

func defaultKeyPaths(projectDir string) (string, string) {
	dir := filepath.Join(projectDir, filepath.FromSlash(DefaultKeyDir))
	return filepath.Join(dir, "default.key"), filepath.Join(dir, "default.pub")
}

// RootKey resolves the private key that signs the root document. A
// named key must be file-backed; hardware keys cannot serve as the
// update authority because root signing needs the raw ed25519 key.
func RootKey(ctx context.Context, projectDir, keyName string, reg *signing.Registry) (ed25519.PrivateKey, error) {
	if keyName == "" || keyName == data.DefaultKeyName {
		return EnsureDefaultKey(ctx, projectDir, reg)
	}

	entry, err := reg.Get(keyName)
	if err != nil {
		return nil, err
	}

	if signing.IsPKCS11URI(entry.URI) {
		return nil, errors.Errorf("key '%s' is hardware-backed and cannot sign the update root", keyName)
	}

	return reg.LoadPrivate(entry)
}

// EnsureDefaultKey returns the project's update-authority key, creating
// it on first use and registering it under the reserved name. The
// private portion is written 0600 and reused on later builds.
func EnsureDefaultKey(ctx context.Context, projectDir string, reg *signing.Registry) (ed25519.PrivateKey, error) {
	keyPath, pubPath := defaultKeyPaths(projectDir)

	if raw, err := os.ReadFile(keyPath); err == nil {
		seed, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", keyPath)
		}

		if len(seed) != ed25519.SeedSize {
			return nil, errors.Errorf("%s does not hold a %d-byte seed", keyPath, ed25519.SeedSize)
		}

		return ed25519.NewKeyFromSeed(seed), nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, errors.WithStack(err)
	}

	err = os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(priv.Seed())), 0600)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	err = os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(pub)), 0644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if reg != nil {
		if _, err := reg.Get(data.DefaultKeyName); err != nil {
			entry := data.SigningKeyEntry{
				KeyID:     signing.KeyID(pub),
				Algorithm: signing.AlgorithmED25519,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				URI:       signing.FileURI(keyPath),
			}

			if err := reg.Add(ctx, data.DefaultKeyName, entry); err != nil {
				return nil, err
			}
		}
	}

	return priv, nil
}
