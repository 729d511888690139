package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
)

const AlgorithmED25519 = "ed25519"

// KeyID is the hex SHA-256 of the raw public key bytes.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// URIKeyID derives a keyid for PKCS#11 entries, where the public key is
// not directly readable.
func URIKeyID(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:])
}

func (r *Registry) PrivateKeyPath(keyid string) string {
	return filepath.Join(r.dir, keyid+".key")
}

func (r *Registry) PublicKeyPath(keyid string) string {
	return filepath.Join(r.dir, keyid+".pub")
}

// GenerateKey creates a new file-backed ed25519 key and registers it.
func (r *Registry) GenerateKey(ctx context.Context, keyName string) (data.SigningKeyEntry, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return data.SigningKeyEntry{}, errors.WithStack(err)
	}

	return r.ImportSeed(ctx, keyName, priv.Seed(), pub)
}

// ImportSeed registers an existing 32-byte ed25519 seed as a file-backed
// key. The public key argument may be nil, in which case it is derived.
func (r *Registry) ImportSeed(ctx context.Context, keyName string, seed []byte, pub ed25519.PublicKey) (data.SigningKeyEntry, error) {
	if len(seed) != ed25519.SeedSize {
		return data.SigningKeyEntry{}, errors.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)

	derived := priv.Public().(ed25519.PublicKey)
	if pub == nil {
		pub = derived
	} else if !derived.Equal(pub) {
		return data.SigningKeyEntry{}, errors.New("public key does not match the imported seed")
	}

	keyid := KeyID(pub)

	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return data.SigningKeyEntry{}, errors.WithStack(err)
	}

	keyPath := r.PrivateKeyPath(keyid)

	err := os.WriteFile(keyPath, []byte(base64.StdEncoding.EncodeToString(seed)), 0600)
	if err != nil {
		return data.SigningKeyEntry{}, errors.WithStack(err)
	}

	err = os.WriteFile(r.PublicKeyPath(keyid), []byte(base64.StdEncoding.EncodeToString(pub)), 0644)
	if err != nil {
		return data.SigningKeyEntry{}, errors.WithStack(err)
	}

	entry := data.SigningKeyEntry{
		KeyID:     keyid,
		Algorithm: AlgorithmED25519,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		URI:       FileURI(keyPath),
	}

	if err := r.Add(ctx, keyName, entry); err != nil {
		os.Remove(keyPath)
		os.Remove(r.PublicKeyPath(keyid))
		return data.SigningKeyEntry{}, err
	}

	return entry, nil
}

// RegisterPKCS11 registers a hardware key by URI. No key files are
// written; the keyid is derived from the URI.
func (r *Registry) RegisterPKCS11(ctx context.Context, keyName, uri string) (data.SigningKeyEntry, error) {
	if _, err := ParsePKCS11URI(uri); err != nil {
		return data.SigningKeyEntry{}, err
	}

	entry := data.SigningKeyEntry{
		KeyID:     URIKeyID(uri),
		Algorithm: AlgorithmED25519,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		URI:       uri,
	}

	if err := r.Add(ctx, keyName, entry); err != nil {
		return data.SigningKeyEntry{}, err
	}

	return entry, nil
}

// LoadPrivate reconstructs the keypair of a file-backed entry from its
// stored seed.
func (r *Registry) LoadPrivate(entry data.SigningKeyEntry) (ed25519.PrivateKey, error) {
	path, err := ParseFileURI(entry.URI)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading key file for keyid %s", entry.KeyID)
	}

	seed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding key file %s", path)
	}

	if len(seed) != ed25519.SeedSize {
		return nil, errors.Errorf("key file %s does not hold a %d-byte seed", path, ed25519.SeedSize)
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// LoadPublic returns the public key of a file-backed entry.
func (r *Registry) LoadPublic(entry data.SigningKeyEntry) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(r.PublicKeyPath(entry.KeyID))
	if err == nil {
		pub, derr := base64.StdEncoding.DecodeString(string(raw))
		if derr != nil {
			return nil, errors.Wrapf(derr, "decoding public key for keyid %s", entry.KeyID)
		}

		if len(pub) != ed25519.PublicKeySize {
			return nil, errors.Errorf("public key for keyid %s has wrong length", entry.KeyID)
		}

		return ed25519.PublicKey(pub), nil
	}

	priv, perr := r.LoadPrivate(entry)
	if perr != nil {
		return nil, errors.Wrapf(perr, "no public key material for keyid %s", entry.KeyID)
	}

	return priv.Public().(ed25519.PublicKey), nil
}
