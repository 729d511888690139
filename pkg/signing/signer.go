package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"lukechampine.com/blake3"

	"github.com/avocado-linux/avocado/pkg/data"
)

// Algorithm names a supported checksum algorithm.
type Algorithm string

const (
	AlgoSHA256 Algorithm = "sha256"
	AlgoBLAKE3 Algorithm = "blake3"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgoSHA256, AlgoBLAKE3:
		return Algorithm(s), nil
	default:
		return "", errors.Errorf("unsupported checksum algorithm '%s' (expected sha256 or blake3)", s)
	}
}

func newHasher(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoBLAKE3:
		return blake3.New(32, nil), nil
	default:
		return nil, errors.Errorf("unsupported checksum algorithm '%s'", algo)
	}
}

// HashBytes digests a byte slice with the named algorithm.
func HashBytes(algo Algorithm, b []byte) ([]byte, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, err
	}

	h.Write(b)

	return h.Sum(nil), nil
}

// HashFile streams a file through the named algorithm, returning the
// digest and the file size.
func HashFile(algo Algorithm, path string) ([]byte, int64, error) {
	h, err := newHasher(algo)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}
	defer f.Close()

	n, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return h.Sum(nil), n, nil
}

// SigPath is where the detached signature for a file lives.
func SigPath(path string) string { return path + ".sig" }

// Signer produces and verifies detached signature files, dispatching on
// the URI scheme of the registry entry.
type Signer struct {
	reg    *Registry
	logger hclog.Logger
}

func NewSigner(reg *Registry, logger hclog.Logger) *Signer {
	if logger == nil {
		logger = hclog.L()
	}

	return &Signer{reg: reg, logger: logger}
}

// SignFile hashes the file and signs the raw digest with the named key.
func (s *Signer) SignFile(ctx context.Context, keyName, path string, algo Algorithm) (*data.SignatureFile, error) {
	entry, err := s.reg.Get(keyName)
	if err != nil {
		return nil, err
	}

	digest, _, err := HashFile(algo, path)
	if err != nil {
		return nil, err
	}

	sig, err := s.SignDigest(ctx, entry, digest)
	if err != nil {
		return nil, err
	}

	return &data.SignatureFile{
		Version:           data.SignatureFileVersion,
		ChecksumAlgorithm: string(algo),
		Checksum:          hex.EncodeToString(digest),
		Signature:         hex.EncodeToString(sig),
		KeyName:           keyName,
		KeyID:             entry.KeyID,
	}, nil
}

// SignDigest signs raw digest bytes with whichever backend the entry's
// URI selects.
func (s *Signer) SignDigest(ctx context.Context, entry data.SigningKeyEntry, digest []byte) ([]byte, error) {
	switch {
	case IsPKCS11URI(entry.URI):
		return s.signPKCS11(ctx, entry, digest)
	default:
		priv, err := s.reg.LoadPrivate(entry)
		if err != nil {
			return nil, err
		}

		return ed25519.Sign(priv, digest), nil
	}
}

// WriteSignatureFile pretty-prints a signature document to path.
func WriteSignatureFile(path string, sf *data.SignatureFile) error {
	out, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(os.WriteFile(path, append(out, '\n'), 0644))
}

func ReadSignatureFile(path string) (*data.SignatureFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var sf data.SignatureFile

	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, errors.Wrapf(err, "parsing signature file %s", path)
	}

	return &sf, nil
}

// VerifyFile checks a detached signature against a file. When keyName is
// empty, the key is resolved through the keyid embedded in the
// signature document.
func (s *Signer) VerifyFile(path, sigPath, keyName string) error {
	sf, err := ReadSignatureFile(sigPath)
	if err != nil {
		return err
	}

	algo, err := ParseAlgorithm(sf.ChecksumAlgorithm)
	if err != nil {
		return err
	}

	digest, _, err := HashFile(algo, path)
	if err != nil {
		return err
	}

	if hex.EncodeToString(digest) != sf.Checksum {
		return errors.Errorf("checksum mismatch for %s", path)
	}

	var entry data.SigningKeyEntry

	if keyName != "" {
		entry, err = s.reg.Get(keyName)
	} else {
		_, entry, err = s.reg.FindByKeyID(sf.KeyID)
	}
	if err != nil {
		return err
	}

	pub, err := s.reg.LoadPublic(entry)
	if err != nil {
		return err
	}

	sig, err := hex.DecodeString(sf.Signature)
	if err != nil {
		return errors.Wrap(err, "decoding signature")
	}

	if !ed25519.Verify(pub, digest, sig) {
		return errors.Errorf("signature verification failed for %s", path)
	}

	return nil
}
