package ops

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/signing"
)

// SignFile signs or verifies a host-side file with a registered key.
type SignFile struct {
	common

	Keys *signing.Registry
}

func (s *SignFile) registry() (*signing.Registry, error) {
	if s.Keys != nil {
		return s.Keys, nil
	}

	return signing.OpenDefault(s.L())
}

// Sign hashes path with algo, signs the digest with the named key, and
// writes the signature file beside it.
func (s *SignFile) Sign(ctx context.Context, keyName, path, algo string) (string, error) {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return "", err
	}

	algorithm, err := signing.ParseAlgorithm(algo)
	if err != nil {
		return "", err
	}

	signer := signing.NewSigner(reg, s.L())

	sf, err := signer.SignFile(ctx, keyName, path, algorithm)
	if err != nil {
		return "", err
	}

	sigPath := signing.SigPath(path)

	if err := signing.WriteSignatureFile(sigPath, sf); err != nil {
		return "", err
	}

	ui.Done("signed %s with key '%s' (%s)", path, keyName, algorithm)

	return sigPath, nil
}

// SignManifest signs every file a container-produced hash manifest
// lists. rootDir is the host directory mirroring the volume mount, so
// container paths resolve onto extracted files.
func (s *SignFile) SignManifest(ctx context.Context, keyName, manifestPath, rootDir string) error {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return err
	}

	mf, err := signing.ReadManifest(manifestPath)
	if err != nil {
		return err
	}

	resolve := func(containerPath string) string {
		return filepath.Join(rootDir, strings.TrimPrefix(containerPath, container.MountPoint))
	}

	signer := signing.NewSigner(reg, s.L())

	sigs, err := signer.SignManifest(ctx, keyName, mf, resolve)
	if err != nil {
		return err
	}

	ui.Done("signed %d file(s) from manifest for runtime '%s'", len(sigs), mf.Runtime)

	return nil
}

// Verify checks path against its signature file. An empty keyName
// resolves the key by the signature's embedded keyid.
func (s *SignFile) Verify(ctx context.Context, keyName, path, sigPath string) error {
	ui := GetUI(ctx)

	reg, err := s.registry()
	if err != nil {
		return err
	}

	if sigPath == "" {
		sigPath = signing.SigPath(path)
	}

	signer := signing.NewSigner(reg, s.L())

	if err := signer.VerifyFile(path, sigPath, keyName); err != nil {
		return err
	}

	ui.Done("signature on %s verifies", path)

	return nil
}
