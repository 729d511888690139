package signing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
)

// ReadManifest parses a hash manifest produced inside the container.
func ReadManifest(path string) (*data.HashManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var mf data.HashManifest

	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest %s", path)
	}

	if _, err := ParseAlgorithm(mf.ChecksumAlgorithm); err != nil {
		return nil, err
	}

	return &mf, nil
}

// SignManifest signs every file a manifest lists. resolve maps a
// container path to the local file holding its content. Each file is
// re-hashed and must match the recorded digest before its signature
// file is written beside the resolved path.
func (s *Signer) SignManifest(ctx context.Context, keyName string, mf *data.HashManifest, resolve func(containerPath string) string) ([]*data.SignatureFile, error) {
	algo, err := ParseAlgorithm(mf.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	out := make([]*data.SignatureFile, 0, len(mf.Files))

	for _, f := range mf.Files {
		local := resolve(f.ContainerPath)

		digest, size, err := HashFile(algo, local)
		if err != nil {
			return nil, errors.Wrapf(err, "hashing %s", f.ContainerPath)
		}

		if hex.EncodeToString(digest) != f.Hash {
			return nil, errors.Errorf("checksum mismatch for %s", f.ContainerPath)
		}

		if f.Size != 0 && f.Size != size {
			return nil, errors.Errorf("size mismatch for %s (manifest %d, file %d)", f.ContainerPath, f.Size, size)
		}

		sf, err := s.SignFile(ctx, keyName, local, algo)
		if err != nil {
			return nil, err
		}

		if err := WriteSignatureFile(SigPath(local), sf); err != nil {
			return nil, err
		}

		out = append(out, sf)
	}

	return out, nil
}
