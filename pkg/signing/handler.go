package signing

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/data"
)

// VolumeCopier moves single files between the host and the shared build
// volume. container.Volumes is the real implementation.
type VolumeCopier interface {
	Extract(ctx context.Context, volName, containerPath, hostPath string) error
	Insert(ctx context.Context, volName, hostPath, containerPath string) error
}

// Handler services sign requests arriving over the IPC socket for one
// (target, runtime) build.
type Handler struct {
	Target  string
	Runtime string
	Volume  string
	KeyName string

	Signer *Signer
	Copier VolumeCopier

	logger hclog.Logger
}

func NewHandler(target, runtimeName, volume, keyName string, signer *Signer, copier VolumeCopier, logger hclog.Logger) *Handler {
	if logger == nil {
		logger = hclog.L()
	}

	return &Handler{
		Target:  target,
		Runtime: runtimeName,
		Volume:  volume,
		KeyName: keyName,
		Signer:  signer,
		Copier:  copier,
		logger:  logger,
	}
}

// ValidateBinaryPath enforces that requests only reach the runtime's
// build and output areas inside the volume, with no traversal.
func (h *Handler) ValidateBinaryPath(binaryPath string) error {
	for _, seg := range strings.Split(binaryPath, "/") {
		if seg == ".." {
			return errors.Errorf("binary path '%s' contains invalid '..' components", binaryPath)
		}
	}

	allowed := []string{
		container.MountPoint + "/" + h.Target + "/runtimes/" + h.Runtime + "/",
		container.MountPoint + "/" + h.Target + "/output/runtimes/" + h.Runtime + "/",
	}

	for _, prefix := range allowed {
		if strings.HasPrefix(binaryPath, prefix) {
			return nil
		}
	}

	return errors.Errorf("binary path '%s' is outside the permitted runtime areas", binaryPath)
}

// Handle services one request: extract the file from the volume, hash
// and sign it on the host, and write the signature back beside it.
func (h *Handler) Handle(ctx context.Context, req data.SignRequest) data.SignResponse {
	fail := func(err error) data.SignResponse {
		h.logger.Error("sign request failed", "path", req.BinaryPath, "error", err)

		msg := err.Error()
		return data.SignResponse{Type: data.SignResponseType, Success: false, Error: &msg}
	}

	if req.Type != data.SignRequestType {
		return fail(errors.Errorf("protocol error: unexpected request type '%s'", req.Type))
	}

	algo, err := ParseAlgorithm(req.ChecksumAlgorithm)
	if err != nil {
		return fail(errors.Wrap(err, "protocol error"))
	}

	if err := h.ValidateBinaryPath(req.BinaryPath); err != nil {
		return fail(err)
	}

	work, err := os.MkdirTemp("", "avocado-sign-*")
	if err != nil {
		return fail(errors.Wrap(err, "extraction failed"))
	}
	defer os.RemoveAll(work)

	local := filepath.Join(work, filepath.Base(req.BinaryPath))

	if err := h.Copier.Extract(ctx, h.Volume, req.BinaryPath, local); err != nil {
		return fail(errors.Wrap(err, "extraction failed"))
	}

	sf, err := h.Signer.SignFile(ctx, h.KeyName, local, algo)
	if err != nil {
		return fail(errors.Wrap(err, "signing failed"))
	}

	localSig := SigPath(local)

	if err := WriteSignatureFile(localSig, sf); err != nil {
		return fail(errors.Wrap(err, "signing failed"))
	}

	sigPath := SigPath(req.BinaryPath)

	if err := h.Copier.Insert(ctx, h.Volume, localSig, sigPath); err != nil {
		return fail(errors.Wrap(err, "extraction failed"))
	}

	content, err := os.ReadFile(localSig)
	if err != nil {
		return fail(errors.Wrap(err, "signing failed"))
	}

	h.logger.Info("signed artifact", "path", req.BinaryPath, "algorithm", algo, "key", h.KeyName)

	return data.SignResponse{
		Type:             data.SignResponseType,
		Success:          true,
		SignaturePath:    sigPath,
		SignatureContent: string(content),
		Error:            nil,
	}
}
