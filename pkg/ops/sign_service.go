package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/container"
	"github.com/avocado-linux/avocado/pkg/signing"
)

// SignService runs the signing endpoint standalone, for builds driven
// outside the orchestrator (for example a long-lived dev container).
type SignService struct {
	common

	Project *Project
	Volumes volumeManager
	Keys    *signing.Registry

	SocketPath string
	Runtime    string
	KeyName    string
}

func (s *SignService) volumes() volumeManager {
	if s.Volumes != nil {
		return s.Volumes
	}

	return container.NewVolumes(s.Project.ContainerRuntime)
}

// Run serves sign requests until the context is canceled.
func (s *SignService) Run(ctx context.Context) error {
	ui := GetUI(ctx)

	if s.SocketPath == "" {
		return errors.New("a socket path is required")
	}

	if s.Runtime == "" {
		return errors.New("a runtime name is required to scope signable paths")
	}

	reg := s.Keys
	if reg == nil {
		var err error

		reg, err = signing.OpenDefault(s.L())
		if err != nil {
			return err
		}
	}

	handler := signing.NewHandler(
		s.Project.Target, s.Runtime, s.Project.Volume(), s.KeyName,
		signing.NewSigner(reg, s.L()), s.volumes(), s.L(),
	)

	svc := signing.NewService(s.SocketPath, handler, s.L())

	if err := svc.Start(ctx); err != nil {
		return err
	}

	ui.Done("signing service listening on %s (runtime %s)", s.SocketPath, s.Runtime)

	<-ctx.Done()

	return svc.Close()
}
