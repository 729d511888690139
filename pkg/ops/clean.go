package ops

import (
	"context"
	"os"
	"path/filepath"

	"github.com/avocado-linux/avocado/pkg/container"
)

// Clean removes a project's build state: the container volume, the
// stamps, and the fetched remote extensions. Key material is never
// touched.
type Clean struct {
	common

	Project *Project
	Volumes volumeManager
}

func (c *Clean) volumes() volumeManager {
	if c.Volumes != nil {
		return c.Volumes
	}

	return container.NewVolumes(c.Project.ContainerRuntime)
}

func (c *Clean) Run(ctx context.Context) error {
	ui := GetUI(ctx)

	vol := c.Project.Volume()

	if err := c.volumes().Remove(ctx, vol); err != nil {
		c.L().Warn("could not remove volume", "volume", vol, "error", err)
	} else {
		ui.Done("removed volume %s", vol)
	}

	if err := c.Project.Stamps.Clear(); err != nil {
		return err
	}

	ui.Done("cleared build stamps")

	remotes := filepath.Join(c.Project.Dir, ".avocado", "remotes")

	if err := os.RemoveAll(remotes); err != nil {
		return track(err)
	}

	ui.Done("removed fetched extensions")

	return nil
}
