package ops

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// InitProject scaffolds a new avocado.yaml in a directory.
type InitProject struct {
	common

	Dir    string
	Target string
}

const initTemplate = `default_target: %TARGET%

supported_targets:
  - %TARGET%

distro:
  version: "0.1.0"
  channel: dev

sdk:
  image: ghcr.io/avocado-linux/avocado-sdk:latest

runtimes:
  dev:
    packages:
      avocado-img-bootfiles: "*"
    extensions:
      - app

extensions:
  app:
    types:
      - sysext
    packages: {}
`

func (i *InitProject) Run(ctx context.Context) error {
	ui := GetUI(ctx)

	dir := i.Dir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return track(err)
		}

		dir = cwd
	}

	if existing, err := FindConfig(dir); err == nil {
		return errors.Errorf("%s already exists", existing)
	}

	target := i.Target
	if target == "" {
		target = "qemux86-64"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return track(err)
	}

	path := filepath.Join(dir, "avocado.yaml")

	content := []byte(strings.ReplaceAll(initTemplate, "%TARGET%", target))

	if err := os.WriteFile(path, content, 0644); err != nil {
		return track(err)
	}

	ui.Done("created %s (target %s)", path, target)

	return nil
}
