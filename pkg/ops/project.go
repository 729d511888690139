package ops

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/config"
	"github.com/avocado-linux/avocado/pkg/stamps"
)

// candidate config names, probed in order
var configNames = []string{"avocado.yaml", "avocado.yml", "avocado.toml"}

// Project bundles everything the build operations share: the composed
// configuration, the selected target, and the per-project state
// locations.
type Project struct {
	common

	ConfigPath string
	Dir        string
	Target     string
	Composed   *config.Composed

	// container runtime binary, docker unless overridden
	ContainerRuntime string

	Stamps *stamps.Store
}

// ProjectOptions selects what to load and how.
type ProjectOptions struct {
	ConfigPath       string
	Target           string
	ContainerRuntime string
	NoStamps         bool
}

// FindConfig probes the working directory for a config file.
func FindConfig(dir string) (string, error) {
	for _, base := range configNames {
		candidate := filepath.Join(dir, base)

		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", errors.Errorf("no avocado config found in %s", dir)
}

// LoadProject composes the configuration and prepares project state.
func LoadProject(opts ProjectOptions, logger hclog.Logger) (*Project, error) {
	if logger == nil {
		logger = hclog.L()
	}

	path := opts.ConfigPath

	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, track(err)
		}

		path, err = FindConfig(cwd)
		if err != nil {
			return nil, err
		}
	}

	cc, err := config.Compose(path, opts.Target, logger)
	if err != nil {
		return nil, err
	}

	target := cc.Context.Target
	if target == "" {
		return nil, errors.New("no target resolvable: pass --target, set AVOCADO_TARGET, or add default_target to the config")
	}

	dir := cc.Root.Dir()

	p := &Project{
		ConfigPath:       cc.Root.Path(),
		Dir:              dir,
		Target:           target,
		Composed:         cc,
		ContainerRuntime: opts.ContainerRuntime,
		Stamps:           stamps.New(filepath.Join(dir, ".avocado", "stamps"), opts.NoStamps, logger),
	}

	p.SetLogger(logger)

	return p, nil
}

// Volume is the named state volume for this project, derived from the
// project directory so distinct checkouts never collide.
func (p *Project) Volume() string {
	return "avocado-" + stamps.Hash(p.Dir)[:12]
}

// stampHash fingerprints a step's inputs together with the target.
func (p *Project) stampHash(parts ...string) string {
	return stamps.Hash(append([]string{p.Target}, parts...)...)
}

// SDKImage returns the configured SDK image, required for any
// containerized step.
func (p *Project) SDKImage() (string, error) {
	img := p.Composed.Root.SDKImage()
	if img == "" {
		return "", errors.Errorf("sdk.image is not set in %s", p.ConfigPath)
	}

	return img, nil
}
