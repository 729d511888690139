package container

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
)

// MountPoint is where the state volume appears inside SDK containers.
const MountPoint = "/opt/_avocado"

// SourceMount is where the project source is bind-mounted, read-only.
const SourceMount = MountPoint + "/src"

// SdkContainer runs SDK containers through the configured container
// runtime binary.
type SdkContainer struct {
	runtime string
	logger  hclog.Logger
}

func NewSdkContainer(runtime string, logger hclog.Logger) *SdkContainer {
	if runtime == "" {
		runtime = "docker"
	}

	if logger == nil {
		logger = hclog.L()
	}

	return &SdkContainer{runtime: runtime, logger: logger}
}

func (s *SdkContainer) Runtime() string { return s.runtime }

// RunConfig describes one containerized step. The script runs under
// /bin/sh fed on stdin.
type RunConfig struct {
	Image     string
	Target    string
	SourceDir string
	Volume    string
	Script    string

	// Platform is passed through as --platform when the SDK image
	// needs emulation on this host.
	Platform string

	Env       map[string]string
	ExtraArgs []string
	Mounts    []string

	Stdout io.Writer
	Stderr io.Writer
}

func (s *SdkContainer) runArgs(rc RunConfig) []string {
	args := []string{"run", "--rm", "-i"}

	if rc.Platform != "" {
		args = append(args, "--platform", rc.Platform)
	}

	if rc.SourceDir != "" {
		args = append(args, "-v", rc.SourceDir+":"+SourceMount+":ro")
	}

	if rc.Volume != "" {
		args = append(args, "-v", rc.Volume+":"+MountPoint+":rw")
	}

	for _, m := range rc.Mounts {
		args = append(args, "-v", m)
	}

	if rc.Target != "" {
		args = append(args, "-e", "AVOCADO_SDK_TARGET="+rc.Target)
	}

	envNames := make([]string, 0, len(rc.Env))
	for k := range rc.Env {
		envNames = append(envNames, k)
	}
	sort.Strings(envNames)

	for _, k := range envNames {
		args = append(args, "-e", k+"="+rc.Env[k])
	}

	args = append(args, rc.ExtraArgs...)
	args = append(args, rc.Image, "/bin/sh", "-")

	return args
}

// Run executes one step in the SDK container and waits for it.
func (s *SdkContainer) Run(ctx context.Context, rc RunConfig) error {
	args := s.runArgs(rc)

	s.logger.Debug("running sdk container", "runtime", s.runtime, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, s.runtime, args...)
	cmd.Stdin = strings.NewReader(rc.Script)

	cmd.Stdout = rc.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}

	cmd.Stderr = rc.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "sdk container step failed (image %s)", rc.Image)
	}

	return nil
}

// HostArch reports the host kernel architecture, used to decide whether
// the SDK image needs cross-arch emulation.
func HostArch() (string, error) {
	arch, err := host.KernelArch()
	if err != nil {
		return "", errors.WithStack(err)
	}

	return arch, nil
}

// SdkPlatform maps a host architecture to the --platform value needed
// to run the SDK image. SDK images are published for x86_64; any other
// host runs them through emulation.
func SdkPlatform(hostArch string) string {
	switch hostArch {
	case "", "x86_64", "amd64":
		return ""
	default:
		return "linux/amd64"
	}
}
