package container

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// stagingImage is the throwaway image used to reach into volumes.
const stagingImage = "busybox"

// Volumes manages the named state volume shared between build steps,
// including moving single files in and out through a short-lived
// staging container.
type Volumes struct {
	runtime string
}

func NewVolumes(runtime string) *Volumes {
	if runtime == "" {
		runtime = "docker"
	}

	return &Volumes{runtime: runtime}
}

func (v *Volumes) run(ctx context.Context, args ...string) (string, error) {
	var out, errBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, v.runtime, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "%s %s: %s", v.runtime, strings.Join(args, " "), strings.TrimSpace(errBuf.String()))
	}

	return strings.TrimSpace(out.String()), nil
}

// Ensure creates the named volume if it does not already exist.
func (v *Volumes) Ensure(ctx context.Context, volName string) error {
	if _, err := v.run(ctx, "volume", "inspect", volName); err == nil {
		return nil
	}

	_, err := v.run(ctx, "volume", "create", volName)
	return err
}

// Remove deletes the named volume.
func (v *Volumes) Remove(ctx context.Context, volName string) error {
	_, err := v.run(ctx, "volume", "rm", "-f", volName)
	return err
}

// withStaging materializes a stopped container with the volume mounted
// and hands its id to fn.
func (v *Volumes) withStaging(ctx context.Context, volName string, fn func(id string) error) error {
	id, err := v.run(ctx, "create", "-v", volName+":"+MountPoint, stagingImage, "true")
	if err != nil {
		return errors.Wrap(err, "creating staging container")
	}

	defer v.run(context.WithoutCancel(ctx), "rm", "-f", id)

	return fn(id)
}

// Extract copies one file out of the volume to a host path. The
// container path must be under the volume mount point.
func (v *Volumes) Extract(ctx context.Context, volName, containerPath, hostPath string) error {
	if !strings.HasPrefix(containerPath, MountPoint+"/") {
		return errors.Errorf("path %s is outside the volume mount %s", containerPath, MountPoint)
	}

	return v.withStaging(ctx, volName, func(id string) error {
		_, err := v.run(ctx, "cp", id+":"+containerPath, hostPath)
		return err
	})
}

// Insert copies one host file into the volume at the container path.
func (v *Volumes) Insert(ctx context.Context, volName, hostPath, containerPath string) error {
	if !strings.HasPrefix(containerPath, MountPoint+"/") {
		return errors.Errorf("path %s is outside the volume mount %s", containerPath, MountPoint)
	}

	return v.withStaging(ctx, volName, func(id string) error {
		_, err := v.run(ctx, "cp", hostPath, id+":"+containerPath)
		return err
	})
}
