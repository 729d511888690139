package container

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
)

func TestRunArgs(t *testing.T) {
	s := NewSdkContainer("docker", hclog.NewNullLogger())

	rc := RunConfig{
		Image:     "docker.io/avocado/sdk:1.0",
		Target:    "qemux86-64",
		SourceDir: "/work/project",
		Volume:    "avocado-state",
		Platform:  "linux/amd64",
		Env:       map[string]string{"B": "2", "A": "1"},
		ExtraArgs: []string{"--privileged"},
		Mounts:    []string{"/tmp/sign.sock:/opt/_avocado/signing.sock"},
	}

	assert.Equal(t, []string{
		"run", "--rm", "-i",
		"--platform", "linux/amd64",
		"-v", "/work/project:/opt/_avocado/src:ro",
		"-v", "avocado-state:/opt/_avocado:rw",
		"-v", "/tmp/sign.sock:/opt/_avocado/signing.sock",
		"-e", "AVOCADO_SDK_TARGET=qemux86-64",
		"-e", "A=1",
		"-e", "B=2",
		"--privileged",
		"docker.io/avocado/sdk:1.0", "/bin/sh", "-",
	}, s.runArgs(rc))
}

func TestSdkPlatform(t *testing.T) {
	assert.Empty(t, SdkPlatform("x86_64"))
	assert.Empty(t, SdkPlatform("amd64"))
	assert.Empty(t, SdkPlatform(""))

	assert.Equal(t, "linux/amd64", SdkPlatform("aarch64"))
	assert.Equal(t, "linux/amd64", SdkPlatform("arm64"))
}
