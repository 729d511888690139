package ops

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/avocado-linux/avocado/pkg/container"
)

type containerRunner interface {
	Run(ctx context.Context, rc container.RunConfig) error
}

func (p *Project) runner() containerRunner {
	return container.NewSdkContainer(p.ContainerRuntime, p.L())
}

var (
	platformOnce sync.Once
	sdkPlatform  string
)

// hostPlatform detects once, per process, whether SDK containers need
// an explicit --platform on this host.
func hostPlatform() string {
	platformOnce.Do(func() {
		arch, err := container.HostArch()
		if err != nil {
			return
		}

		sdkPlatform = container.SdkPlatform(arch)
	})

	return sdkPlatform
}

// runConfig assembles the standard container invocation for a script:
// source mounted read-only, the state volume read-write, and the SDK
// repo settings exported.
func (p *Project) runConfig(script string) (container.RunConfig, error) {
	img, err := p.SDKImage()
	if err != nil {
		return container.RunConfig{}, err
	}

	root := p.Composed.Root

	env := map[string]string{}

	if u := root.SDKRepoURL(); u != "" {
		env["AVOCADO_SDK_REPO_URL"] = u
	}

	if r := root.SDKRepoRelease(); r != "" {
		env["AVOCADO_SDK_REPO_RELEASE"] = r
	}

	return container.RunConfig{
		Image:     img,
		Target:    p.Target,
		SourceDir: p.Dir,
		Volume:    p.Volume(),
		Script:    script,
		Platform:  hostPlatform(),
		Env:       env,
		ExtraArgs: root.SDKContainerArgs(),
	}, nil
}

// SourceDateEpoch is propagated into squashfs builds. Config wins over
// the inherited environment; the default is 0 for full reproducibility.
func (p *Project) SourceDateEpoch() int64 {
	if v, ok := p.Composed.Root.Tree()["source_date_epoch"]; ok {
		switch tv := v.(type) {
		case int:
			return int64(tv)
		case int64:
			return tv
		case string:
			if n, err := strconv.ParseInt(tv, 10, 64); err == nil {
				return n
			}
		}
	}

	if env := os.Getenv("SOURCE_DATE_EPOCH"); env != "" {
		if n, err := strconv.ParseInt(env, 10, 64); err == nil {
			return n
		}
	}

	return 0
}
