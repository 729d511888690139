package ops

import (
	"context"
	"sort"
	"strings"

	"github.com/avocado-linux/avocado/pkg/container"
)

// SdkPrepare readies the SDK before any extension builds: installs
// sdk.dependencies into the SDK sysroot, installs each compile
// section's dependencies into the cross sysroot, and runs the compile
// scripts against the mounted project source.
type SdkPrepare struct {
	common

	Project *Project
	Runner  containerRunner
}

func (s *SdkPrepare) runner() containerRunner {
	if s.Runner != nil {
		return s.Runner
	}

	return s.Project.runner()
}

// sdkSysroot is where SDK-side packages land in the shared volume.
func sdkSysroot(target string) string {
	return targetRoot(target) + "/sdk"
}

// Prepare is a no-op when the config carries neither sdk.dependencies
// nor sdk.compile sections.
func (s *SdkPrepare) Prepare(ctx context.Context) error {
	ui := GetUI(ctx)

	script, ok := s.Script()
	if !ok {
		ui.Skip("no sdk preparation configured")
		return nil
	}

	hash := s.Project.stampHash("sdk-prepare", script)

	if s.Project.Stamps.Done("sdk-prepare", hash) {
		ui.Skip("sdk is up to date")
		return nil
	}

	ui.Busy("preparing sdk")

	rc, err := s.Project.runConfig(script)
	if err != nil {
		return err
	}

	if err := s.runner().Run(ctx, rc); err != nil {
		ui.Fail("sdk preparation")
		return err
	}

	ui.Done("sdk prepared")

	return s.Project.Stamps.Mark("sdk-prepare", hash)
}

// Script renders the preparation script. ok is false when there is
// nothing to do.
func (s *SdkPrepare) Script() (string, bool) {
	root := s.Project.Composed.Root
	target := s.Project.Target
	sysroot := sdkSysroot(target)

	var lines []string

	if args := packageArgs(root.SDKDependencies()); len(args) > 0 {
		lines = append(lines,
			"mkdir -p "+shQuote(sysroot),
			dnfInstall(sysroot, root.SDKRepoRelease(), args),
		)
	}

	sections := root.SDKCompile()

	names := make([]string, 0, len(sections))
	for n := range sections {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		sec := sections[n]

		if deps, ok := sec["dependencies"].(map[string]any); ok {
			if args := packageArgs(deps); len(args) > 0 {
				// compile-time deps go into the cross sysroot, not the SDK's own
				crossroot := sysroot + "/target-sysroot"

				lines = append(lines,
					"mkdir -p "+shQuote(crossroot),
					dnfInstall(crossroot, root.SDKRepoRelease(), args),
				)
			}
		}

		compile, _ := sec["compile"].(string)
		if compile == "" {
			continue
		}

		script := container.SourceMount + "/" + compile

		lines = append(lines,
			"[ -f "+shQuote(script)+" ]",
			"bash "+shQuote(script),
		)
	}

	if len(lines) == 0 {
		return "", false
	}

	return scriptHeader() + strings.Join(lines, "\n") + "\n", true
}
