package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"github.com/spf13/pflag"

	"github.com/avocado-linux/avocado/pkg/cmd"
	"github.com/avocado-linux/avocado/pkg/lockfile"
	"github.com/avocado-linux/avocado/pkg/ops"
)

const version = "0.1.0"

func main() {
	globals, rest := splitGlobalArgs(os.Args[1:])

	gf := pflag.NewFlagSet("avocado", pflag.ExitOnError)
	logLevel := gf.StringP("log-level", "l", defaultLogLevel(), "log level (trace, debug, info, warn, error)")

	if err := gf.Parse(globals); err != nil {
		log.Fatalln(err)
	}

	hclog.SetDefault(hclog.New(&hclog.LoggerOptions{
		Name:  "avocado",
		Level: hclog.LevelFromString(*logLevel),
	}))

	c := cli.NewCLI("avocado", version)
	c.Args = rest
	c.Commands = map[string]cli.CommandFactory{
		"init": func() (cli.Command, error) {
			return cmd.New(
				"init",
				"Create a new avocado project",
				initF,
			), nil
		},
		"build": func() (cli.Command, error) {
			return cmd.New(
				"build",
				"Build all extensions and runtimes for the target",
				buildF,
			), nil
		},
		"clean": func() (cli.Command, error) {
			return cmd.New(
				"clean",
				"Remove the project's build state",
				cleanF,
			), nil
		},
		"config dump": func() (cli.Command, error) {
			return cmd.New(
				"config dump",
				"Print the composed, interpolated configuration",
				configDumpF,
			), nil
		},
		"ext build": func() (cli.Command, error) {
			return cmd.New(
				"ext build",
				"Build and image one extension",
				extBuildF,
			), nil
		},
		"ext image": func() (cli.Command, error) {
			return cmd.New(
				"ext image",
				"Re-image one extension from its built sysroot",
				extImageF,
			), nil
		},
		"ext fetch": func() (cli.Command, error) {
			return cmd.New(
				"ext fetch",
				"Materialize remote extension sources",
				extFetchF,
			), nil
		},
		"runtime build": func() (cli.Command, error) {
			return cmd.New(
				"runtime build",
				"Build one runtime and its image",
				runtimeBuildF,
			), nil
		},
		"sign file": func() (cli.Command, error) {
			return cmd.New(
				"sign file",
				"Sign a file with a registered key",
				signFileF,
			), nil
		},
		"sign verify": func() (cli.Command, error) {
			return cmd.New(
				"sign verify",
				"Verify a file against its signature",
				signVerifyF,
			), nil
		},
		"sign service": func() (cli.Command, error) {
			return cmd.New(
				"sign service",
				"Serve sign requests on a Unix socket",
				signServiceF,
			), nil
		},
		"signing-keys create": func() (cli.Command, error) {
			return cmd.New(
				"signing-keys create",
				"Create or register a signing key",
				keysCreateF,
			), nil
		},
		"signing-keys list": func() (cli.Command, error) {
			return cmd.New(
				"signing-keys list",
				"List registered signing keys",
				keysListF,
			), nil
		},
		"signing-keys remove": func() (cli.Command, error) {
			return cmd.New(
				"signing-keys remove",
				"Remove a signing key",
				keysRemoveF,
			), nil
		},
		"signing-keys export": func() (cli.Command, error) {
			return cmd.New(
				"signing-keys export",
				"Print a key's public portion",
				keysExportF,
			), nil
		},
		"update init-root": func() (cli.Command, error) {
			return cmd.New(
				"update init-root",
				"Generate a signed TUF root.json for the update authority",
				updateInitRootF,
			), nil
		},
	}

	exitStatus, err := c.Run()
	if err != nil {
		log.Println(err)
	}

	os.Exit(exitStatus)
}

// splitGlobalArgs peels leading flags off the argument list so they can
// be parsed ahead of command dispatch.
func splitGlobalArgs(args []string) ([]string, []string) {
	var globals []string

	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		globals = append(globals, args[0])

		takesValue := (args[0] == "--log-level" || args[0] == "-l") && len(args) > 1

		args = args[1:]

		if takesValue {
			globals = append(globals, args[0])
			args = args[1:]
		}
	}

	return globals, args
}

func defaultLogLevel() string {
	if lvl := os.Getenv("AVOCADO_LOG_LEVEL"); lvl != "" {
		return lvl
	}

	return "warn"
}

func loadProject(configPath, target, containerRuntime string, noStamps bool) (*ops.Project, error) {
	return ops.LoadProject(ops.ProjectOptions{
		ConfigPath:       configPath,
		Target:           target,
		ContainerRuntime: containerRuntime,
		NoStamps:         noStamps,
	}, hclog.L())
}

// takeProjectLock serializes build-state mutation per project.
func takeProjectLock(ctx context.Context, p *ops.Project) (func(), error) {
	var showLock bool

	return lockfile.Take(ctx, filepath.Join(p.Dir, ".avocado", "lock"), func() {
		if !showLock {
			fmt.Printf("Lock detected, waiting...\n")
			showLock = true
		}
	})
}

func initF(ctx context.Context, opts struct {
	Target string `short:"t" long:"target" description:"default target for the new project"`

	Pos struct {
		Dir string `positional-arg-name:"dir"`
	} `positional-args:"yes"`
}) error {
	op := &ops.InitProject{Dir: opts.Pos.Dir, Target: opts.Target}
	op.SetLogger(hclog.L())

	return op.Run(ops.WithUI(ctx, ops.NewUI()))
}

func buildF(ctx context.Context, opts struct {
	Config           string   `short:"c" long:"config" description:"path to the avocado config"`
	Target           string   `short:"t" long:"target" description:"target to build for"`
	Runtimes         []string `short:"r" long:"runtime" description:"runtime to build (repeatable, default all)"`
	ContainerRuntime string   `long:"container-runtime" description:"container runtime binary" default:"docker"`
	NoStamps         bool     `long:"no-stamps" description:"ignore and do not write build stamps"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, opts.NoStamps)
	if err != nil {
		return err
	}

	cleanup, err := takeProjectLock(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	b := &ops.Build{Project: p, Runtimes: opts.Runtimes}
	b.SetLogger(hclog.L())

	return b.Run(ops.WithUI(ctx, ops.NewUI()))
}

func cleanF(ctx context.Context, opts struct {
	Config           string `short:"c" long:"config" description:"path to the avocado config"`
	Target           string `short:"t" long:"target" description:"target whose state to clean"`
	ContainerRuntime string `long:"container-runtime" description:"container runtime binary" default:"docker"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, false)
	if err != nil {
		return err
	}

	cleanup, err := takeProjectLock(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	c := &ops.Clean{Project: p}
	c.SetLogger(hclog.L())

	return c.Run(ops.WithUI(ctx, ops.NewUI()))
}

func configDumpF(ctx context.Context, opts struct {
	Config string `short:"c" long:"config" description:"path to the avocado config"`
	Target string `short:"t" long:"target" description:"target to resolve the config for"`
	Deep   bool   `long:"deep" description:"dump with concrete types for debugging"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, "", true)
	if err != nil {
		return err
	}

	d := &ops.ConfigDump{Project: p, Deep: opts.Deep}
	d.SetLogger(hclog.L())

	return d.Dump(ctx)
}

func extBuildF(ctx context.Context, opts struct {
	Config           string `short:"c" long:"config" description:"path to the avocado config"`
	Target           string `short:"t" long:"target" description:"target to build for"`
	ContainerRuntime string `long:"container-runtime" description:"container runtime binary" default:"docker"`
	NoStamps         bool   `long:"no-stamps" description:"ignore and do not write build stamps"`

	Pos struct {
		Name string `positional-arg-name:"extension" required:"yes"`
	} `positional-args:"yes"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, opts.NoStamps)
	if err != nil {
		return err
	}

	cleanup, err := takeProjectLock(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	b := &ops.Build{Project: p}
	b.SetLogger(hclog.L())

	return b.BuildOneExtension(ops.WithUI(ctx, ops.NewUI()), opts.Pos.Name)
}

func extImageF(ctx context.Context, opts struct {
	Config           string `short:"c" long:"config" description:"path to the avocado config"`
	Target           string `short:"t" long:"target" description:"target to build for"`
	ContainerRuntime string `long:"container-runtime" description:"container runtime binary" default:"docker"`
	NoStamps         bool   `long:"no-stamps" description:"ignore and do not write build stamps"`

	Pos struct {
		Name string `positional-arg-name:"extension" required:"yes"`
	} `positional-args:"yes"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, opts.NoStamps)
	if err != nil {
		return err
	}

	cleanup, err := takeProjectLock(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	b := &ops.Build{Project: p}
	b.SetLogger(hclog.L())

	return b.ImageOneExtension(ops.WithUI(ctx, ops.NewUI()), opts.Pos.Name)
}

func extFetchF(ctx context.Context, opts struct {
	Config   string   `short:"c" long:"config" description:"path to the avocado config"`
	Target   string   `short:"t" long:"target" description:"target to resolve for"`
	Runtimes []string `short:"r" long:"runtime" description:"limit to one runtime's dependencies (repeatable)"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, "", true)
	if err != nil {
		return err
	}

	f := &ops.ExtFetch{Project: p}
	f.SetLogger(hclog.L())

	return f.FetchAll(ops.WithUI(ctx, ops.NewUI()), opts.Runtimes)
}

func runtimeBuildF(ctx context.Context, opts struct {
	Config           string `short:"c" long:"config" description:"path to the avocado config"`
	Target           string `short:"t" long:"target" description:"target to build for"`
	ContainerRuntime string `long:"container-runtime" description:"container runtime binary" default:"docker"`
	NoStamps         bool   `long:"no-stamps" description:"ignore and do not write build stamps"`

	Pos struct {
		Name string `positional-arg-name:"runtime" required:"yes"`
	} `positional-args:"yes"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, opts.NoStamps)
	if err != nil {
		return err
	}

	cleanup, err := takeProjectLock(ctx, p)
	if err != nil {
		return err
	}
	defer cleanup()

	b := &ops.Build{Project: p}
	b.SetLogger(hclog.L())

	return b.BuildOneRuntime(ops.WithUI(ctx, ops.NewUI()), opts.Pos.Name)
}

func signFileF(ctx context.Context, opts struct {
	Key       string `short:"k" long:"key" description:"registered key name" default:"default"`
	Algorithm string `short:"a" long:"algorithm" description:"checksum algorithm" default:"sha256"`
	Manifest  bool   `short:"m" long:"manifest" description:"treat the file as a hash manifest and sign every listed file"`
	Root      string `long:"root" description:"host directory mirroring the volume mount (with --manifest)"`

	Pos struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}) error {
	s := &ops.SignFile{}
	s.SetLogger(hclog.L())

	ctx = ops.WithUI(ctx, ops.NewUI())

	if opts.Manifest {
		return s.SignManifest(ctx, opts.Key, opts.Pos.File, opts.Root)
	}

	sigPath, err := s.Sign(ctx, opts.Key, opts.Pos.File, opts.Algorithm)
	if err != nil {
		return err
	}

	fmt.Println(sigPath)

	return nil
}

func signVerifyF(ctx context.Context, opts struct {
	Key string `short:"k" long:"key" description:"key name to verify against (default: by keyid)"`
	Sig string `long:"sig" description:"signature file (default: <file>.sig)"`

	Pos struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}) error {
	s := &ops.SignFile{}
	s.SetLogger(hclog.L())

	return s.Verify(ops.WithUI(ctx, ops.NewUI()), opts.Key, opts.Pos.File, opts.Sig)
}

func signServiceF(ctx context.Context, opts struct {
	Config           string `short:"c" long:"config" description:"path to the avocado config"`
	Target           string `short:"t" long:"target" description:"target the served runtime builds for"`
	ContainerRuntime string `long:"container-runtime" description:"container runtime binary" default:"docker"`
	Socket           string `short:"s" long:"socket" description:"socket path to listen on" required:"yes"`
	Runtime          string `short:"r" long:"runtime" description:"runtime whose paths may be signed" required:"yes"`
	Key              string `short:"k" long:"key" description:"registered key name" default:"default"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, opts.ContainerRuntime, true)
	if err != nil {
		return err
	}

	svc := &ops.SignService{
		Project:    p,
		SocketPath: opts.Socket,
		Runtime:    opts.Runtime,
		KeyName:    opts.Key,
	}
	svc.SetLogger(hclog.L())

	return svc.Run(ops.WithUI(ctx, ops.NewUI()))
}

func keysCreateF(ctx context.Context, opts struct {
	PKCS11 string `long:"pkcs11-uri" description:"register an existing hardware key instead of generating"`

	Pos struct {
		Name string `positional-arg-name:"name" required:"yes"`
	} `positional-args:"yes"`
}) error {
	k := &ops.SigningKeys{}
	k.SetLogger(hclog.L())

	ctx = ops.WithUI(ctx, ops.NewUI())

	if opts.PKCS11 != "" {
		return k.Register(ctx, opts.Pos.Name, opts.PKCS11)
	}

	return k.Generate(ctx, opts.Pos.Name)
}

func keysListF(ctx context.Context, opts struct{}) error {
	k := &ops.SigningKeys{}
	k.SetLogger(hclog.L())

	return k.List(ctx)
}

func keysRemoveF(ctx context.Context, opts struct {
	Delete bool `long:"delete" description:"also destroy hardware key material"`

	Pos struct {
		Name string `positional-arg-name:"name" required:"yes"`
	} `positional-args:"yes"`
}) error {
	k := &ops.SigningKeys{}
	k.SetLogger(hclog.L())

	return k.Remove(ops.WithUI(ctx, ops.NewUI()), opts.Pos.Name, opts.Delete)
}

func keysExportF(ctx context.Context, opts struct {
	Pos struct {
		Name string `positional-arg-name:"name" required:"yes"`
	} `positional-args:"yes"`
}) error {
	k := &ops.SigningKeys{}
	k.SetLogger(hclog.L())

	return k.Export(ctx, opts.Pos.Name)
}

func updateInitRootF(ctx context.Context, opts struct {
	Config string `short:"c" long:"config" description:"path to the avocado config"`
	Target string `short:"t" long:"target" description:"target to resolve the config for"`
	Key    string `short:"k" long:"key" description:"registered key name (default: the project update key)"`
	Out    string `short:"o" long:"out" description:"output path (default: <project>/root.json)"`
}) error {
	p, err := loadProject(opts.Config, opts.Target, "", true)
	if err != nil {
		return err
	}

	u := &ops.UpdateRoot{Project: p}
	u.SetLogger(hclog.L())

	return u.Generate(ops.WithUI(ctx, ops.NewUI()), opts.Key, opts.Out)
}
