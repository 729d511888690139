package fetch

import (
	"context"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	getter "github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/fileutils"
)

// Fetcher materializes remote extensions onto the host before their
// build step runs. Repo sources are not fetched here; the package
// manager inside the SDK container owns those.
type Fetcher struct {
	logger hclog.Logger
}

func New(logger hclog.Logger) *Fetcher {
	if logger == nil {
		logger = hclog.L()
	}

	return &Fetcher{logger: logger}
}

// Materialize places the content of a remote dependency at destDir.
// Rerunning over an existing destination replaces it.
func (f *Fetcher) Materialize(ctx context.Context, dep data.Dependency, destDir string) error {
	if dep.Kind != data.DepRemote || dep.Source == nil {
		return errors.Errorf("extension '%s' is not a remote dependency", dep.Name)
	}

	switch dep.Source.Kind {
	case data.SourceGit:
		return f.fetchGit(ctx, dep, destDir)
	case data.SourcePath:
		return f.fetchPath(ctx, dep, destDir)
	case data.SourceRepo:
		f.logger.Debug("repo-sourced extension deferred to the sdk container", "extension", dep.Name)
		return nil
	default:
		return errors.Errorf("extension '%s': unknown source kind '%s'", dep.Name, dep.Source.Kind)
	}
}

func (f *Fetcher) fetchGit(ctx context.Context, dep data.Dependency, destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return errors.WithStack(err)
	}

	f.logger.Info("fetching extension from git", "extension", dep.Name, "url", dep.Source.URL, "ref", dep.Source.Ref)

	repo, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL: dep.Source.URL,
	})
	if err != nil {
		return errors.Wrapf(err, "cloning %s", dep.Source.URL)
	}

	if dep.Source.Ref == "" {
		return nil
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(dep.Source.Ref))
	if err != nil {
		return errors.Wrapf(err, "resolving ref '%s' in %s", dep.Source.Ref, dep.Source.URL)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return errors.WithStack(err)
	}

	err = wt.Checkout(&git.CheckoutOptions{Hash: *hash})
	if err != nil {
		return errors.Wrapf(err, "checking out '%s'", dep.Source.Ref)
	}

	return nil
}

// fetchPath handles both local directories and URL-shaped sources; the
// latter go through go-getter, which understands archives too.
func (f *Fetcher) fetchPath(ctx context.Context, dep data.Dependency, destDir string) error {
	src := dep.Source.Path

	if strings.Contains(src, "://") {
		f.logger.Info("fetching extension", "extension", dep.Name, "source", src)

		err := getter.GetAny(destDir, src, getter.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "fetching '%s'", src)
		}

		return nil
	}

	if _, err := os.Stat(src); err != nil {
		return errors.Wrapf(err, "extension '%s' source path", dep.Name)
	}

	f.logger.Info("copying extension", "extension", dep.Name, "source", src)

	inst := &fileutils.Install{
		Ctx:     ctx,
		L:       f.logger,
		Pattern: src,
		Dest:    destDir,
	}

	return inst.Install()
}
