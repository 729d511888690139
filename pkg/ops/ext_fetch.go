package ops

import (
	"context"
	"path/filepath"

	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/fetch"
	"github.com/avocado-linux/avocado/pkg/progress"
)

// ExtFetch materializes remote extension sources ahead of the build so
// later phases run offline.
type ExtFetch struct {
	common

	Project *Project
	Fetcher *fetch.Fetcher
}

func (e *ExtFetch) fetcher() *fetch.Fetcher {
	if e.Fetcher != nil {
		return e.Fetcher
	}

	return fetch.New(e.L())
}

// RemoteDest is where a remote extension's content lands on disk.
func (p *Project) RemoteDest(name string) string {
	return filepath.Join(p.Dir, ".avocado", "remotes", name)
}

// FetchAll materializes every fetchable remote dependency of the
// selected runtimes. Repo-sourced extensions are installed inside the
// container later and have nothing to fetch.
func (e *ExtFetch) FetchAll(ctx context.Context, requested []string) error {
	ui := GetUI(ctx)

	selected, err := e.Project.Composed.SelectRuntimes(requested)
	if err != nil {
		return err
	}

	deps, err := e.Project.Composed.Resolve(selected)
	if err != nil {
		return err
	}

	var fetchable []data.Dependency

	for _, dep := range deps {
		if dep.Kind != data.DepRemote {
			continue
		}

		if dep.Source != nil && dep.Source.Kind == data.SourceRepo {
			ui.Skip("extension %s comes from the package repo", dep.Name)
			continue
		}

		fetchable = append(fetchable, dep)
	}

	if len(fetchable) == 0 {
		ui.Skip("no remote extensions to fetch")
		return nil
	}

	pb := progress.Count(ctx, int64(len(fetchable)), "fetching extensions")
	defer pb.Close()

	for _, dep := range fetchable {
		pb.On(dep.Name)

		if err := e.fetcher().Materialize(ctx, dep, e.Project.RemoteDest(dep.Name)); err != nil {
			ui.Fail("fetching extension %s", dep.Name)
			return err
		}

		ui.Done("fetched extension %s", dep.Name)
		pb.Tick()
	}

	return nil
}
