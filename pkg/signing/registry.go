package signing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/avocado-linux/avocado/pkg/data"
	"github.com/avocado-linux/avocado/pkg/lockfile"
)

const registryFileName = "keys.json"

var ErrKeyNotFound = errors.New("signing key not found")

// DefaultDir returns the signing-key directory, honoring the container
// override so a container sees the mounted host registry.
func DefaultDir() (string, error) {
	if dir := os.Getenv("AVOCADO_SIGNING_KEYS_DIR"); dir != "" {
		return dir, nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", errors.WithStack(err)
	}

	return filepath.Join(home, ".config", "avocado", "signing-keys"), nil
}

// Registry persists signing-key metadata as a JSON document, with the
// key material for file-backed keys stored alongside it.
type Registry struct {
	dir    string
	logger hclog.Logger
}

func NewRegistry(dir string, logger hclog.Logger) *Registry {
	if logger == nil {
		logger = hclog.L()
	}

	return &Registry{dir: dir, logger: logger}
}

// OpenDefault opens the registry at the default (or overridden) location.
func OpenDefault(logger hclog.Logger) (*Registry, error) {
	dir, err := DefaultDir()
	if err != nil {
		return nil, err
	}

	return NewRegistry(dir, logger), nil
}

func (r *Registry) Dir() string { return r.dir }

func (r *Registry) path() string { return filepath.Join(r.dir, registryFileName) }

// Load reads the registry file. A missing file is an empty registry.
func (r *Registry) Load() (*data.KeyRegistryFile, error) {
	reg := &data.KeyRegistryFile{Keys: map[string]data.SigningKeyEntry{}}

	raw, err := os.ReadFile(r.path())
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}

		return nil, errors.WithStack(err)
	}

	if err := json.Unmarshal(raw, reg); err != nil {
		return nil, errors.Wrapf(err, "parsing key registry %s", r.path())
	}

	if reg.Keys == nil {
		reg.Keys = map[string]data.SigningKeyEntry{}
	}

	return reg, nil
}

// Save writes the registry atomically, guarded by an advisory lock so
// concurrent CLI invocations serialize their updates.
func (r *Registry) Save(ctx context.Context, reg *data.KeyRegistryFile) error {
	if err := os.MkdirAll(r.dir, 0700); err != nil {
		return errors.WithStack(err)
	}

	unlock, err := lockfile.Take(ctx, r.path()+".lock", func() {
		r.logger.Info("waiting on key registry lock", "path", r.path())
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer unlock()

	return r.writeLocked(reg)
}

func (r *Registry) writeLocked(reg *data.KeyRegistryFile) error {
	out, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	tmp := r.path() + ".tmp"

	if err := os.WriteFile(tmp, append(out, '\n'), 0600); err != nil {
		return errors.WithStack(err)
	}

	if err := os.Rename(tmp, r.path()); err != nil {
		os.Remove(tmp)
		return errors.WithStack(err)
	}

	return nil
}

// Add registers a new entry, rejecting duplicate names.
func (r *Registry) Add(ctx context.Context, keyName string, entry data.SigningKeyEntry) error {
	reg, err := r.Load()
	if err != nil {
		return err
	}

	if _, dup := reg.Keys[keyName]; dup {
		return errors.Errorf("signing key '%s' already exists", keyName)
	}

	reg.Keys[keyName] = entry

	return r.Save(ctx, reg)
}

// Remove drops an entry from the registry and returns it. File-backed
// key material is always deleted along with the entry.
func (r *Registry) Remove(ctx context.Context, keyName string) (data.SigningKeyEntry, error) {
	reg, err := r.Load()
	if err != nil {
		return data.SigningKeyEntry{}, err
	}

	entry, ok := reg.Keys[keyName]
	if !ok {
		return data.SigningKeyEntry{}, errors.Wrapf(ErrKeyNotFound, "name '%s'", keyName)
	}

	delete(reg.Keys, keyName)

	if err := r.Save(ctx, reg); err != nil {
		return data.SigningKeyEntry{}, err
	}

	if path, err := ParseFileURI(entry.URI); err == nil {
		os.Remove(path)
		os.Remove(r.PublicKeyPath(entry.KeyID))
	}

	return entry, nil
}

func (r *Registry) Get(keyName string) (data.SigningKeyEntry, error) {
	reg, err := r.Load()
	if err != nil {
		return data.SigningKeyEntry{}, err
	}

	entry, ok := reg.Keys[keyName]
	if !ok {
		return data.SigningKeyEntry{}, errors.Wrapf(ErrKeyNotFound, "name '%s'", keyName)
	}

	return entry, nil
}

// FindByKeyID resolves an entry by keyid, returning its name as well.
func (r *Registry) FindByKeyID(keyid string) (string, data.SigningKeyEntry, error) {
	reg, err := r.Load()
	if err != nil {
		return "", data.SigningKeyEntry{}, err
	}

	for keyName, entry := range reg.Keys {
		if entry.KeyID == keyid {
			return keyName, entry, nil
		}
	}

	return "", data.SigningKeyEntry{}, errors.Wrapf(ErrKeyNotFound, "keyid '%s'", keyid)
}

// Names returns the registered key names, sorted.
func (r *Registry) Names() ([]string, error) {
	reg, err := r.Load()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(reg.Keys))
	for n := range reg.Keys {
		names = append(names, n)
	}

	sort.Strings(names)

	return names, nil
}
