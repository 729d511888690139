package stamps

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// Store holds idempotence markers so a rerun with identical inputs can
// skip finished steps. A disabled store never matches and never writes.
type Store struct {
	dir      string
	disabled bool
	logger   hclog.Logger
}

func New(dir string, disabled bool, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.L()
	}

	return &Store{dir: dir, disabled: disabled, logger: logger}
}

// Hash fingerprints the inputs of a step. The parts are typically the
// step name, the target, and the serialized effective config.
func Hash(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return base58.Encode(sum[:])
}

func (s *Store) path(step, hash string) string {
	return filepath.Join(s.dir, step+"-"+hash+".stamp")
}

// Done reports whether the step already ran with these exact inputs.
func (s *Store) Done(step, hash string) bool {
	if s.disabled {
		return false
	}

	_, err := os.Stat(s.path(step, hash))
	if err == nil {
		s.logger.Debug("stamp hit, skipping step", "step", step)
		return true
	}

	return false
}

// Mark records a finished step.
func (s *Store) Mark(step, hash string) error {
	if s.disabled {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.WithStack(err)
	}

	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"

	return errors.WithStack(os.WriteFile(s.path(step, hash), []byte(stamp), 0644))
}

// Clear drops every stamp, forcing the next run to redo all steps.
func (s *Store) Clear() error {
	err := os.RemoveAll(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}

	return nil
}
