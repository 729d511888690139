package stamps

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	t.Run("mark then done", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "stamps"), false, nil)

		h := Hash("ext-build", "qemux86-64", "config-body")

		assert.False(t, s.Done("ext-build", h))
		require.NoError(t, s.Mark("ext-build", h))
		assert.True(t, s.Done("ext-build", h))
	})

	t.Run("different inputs different hash", func(t *testing.T) {
		a := Hash("ext-build", "qemux86-64", "one")
		b := Hash("ext-build", "qemux86-64", "two")

		assert.NotEqual(t, a, b)
	})

	t.Run("disabled store never matches", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "stamps"), true, nil)

		h := Hash("step", "in")

		require.NoError(t, s.Mark("step", h))
		assert.False(t, s.Done("step", h))
	})

	t.Run("clear forgets everything", func(t *testing.T) {
		s := New(filepath.Join(t.TempDir(), "stamps"), false, nil)

		h := Hash("step", "in")
		require.NoError(t, s.Mark("step", h))
		require.NoError(t, s.Clear())

		assert.False(t, s.Done("step", h))
	})
}
