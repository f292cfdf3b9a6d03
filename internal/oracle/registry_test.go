package oracle

import (
	"path/filepath"
	"testing"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()
	key := domain.ThreadKey{SessionID: "s1", Mode: domain.ModeClairvoyant}

	_, ok, err := reg.Lookup(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Store(key, "thread_1"))
	h, ok, err := reg.Lookup(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "thread_1", h)

	_, ok, err = reg.Lookup(domain.ThreadKey{SessionID: "s1", Mode: domain.ModeDissociative})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Forget(key))
	_, ok, err = reg.Lookup(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemoryRegistry())
}

func TestBoltRegistry(t *testing.T) {
	reg, err := OpenBoltRegistry(filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	defer reg.Close()
	exerciseRegistry(t, reg)
}

func TestBoltRegistrySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	key := domain.ThreadKey{SessionID: "s1", Mode: domain.ModeDissociative}

	reg, err := OpenBoltRegistry(path)
	require.NoError(t, err)
	require.NoError(t, reg.Store(key, "thread_9"))
	require.NoError(t, reg.Close())

	reg, err = OpenBoltRegistry(path)
	require.NoError(t, err)
	defer reg.Close()
	h, ok, err := reg.Lookup(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "thread_9", h)
}
