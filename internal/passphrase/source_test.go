package passphrase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvWins(t *testing.T) {
	t.Setenv("TOLSETTLE_TEST_PW", "hunter2")
	s := NewSource("TOLSETTLE_TEST_PW", "pw: ")
	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)

	t.Setenv("TOLSETTLE_TEST_PW", "changed")
	got, err = s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", got, "cached after first use")
}

func TestEmptyEnvAllowed(t *testing.T) {
	t.Setenv("TOLSETTLE_TEST_PW", "")
	got, err := NewSource("TOLSETTLE_TEST_PW", "pw: ").Get()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestNoTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer f.Close()

	s := NewSource("TOLSETTLE_TEST_PW_UNSET", "pw: ")
	s.stdin = f
	_, err = s.Get()
	require.ErrorIs(t, err, ErrNoPassword)
}
