package auth_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/auth"
	"github.com/cuemby/vortexdock/pkg/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "vortexdock.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVerify_NoPasswordSet(t *testing.T) {
	s := newTestStore(t)
	a := auth.New(s)

	ok, err := a.Verify("anything")
	require.ErrorIs(t, err, auth.ErrNoPasswordSet)
	require.False(t, ok)
}

func TestVerify_CorrectAndIncorrectPassword(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, auth.SetPassword(s, "hunter2"))

	a := auth.New(s)
	ok, err := a.Verify("hunter2")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Verify("wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetPassword_SupersedesPrevious(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, auth.SetPassword(s, "first"))
	require.NoError(t, auth.SetPassword(s, "second"))

	a := auth.New(s)
	ok, err := a.Verify("first")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = a.Verify("second")
	require.NoError(t, err)
	require.True(t, ok)
}
