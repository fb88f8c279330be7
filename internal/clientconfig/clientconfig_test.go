package clientconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withTempConfigDir(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestCreateFirstContextBecomesDefault(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "tunnel.example.com:8080"))

	ctx, err := Resolve("")
	require.NoError(t, err)
	require.Equal(t, "prod", ctx.Name)
	require.Equal(t, "tunnel.example.com:8080", ctx.ServerAddr())
}

func TestCreateReplacesExistingContextByName(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "old.example.com:8080"))
	require.NoError(t, Create("prod", "new.example.com:8080"))

	contexts, err := List()
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	require.Equal(t, "new.example.com:8080", contexts[0].ServerAddr())
}

func TestSetDefaultUnknownContextFails(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "tunnel.example.com:8080"))
	err := SetDefault("staging")
	require.Error(t, err)
}

func TestSetDefaultSwitchesResolve(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "prod.example.com:8080"))
	require.NoError(t, Create("staging", "staging.example.com:8080"))
	require.NoError(t, SetDefault("staging"))

	ctx, err := Resolve("")
	require.NoError(t, err)
	require.Equal(t, "staging", ctx.Name)
}

func TestResolveNamedContext(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "prod.example.com:8080"))
	require.NoError(t, Create("staging", "staging.example.com:8080"))

	ctx, err := Resolve("prod")
	require.NoError(t, err)
	require.Equal(t, "prod.example.com:8080", ctx.ServerAddr())
}

func TestResolveWithNoContextsFails(t *testing.T) {
	withTempConfigDir(t)

	_, err := Resolve("")
	require.Error(t, err)
}

func TestSaveTokenPersists(t *testing.T) {
	withTempConfigDir(t)

	require.NoError(t, Create("prod", "prod.example.com:8080"))
	require.NoError(t, SaveToken("sometoken"))

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sometoken", s.UserToken)
}
