package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteEnv_UsesEnvValueWhenSet(t *testing.T) {
	t.Setenv("TDK_TEST_VAR", "from-env")

	out := substituteEnv([]byte(`listen_address = "${TDK_TEST_VAR}"`))
	assert.Equal(t, `listen_address = "from-env"`, string(out))
}

func TestSubstituteEnv_FallsBackToDefault(t *testing.T) {
	os.Unsetenv("TDK_TEST_UNSET_VAR")

	out := substituteEnv([]byte(`listen_address = "${TDK_TEST_UNSET_VAR:0.0.0.0:9090}"`))
	assert.Equal(t, `listen_address = "0.0.0.0:9090"`, string(out))
}

func TestSubstituteEnv_EmptyDefaultWhenUnsetAndNoFallback(t *testing.T) {
	os.Unsetenv("TDK_TEST_UNSET_VAR_2")

	out := substituteEnv([]byte(`name = "${TDK_TEST_UNSET_VAR_2}"`))
	assert.Equal(t, `name = ""`, string(out))
}

func TestLoadMediatorConfig_NoPathUsesDefaults(t *testing.T) {
	cfg, err := LoadMediatorConfig("")
	require.NoError(t, err)

	want := DefaultMediatorConfig()
	assert.Equal(t, want.ListenAddress, cfg.ListenAddress)
	assert.Equal(t, want.Cache.CapacityCount, cfg.Cache.CapacityCount)
	assert.Equal(t, want.Security.BlockAnonymousOuterEnvelope, cfg.Security.BlockAnonymousOuterEnvelope)
}

func TestLoadMediatorConfig_FileOverridesDefaultsWithEnvSubstitution(t *testing.T) {
	t.Setenv("TDK_TEST_LISTEN", "127.0.0.1:1234")

	dir := t.TempDir()
	path := filepath.Join(dir, "mediator.toml")
	require.NoError(t, os.WriteFile(path, []byte(`listen_address = "${TDK_TEST_LISTEN}"`+"\n"), 0o644))

	cfg, err := LoadMediatorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.ListenAddress)
}

func TestEnvironmentFile_ProfileLookup(t *testing.T) {
	f := EnvironmentFile{
		"prod": Environment{
			Profiles: map[string]Profile{
				"alice": {DID: "did:example:alice"},
			},
			DefaultMediator: "did:example:mediator",
		},
	}

	p, err := f.Profile("prod", "alice")
	require.NoError(t, err)
	assert.Equal(t, "did:example:alice", p.DID)

	_, err = f.Profile("staging", "alice")
	assert.Error(t, err)

	_, err = f.Profile("prod", "bob")
	assert.Error(t, err)
}

func TestEnvironment_ResolveMediator_FallsBackToDefault(t *testing.T) {
	env := Environment{
		Profiles: map[string]Profile{
			"alice": {DID: "did:example:alice"},
			"bob":   {DID: "did:example:bob", Mediator: "did:example:bob-mediator"},
		},
		DefaultMediator: "did:example:default-mediator",
	}

	m, err := env.ResolveMediator("alice")
	require.NoError(t, err)
	assert.Equal(t, "did:example:default-mediator", m)

	m2, err := env.ResolveMediator("bob")
	require.NoError(t, err)
	assert.Equal(t, "did:example:bob-mediator", m2)

	_, err = env.ResolveMediator("unknown")
	assert.Error(t, err)
}
