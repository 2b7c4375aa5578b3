package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
)

const credentialsYAML = `
version: "1"
sources:
  - name: warehouse
    adapter: snowflake
    account: xy12345
    user: sampler
    password: ${REPLICA_TEST_SECRET}
    database: SALES
  - name: local
    adapter: postgres
    host: localhost
    port: 5432
targets:
  - name: default
    adapter: postgres
`

func TestParseCredentials(t *testing.T) {
	t.Setenv("REPLICA_TEST_SECRET", "s3cret")

	creds, err := ParseCredentials([]byte(credentialsYAML))
	require.NoError(t, err)

	warehouse, err := creds.Source("warehouse")
	require.NoError(t, err)
	assert.Equal(t, "snowflake", warehouse.Adapter)

	c := warehouse.Credentials()
	assert.Equal(t, "warehouse", c.Profile)
	assert.Equal(t, []string{"account", "database", "password", "user"}, c.Names())
	password, ok := c.Get("password")
	require.True(t, ok)
	assert.Equal(t, "s3cret", password)

	local, err := creds.Source("local")
	require.NoError(t, err)
	assert.Equal(t, "5432", local.Fields["port"], "numeric scalars are kept as text")

	target, err := creds.Target("default")
	require.NoError(t, err)
	assert.Empty(t, target.Fields)

	_, err = creds.Source("missing")
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestParseCredentials_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing adapter": "sources:\n  - name: a\n",
		"duplicate":       "sources:\n  - {name: a, adapter: sqlite}\n  - {name: a, adapter: sqlite}\n",
		"nested value":    "sources:\n  - name: a\n    adapter: sqlite\n    extra: {x: 1}\n",
		"not a mapping":   "sources:\n  - just-a-string\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCredentials([]byte(doc))
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - {name: fixture, adapter: sqlite, path: /tmp/x.db}\n"), 0o600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	require.Len(t, creds.Sources, 1)
	assert.Equal(t, "/tmp/x.db", creds.Sources[0].Fields["path"])

	_, err = LoadCredentials(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
