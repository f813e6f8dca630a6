package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	saved := Keys
	defer func() { Keys = saved }()

	Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Equal(t, ":8080", Keys.Addr)
	require.Equal(t, "./var/shadow.db", Keys.Storage.SqlitePath)
}

func TestInitDecodesAndOverridesDefaults(t *testing.T) {
	saved := Keys
	defer func() { Keys = saved }()

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"addr": ":9999",
		"storage": {"sqlite-path": "/tmp/shadow.db"},
		"nats": {"url": "nats://fabric:4222"},
		"subscription": {"min-interval-seconds": 2, "max-interval-seconds": 30}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	Init(path)
	require.Equal(t, ":9999", Keys.Addr)
	require.Equal(t, "/tmp/shadow.db", Keys.Storage.SqlitePath)
	require.Equal(t, "nats://fabric:4222", Keys.Nats.URL)
	require.EqualValues(t, 2, Keys.Subscription.MinIntervalSeconds)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	saved := Keys
	defer func() { Keys = saved }()

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"storage": {"sqlite-path": "/tmp/shadow.db"},
		"nats": {"url": "nats://fabric:4222"},
		"bogusField": true
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	err := Validate(Schema, mustOpen(t, path))
	require.Error(t, err)
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}
