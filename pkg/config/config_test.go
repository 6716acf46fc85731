package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "driftwatch.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 10*24*time.Hour, cfg.Engine.ExceptionTTL)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
database:
  path: /var/lib/driftwatch/state.db
engine:
  concurrency: 2
  exception_ttl: 48h
notifier:
  slack_webhook_url: https://hooks.example.test/x
accounts:
  - name: acme
    identifier: "111111111111"
    aliases: ["acme-canonical"]
  - name: vendor
    identifier: "333333333333"
    third_party: true
technologies:
  - name: bucket
    batch_size: 50
    ignore: ["tmp-"]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/driftwatch/state.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Engine.Concurrency)
	assert.Equal(t, 48*time.Hour, cfg.Engine.ExceptionTTL)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts, "default survives partial file")

	require.Len(t, cfg.Accounts, 2)
	assert.True(t, cfg.Accounts[1].ThirdParty)

	tech, ok := cfg.Technology("bucket")
	require.True(t, ok)
	assert.Equal(t, 50, tech.BatchSize)
	assert.Equal(t, []string{"tmp-"}, tech.Ignore)

	_, ok = cfg.Technology("nonsense")
	assert.False(t, ok)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()

	writeAndLoad := func(doc string) error {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		_, err := Load(path)
		return err
	}

	assert.Error(t, writeAndLoad("engine:\n  concurrency: 0\n"))
	assert.Error(t, writeAndLoad("accounts:\n  - name: acme\n"))
	assert.Error(t, writeAndLoad("accounts:\n  - {name: a, identifier: \"1\"}\n  - {name: a, identifier: \"2\"}\n"))
}
