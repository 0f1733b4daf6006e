// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-truststore.
//
// go-truststore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfgFile = writeConfigFile(t, `
server:
  host: 10.0.0.1
  port: 14843
pki:
  dir: /srv/truststore
`)
	t.Cleanup(func() { cfgFile = "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host)
	assert.Equal(t, 14843, cfg.Server.Port)
	assert.Equal(t, "/srv/truststore", cfg.PKI.Dir)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	t.Cleanup(func() { cfgFile = "" })

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	cfgFile = writeConfigFile(t, `
server:
  port: 14843
`)
	t.Cleanup(func() { cfgFile = "" })
	t.Setenv("TRUSTSTORE_SERVER_PORT", "24843")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 24843, cfg.Server.Port)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cfgFile = writeConfigFile(t, `
server:
  port: 999999
`)
	t.Cleanup(func() { cfgFile = "" })

	_, err := loadConfig()
	assert.Error(t, err)
}
