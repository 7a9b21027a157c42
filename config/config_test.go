package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow/config"
)

func TestConfig(t *testing.T) {
	const configContent = `
[server]
addr = "127.0.0.1:9000"
max_upload_bytes = 1048576
sweep_interval = "30s"

[storage]
driver = "sqlite"
path = "/var/lib/signflow/signflow.db"

[blobs]
driver = "s3"
bucket = "signflow-documents"
region = "eu-west-1"
endpoint = "http://localhost:9000"

[redis]
addr = "localhost:6379"

[links]
secret = "0123456789abcdef0123"
base_url = "https://sign.example.com/s/"

[log]
level = "debug"
format = "console"
`

	c, err := config.Decode(configContent)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", c.Server.Addr)
	assert.Equal(t, int64(1<<20), c.Server.MaxUploadBytes)
	assert.Equal(t, 30*time.Second, c.Server.SweepInterval)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, "signflow-documents", c.Blobs.Bucket)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.Equal(t, "signflow:lock:", c.Redis.Prefix, "defaults survive")
	assert.Equal(t, "debug", c.Log.Level)
	assert.False(t, c.Seal.Enabled())
}

func TestValidation(t *testing.T) {
	tests := map[string]string{
		"empty":          ``,
		"short secret":   "[links]\nsecret = \"short\"",
		"unknown driver": "[links]\nsecret = \"0123456789abcdef\"\n[storage]\ndriver = \"postgres\"",
		"sqlite path":    "[links]\nsecret = \"0123456789abcdef\"\n[storage]\ndriver = \"sqlite\"",
		"fs dir":         "[links]\nsecret = \"0123456789abcdef\"\n[blobs]\ndriver = \"fs\"",
		"half seal":      "[links]\nsecret = \"0123456789abcdef\"\n[seal]\ncert = \"seal.pem\"",
		"aws key id":     "[links]\nsecret = \"0123456789abcdef\"\n[seal]\nprovider = \"aws\"\ncert = \"seal.pem\"\nregion = \"eu-west-1\"",
		"azure vault":    "[links]\nsecret = \"0123456789abcdef\"\n[seal]\nprovider = \"azure\"\ncert = \"seal.pem\"\nkey_id = \"seal\"",
		"csc endpoint":   "[links]\nsecret = \"0123456789abcdef\"\n[seal]\nprovider = \"csc\"\nkey_id = \"seal\"",
		"kms provider":   "[links]\nsecret = \"0123456789abcdef\"\n[seal]\nprovider = \"vault\"\ncert = \"seal.pem\"\nkey_id = \"seal\"",
		"negative rate":  "[links]\nsecret = \"0123456789abcdef\"\n[server]\nlink_rps = -1.5",
		"bad level":      "[links]\nsecret = \"0123456789abcdef\"\n[log]\nlevel = \"loud\"",
		"unknown key":    "[links]\nsecret = \"0123456789abcdef\"\nsecrets = \"x\"",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Decode(content)
			assert.Error(t, err)
		})
	}
}

func TestRead(t *testing.T) {
	_, err := config.Read(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "signflow.toml")
	require.NoError(t, os.WriteFile(path, []byte("[links]\nsecret = \"0123456789abcdef\"\n"), 0o600))
	c, err := config.Read(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server, c.Server)
	assert.Equal(t, "memory", c.Blobs.Driver)
}

func TestSealProviders(t *testing.T) {
	tests := map[string]string{
		"file":   "cert = \"seal.pem\"\nkey = \"seal.key\"\nembed_ocsp = true\nembed_crl = true",
		"aws":    "provider = \"aws\"\ncert = \"seal.pem\"\nkey_id = \"alias/seal\"\nregion = \"eu-west-1\"",
		"gcp":    "provider = \"gcp\"\ncert = \"seal.pem\"\nkey_id = \"projects/p/locations/global/keyRings/r/cryptoKeys/seal/cryptoKeyVersions/1\"",
		"azure":  "provider = \"azure\"\ncert = \"seal.pem\"\nkey_id = \"seal\"\nvault = \"https://signflow.vault.azure.net/\"",
		"csc":    "provider = \"csc\"\nendpoint = \"https://sign.example.com/csc/v1\"\nkey_id = \"seal\"\nauth_token = \"Bearer x\"",
		"pkcs11": "provider = \"pkcs11\"\ncert = \"seal.pem\"\nmodule = \"/usr/lib/softhsm/libsofthsm2.so\"\npin = \"1234\"",
	}
	for name, seal := range tests {
		t.Run(name, func(t *testing.T) {
			c, err := config.Decode("[links]\nsecret = \"0123456789abcdef\"\n[seal]\n" + seal)
			require.NoError(t, err)
			assert.True(t, c.Seal.Enabled())
			assert.Equal(t, name, c.Seal.Provider)
		})
	}
}
