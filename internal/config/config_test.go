package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"secure-rag-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const zeroKey = "0000000000000000000000000000000000000000000000000000000000000000"

const baseYAML = `
embedding:
  provider: local
  model: nomic-embed-text
  dimensions: 768
vector_store:
  index_name: secure-docs
retrieval:
  chunk_size: 500
  chunk_overlap: 50
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndEnvKey(t *testing.T) {
	t.Setenv("SECURERAG_ENCRYPTION_KEY_HEX", zeroKey)

	c, err := Load(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "local", c.Embedding.Provider)
	assert.Equal(t, 768, c.Embedding.Dimensions)
	assert.Equal(t, 5, c.Embedding.MaxConcurrent)
	assert.Equal(t, "http", c.VectorStore.Backend)
	assert.Equal(t, "cosine", c.VectorStore.SimilarityMetric)
	assert.Equal(t, 500, c.Retrieval.ChunkSize)
	assert.Equal(t, 5, c.Retrieval.MaxContextChunks)
	assert.InDelta(t, 0.7, c.Retrieval.SimilarityThreshold, 1e-9)
	assert.Equal(t, "aes-256-gcm", c.Encryption.Algorithm)
	assert.True(t, c.Encryption.EncryptText)
	assert.Equal(t, zeroKey, c.Encryption.KeyHex)
}

func TestLoad_MissingKeyIsConfigurationError(t *testing.T) {
	t.Setenv("SECURERAG_ENCRYPTION_KEY_HEX", "")

	_, err := Load(writeConfig(t, baseYAML))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
	assert.Contains(t, err.Error(), "missing")
}

func TestEncryptionConfig_ValidateKey(t *testing.T) {
	cases := []struct {
		name string
		key  string
		ok   bool
	}{
		{"valid", zeroKey, true},
		{"short", strings.Repeat("ab", 16), false},
		{"long", strings.Repeat("ab", 33), false},
		{"not hex", strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EncryptionConfig{KeyHex: tc.key}.ValidateKey()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrConfiguration))
			if tc.key != "" {
				assert.NotContains(t, err.Error(), tc.key)
			}
		})
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	valid := func() Config {
		return Config{
			Embedding:   EmbeddingConfig{Provider: "hosted", Dimensions: 3, MaxConcurrent: 2},
			VectorStore: VectorStoreConfig{Backend: "http", IndexName: "idx"},
			Retrieval:   RetrievalConfig{ChunkSize: 20, ChunkOverlap: 5, MaxContextChunks: 3, SimilarityThreshold: 0.7},
			Encryption:  EncryptionConfig{KeyHex: zeroKey},
			Ingest:      IngestConfig{Mode: "inprocess"},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	mutations := map[string]func(c *Config){
		"provider":  func(c *Config) { c.Embedding.Provider = "remote" },
		"dimension": func(c *Config) { c.Embedding.Dimensions = 0 },
		"backend":   func(c *Config) { c.VectorStore.Backend = "milvus" },
		"index":     func(c *Config) { c.VectorStore.IndexName = "" },
		"overlap":   func(c *Config) { c.Retrieval.ChunkOverlap = 20 },
		"threshold": func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 },
		"mode":      func(c *Config) { c.Ingest.Mode = "cron" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrConfiguration))
		})
	}
}

func TestEncryptionConfig_StringRedactsKey(t *testing.T) {
	c := EncryptionConfig{KeyHex: zeroKey, Algorithm: "aes-256-gcm"}
	assert.NotContains(t, fmt.Sprintf("%v", c), zeroKey)
	assert.NotContains(t, fmt.Sprintf("%+v", c), zeroKey)
	assert.NotContains(t, fmt.Sprintf("%#v", c), zeroKey)
}
