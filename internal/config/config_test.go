package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir string
}

func (s *ConfigSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_ADDR", "AI_SERVICE_URL", "AI_SERVICE_TIMEOUT",
		"CLUSTERING_ALGORITHM", "CLUSTERING_DISTANCE_THRESHOLD",
		"CLUSTERING_MIN_TOPICS", "CLUSTERING_MAX_TOPICS",
		"INCREMENTAL_SIMILARITY_THRESHOLD",
	} {
		os.Unsetenv(key)
	}
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal("hierarchical", cfg.Clustering.Algorithm)
	s.Equal(0.6, cfg.Clustering.DistanceThreshold)
	s.Equal(5, cfg.Clustering.MinTopics)
	s.Equal(10, cfg.Clustering.MaxTopics)
	s.Equal(10, cfg.Clustering.RankLimit)
	s.Equal(0.5, cfg.Assignment.SimilarityThreshold)
	s.Equal(30, cfg.Assignment.LookbackMinutes)
	s.Equal(50, cfg.Enrichment.BatchSize)
	s.Equal(10*time.Second, cfg.Enrichment.TriggerDelay)
	s.NoError(cfg.Validate())
}

func (s *ConfigSuite) TestLoadMissingFileUsesDefaults() {
	cfg, err := Load(filepath.Join(s.tempDir, "nope.yaml"))
	s.Require().NoError(err)
	s.Equal(Default().Clustering.Algorithm, cfg.Clustering.Algorithm)
}

func (s *ConfigSuite) TestLoadYAML() {
	path := filepath.Join(s.tempDir, "topica.yaml")
	data := []byte(`
clustering:
  algorithm: kmeans
  kmeans_topics: 4
assignment:
  similarity_threshold: 0.65
  lookback_minutes: 15
`)
	s.Require().NoError(os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal("kmeans", cfg.Clustering.Algorithm)
	s.Equal(4, cfg.Clustering.KMeansTopics)
	s.Equal(0.65, cfg.Assignment.SimilarityThreshold)
	s.Equal(15, cfg.Assignment.LookbackMinutes)
	// Untouched knobs keep their defaults.
	s.Equal(10, cfg.Clustering.MaxTopics)
}

func (s *ConfigSuite) TestEnvOverridesFile() {
	path := filepath.Join(s.tempDir, "topica.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("clustering:\n  algorithm: kmeans\n"), 0o644))

	os.Setenv("CLUSTERING_ALGORITHM", "dbscan")
	defer os.Unsetenv("CLUSTERING_ALGORITHM")

	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Equal("dbscan", cfg.Clustering.Algorithm)
}

func (s *ConfigSuite) TestValidate_TableDriven() {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad algorithm", func(c *Config) { c.Clustering.Algorithm = "spectral" }, false},
		{"inverted band", func(c *Config) { c.Clustering.MinTopics = 8; c.Clustering.MaxTopics = 3 }, false},
		{"threshold above one", func(c *Config) { c.Assignment.SimilarityThreshold = 1.5 }, false},
		{"oversized batch", func(c *Config) { c.Enrichment.BatchSize = 200 }, false},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				s.NoError(err)
			} else {
				s.Error(err)
			}
		})
	}
}

func (s *ConfigSuite) TestDynamicSnapshot() {
	cfg := Default()
	dyn := NewDynamic(cfg)

	snap := dyn.Snapshot()
	s.Equal(0.5, snap.SimilarityThreshold)

	cfg.Assignment.SimilarityThreshold = 0.7
	dyn.Store(cfg)
	s.Equal(0.7, dyn.Snapshot().SimilarityThreshold)
	// Prior snapshot is immutable.
	s.Equal(0.5, snap.SimilarityThreshold)
}
