// Package config handles vecdb configuration.
//
// Configuration is organized per index type plus a storage section, loaded
// from a YAML file with LoadFile or built directly in code, and checked with
// Validate before use.
//
// Example:
//
//	cfg, err := config.LoadFile("vecdb.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level vecdb configuration: one storage backend plus the
// tuning knobs for every supported index type. Which index is actually used
// is a per-Client choice (see pkg/client), not part of this struct.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Flat    FlatConfig    `yaml:"flat"`
	HNSW    HNSWConfig    `yaml:"hnsw"`
	IVF     IVFConfig     `yaml:"ivf"`
	LSH     LSHConfig     `yaml:"lsh"`
	Annoy   AnnoyConfig   `yaml:"annoy"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	// Backend selects "memory", "disk", or "hybrid".
	Backend string `yaml:"backend"`
	// DataDir is the directory for disk/hybrid backends.
	DataDir string `yaml:"data_dir"`
	// SyncWrites forces fsync after each write (disk/hybrid only).
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory trades throughput for a smaller resident set (disk/hybrid only).
	LowMemory bool `yaml:"low_memory"`
	// CacheSize is the bounded LRU cache size for the hybrid backend.
	CacheSize int `yaml:"cache_size"`
}

// FlatConfig configures the exact brute-force index. Flat has no tunable
// approximation parameters; its only setting is the distance metric.
type FlatConfig struct {
	// Metric is one of "cosine", "euclidean", "dot", "manhattan".
	Metric string `yaml:"metric"`
}

// HNSWConfig configures the hierarchical navigable small world graph index.
type HNSWConfig struct {
	Metric string `yaml:"metric"`
	// M is the max number of graph neighbors per node per layer.
	M int `yaml:"m"`
	// EfConstruction controls the candidate list size used while building
	// graph connections; higher values build a better graph more slowly.
	EfConstruction int `yaml:"ef_construction"`
	// EfSearch controls the candidate list size used while searching;
	// higher values improve recall at the cost of latency.
	EfSearch int `yaml:"ef_search"`
	// MaxLevels bounds the number of graph layers.
	MaxLevels int `yaml:"max_levels"`
	// RandomSeed seeds level assignment and, if present, makes graph
	// construction reproducible across reopens. 0 means unseeded.
	RandomSeed int64 `yaml:"random_seed"`
}

// IVFConfig configures the inverted-file index (k-means clustering +
// nearest-centroid probing).
type IVFConfig struct {
	Metric string `yaml:"metric"`
	// NumClusters is the number of k-means centroids (Voronoi cells).
	NumClusters int `yaml:"num_clusters"`
	// NumProbes is how many nearest clusters a search visits.
	NumProbes int `yaml:"num_probes"`
	// MaxIterations caps Lloyd's-algorithm iterations during training.
	MaxIterations int `yaml:"max_iterations"`
	// ConvergenceThreshold stops training early once centroid movement
	// falls below this value.
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	// RandomSeed seeds k-means++ centroid initialization.
	RandomSeed int64 `yaml:"random_seed"`
}

// LSHConfig configures the locality-sensitive hashing index.
type LSHConfig struct {
	Metric string `yaml:"metric"`
	// NumTables is the number of independent hash tables; more tables
	// raise recall at the cost of memory and query time.
	NumTables int `yaml:"num_tables"`
	// NumHashBits is the number of hyperplanes (sign-random-projection)
	// or hash functions (p-stable) combined into each table's bucket key.
	NumHashBits int `yaml:"num_hash_bits"`
	// BucketWidth is the quantization width for p-stable hashing, used
	// only with the Euclidean metric.
	BucketWidth float64 `yaml:"bucket_width"`
	// RandomSeed seeds the hyperplane/projection vectors.
	RandomSeed int64 `yaml:"random_seed"`
}

// AnnoyConfig configures the random-projection forest index.
type AnnoyConfig struct {
	Metric string `yaml:"metric"`
	// NumTrees is the number of independently built trees in the forest;
	// more trees raise recall at the cost of memory and build time.
	NumTrees int `yaml:"num_trees"`
	// MaxLeafSize bounds how many vectors a leaf node holds before it is
	// split by a random hyperplane.
	MaxLeafSize int `yaml:"max_leaf_size"`
	// SearchK is the total number of leaves visited across all trees
	// during search, split evenly per tree (at least one leaf per tree);
	// 0 selects a default of NumTrees*MaxLeafSize.
	SearchK int `yaml:"search_k"`
	// RandomSeed seeds the hyperplane selection during forest construction.
	RandomSeed int64 `yaml:"random_seed"`
}

// Default returns a Config populated with vecdb's default settings: an
// in-memory backend and a cosine metric for every index type.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "memory", CacheSize: 1000},
		Flat:    FlatConfig{Metric: "cosine"},
		HNSW: HNSWConfig{
			Metric:         "cosine",
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
			MaxLevels:      10,
		},
		IVF: IVFConfig{
			Metric:               "cosine",
			NumClusters:          100,
			NumProbes:            8,
			MaxIterations:        25,
			ConvergenceThreshold: 1e-4,
		},
		LSH: LSHConfig{
			Metric:      "cosine",
			NumTables:   5,
			NumHashBits: 8,
			BucketWidth: 4.0,
		},
		Annoy: AnnoyConfig{
			Metric:      "cosine",
			NumTrees:    10,
			MaxLeafSize: 10,
		},
	}
}

// LoadFile reads and parses a YAML configuration file, filling in defaults
// for any field the file omits.
//
// Example:
//
//	cfg, err := config.LoadFile("vecdb.yaml")
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigError reports a configuration value that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func validMetric(m string) bool {
	switch m {
	case "cosine", "euclidean", "dot", "manhattan":
		return true
	default:
		return false
	}
}

// validMetricIn reports whether m (or the default "" meaning cosine) is one
// of allowed, for index types that support only a subset of the four
// metrics.
func validMetricIn(m string, allowed ...string) bool {
	if m == "" {
		m = "cosine"
	}
	for _, a := range allowed {
		if m == a {
			return true
		}
	}
	return false
}

// Validate checks every section for internally-consistent, usable values.
// It does not know which index a Client will actually instantiate, so it
// validates all sections present in the file; a caller that only uses one
// index type may safely ignore errors from the others by validating that
// section's struct directly instead of the whole Config.
func (c *Config) Validate() error {
	if c.Storage.Backend != "memory" && c.Storage.Backend != "disk" && c.Storage.Backend != "hybrid" {
		return &ConfigError{"storage.backend", fmt.Sprintf("unsupported backend %q", c.Storage.Backend)}
	}
	if c.Storage.Backend != "memory" && c.Storage.DataDir == "" {
		return &ConfigError{"storage.data_dir", "required for disk and hybrid backends"}
	}

	if err := c.Flat.Validate(); err != nil {
		return err
	}
	if err := c.HNSW.Validate(); err != nil {
		return err
	}
	if err := c.IVF.Validate(); err != nil {
		return err
	}
	if err := c.LSH.Validate(); err != nil {
		return err
	}
	if err := c.Annoy.Validate(); err != nil {
		return err
	}
	return nil
}

func (c FlatConfig) Validate() error {
	if !validMetric(c.Metric) {
		return &ConfigError{"flat.metric", fmt.Sprintf("unsupported metric %q", c.Metric)}
	}
	return nil
}

func (c HNSWConfig) Validate() error {
	if !validMetricIn(c.Metric, "cosine", "euclidean") {
		return &ConfigError{"hnsw.metric", fmt.Sprintf("unsupported metric %q (hnsw supports cosine, euclidean)", c.Metric)}
	}
	if c.M <= 0 {
		return &ConfigError{"hnsw.m", "must be positive"}
	}
	if c.EfConstruction <= 0 {
		return &ConfigError{"hnsw.ef_construction", "must be positive"}
	}
	if c.EfSearch <= 0 {
		return &ConfigError{"hnsw.ef_search", "must be positive"}
	}
	if c.MaxLevels <= 0 {
		return &ConfigError{"hnsw.max_levels", "must be positive"}
	}
	return nil
}

func (c IVFConfig) Validate() error {
	if !validMetric(c.Metric) {
		return &ConfigError{"ivf.metric", fmt.Sprintf("unsupported metric %q", c.Metric)}
	}
	if c.NumClusters <= 0 {
		return &ConfigError{"ivf.num_clusters", "must be positive"}
	}
	if c.NumProbes <= 0 {
		return &ConfigError{"ivf.num_probes", "must be positive"}
	}
	if c.NumProbes > c.NumClusters {
		return &ConfigError{"ivf.num_probes", "cannot exceed num_clusters"}
	}
	if c.MaxIterations <= 0 {
		return &ConfigError{"ivf.max_iterations", "must be positive"}
	}
	if c.ConvergenceThreshold < 0 {
		return &ConfigError{"ivf.convergence_threshold", "must not be negative"}
	}
	return nil
}

func (c LSHConfig) Validate() error {
	if !validMetricIn(c.Metric, "cosine", "euclidean", "dot") {
		return &ConfigError{"lsh.metric", fmt.Sprintf("unsupported metric %q (lsh excludes manhattan)", c.Metric)}
	}
	if c.NumTables <= 0 {
		return &ConfigError{"lsh.num_tables", "must be positive"}
	}
	if c.NumHashBits <= 0 {
		return &ConfigError{"lsh.num_hash_bits", "must be positive"}
	}
	if c.Metric == "euclidean" && c.BucketWidth <= 0 {
		return &ConfigError{"lsh.bucket_width", "must be positive for the euclidean metric"}
	}
	return nil
}

func (c AnnoyConfig) Validate() error {
	if !validMetric(c.Metric) {
		return &ConfigError{"annoy.metric", fmt.Sprintf("unsupported metric %q", c.Metric)}
	}
	if c.NumTrees <= 0 {
		return &ConfigError{"annoy.num_trees", "must be positive"}
	}
	if c.MaxLeafSize <= 0 {
		return &ConfigError{"annoy.max_leaf_size", "must be positive"}
	}
	if c.SearchK < 0 {
		return &ConfigError{"annoy.search_k", "must not be negative"}
	}
	return nil
}
