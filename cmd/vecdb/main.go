// Command vecdb is a thin CLI wrapper around pkg/client, useful for smoke
// testing a configuration and for scripted inserts/searches against a
// disk-backed collection.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecdb/pkg/client"
	"github.com/orneryd/vecdb/pkg/config"
	"github.com/orneryd/vecdb/pkg/index"
	"github.com/orneryd/vecdb/pkg/storage"
)

var (
	configPath string
	indexType  string
)

func main() {
	root := &cobra.Command{
		Use:   "vecdb",
		Short: "Embedded vector database command-line tool",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults omitted fields)")
	root.PersistentFlags().StringVar(&indexType, "index", "flat", "index type: flat, hnsw, ivf, lsh, annoy")

	root.AddCommand(insertCmd(), searchCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(configPath)
}

func buildClient(cfg *config.Config) (*client.Client, error) {
	var backend storage.Backend
	var err error
	switch cfg.Storage.Backend {
	case "memory", "":
		backend = storage.NewMemoryBackend()
	case "disk":
		backend, err = storage.NewDiskBackendWithOptions(storage.DiskOptions{
			DataDir:    cfg.Storage.DataDir,
			SyncWrites: cfg.Storage.SyncWrites,
			LowMemory:  cfg.Storage.LowMemory,
		})
	case "hybrid":
		backend, err = storage.NewHybridBackendWithOptions(storage.DiskOptions{
			DataDir:    cfg.Storage.DataDir,
			SyncWrites: cfg.Storage.SyncWrites,
			LowMemory:  cfg.Storage.LowMemory,
		}, cfg.Storage.CacheSize)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	var idx index.Index
	switch indexType {
	case "flat", "":
		idx, err = index.NewFlatIndex(cfg.Flat)
	case "hnsw":
		idx, err = index.NewHNSWIndex(cfg.HNSW)
	case "ivf":
		idx, err = index.NewIVFIndex(cfg.IVF)
	case "lsh":
		idx, err = index.NewLSHIndex(cfg.LSH)
	case "annoy":
		idx, err = index.NewAnnoyIndex(cfg.Annoy)
	default:
		return nil, fmt.Errorf("unknown index type %q", indexType)
	}
	if err != nil {
		return nil, err
	}

	c := client.New(backend, idx)
	if err := c.Initialize(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseVector(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = v
	}
	return vec, nil
}

func insertCmd() *cobra.Command {
	var vec, meta string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert a vector into the configured collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := parseVector(vec)
			if err != nil {
				return err
			}
			var m storage.Metadata
			if meta != "" {
				if err := json.Unmarshal([]byte(meta), &m); err != nil {
					return fmt.Errorf("invalid metadata JSON: %w", err)
				}
			}

			id, err := c.Insert(v, m)
			if err != nil {
				return err
			}
			fmt.Printf("id=%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&vec, "vector", "", "comma-separated vector components")
	cmd.Flags().StringVar(&meta, "metadata", "", "JSON metadata object")
	cmd.MarkFlagRequired("vector")
	return cmd
}

func searchCmd() *cobra.Command {
	var vec string
	var k int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search for the k nearest neighbors of a query vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			v, err := parseVector(vec)
			if err != nil {
				return err
			}
			results, err := c.Search(v, k)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	cmd.Flags().StringVar(&vec, "vector", "", "comma-separated query vector components")
	cmd.Flags().IntVar(&k, "k", 10, "number of results to return")
	cmd.MarkFlagRequired("vector")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print combined storage and index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, err := buildClient(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := c.GetStats()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
