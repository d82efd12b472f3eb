package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/skeehn/testpilot/internal/cache"
	"github.com/skeehn/testpilot/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the available LLM backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _, err := cfg.DetectProvider()
		for _, name := range provider.List() {
			marker := " "
			if err == nil && name == active {
				marker = "*"
			}
			c, cerr := provider.New(name, "")
			if cerr != nil {
				continue
			}
			fmt.Printf("%s %-10s default model: %s\n", marker, name, c.DefaultModel())
		}
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the generation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Cache: %s\n", stats.Path)
		fmt.Printf("  Test entries: %d\n", stats.TestEntries)
		fmt.Printf("  Context entries: %d\n", stats.ContextEntries)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openCacheStore() (*cache.Store, error) {
	path := cfg.CachePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	return cache.NewStore(path)
}
