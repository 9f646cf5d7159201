package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"signupguard/internal/blocklist"
)

// One-shot feed download into today's snapshot directory. Useful for seeding
// a deployment before first boot or for cron-driven refreshes outside the
// service process.
func main() {
	baseDir := "priv/blocklists"
	if d := os.Getenv("BLOCKLIST_DIR"); d != "" {
		baseDir = d
	}

	day := time.Now().UTC().Format("20060102")
	dir := filepath.Join(baseDir, day)

	fetcher := blocklist.NewFetcher(blocklist.FetcherConfig{})

	log.Printf("Fetching %d feeds into %s...", len(blocklist.Catalog), dir)
	start := time.Now()
	if err := fetcher.FetchAll(context.Background(), dir); err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	fmt.Printf("Done in %s. Snapshot files:\n", time.Since(start).Round(time.Second))
	for _, cat := range blocklist.Catalog {
		path := filepath.Join(dir, cat.Name+".txt")
		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("  %-22s MISSING (%v)\n", cat.Name, err)
			continue
		}
		fmt.Printf("  %-22s %d bytes\n", cat.Name, info.Size())
	}
}
