package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"signupguard/internal/api"
	"signupguard/internal/blocklist"
	"signupguard/internal/classifier"
	"signupguard/internal/config"
	"signupguard/internal/eventbus"
	"signupguard/internal/mxresolver"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config: optional YAML file, env vars win.
	var cfg config.Config
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", path, err)
		}
		cfg = *loaded
		log.Printf("Loaded config file %s", path)
	}

	getEnvStr := func(key, fileVal, defaultVal string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if fileVal != "" {
			return fileVal
		}
		return defaultVal
	}
	getEnvInt := func(key string, fileVal, defaultVal int) int {
		if valStr := os.Getenv(key); valStr != "" {
			if val, err := strconv.Atoi(valStr); err == nil {
				return val
			}
		}
		if fileVal != 0 {
			return fileVal
		}
		return defaultVal
	}

	apiPort := getEnvStr("PORT", cfg.Port, "8080")
	baseDir := getEnvStr("BLOCKLIST_DIR", cfg.BlocklistDir, "priv/blocklists")
	refreshHours := getEnvInt("REFRESH_INTERVAL_HOURS", cfg.RefreshIntervalHours, 24)
	retryMin := getEnvInt("RETRY_INTERVAL_MIN", cfg.RetryIntervalMin, 60)
	jwtSecret := getEnvStr("ADMIN_JWT_SECRET", cfg.AdminJWTSecret, "")
	bucketCap := getEnvInt("MX_BUCKET_CAPACITY", cfg.ResolverBucketCap, 100)
	mxTimeoutMS := getEnvInt("MX_QUERY_TIMEOUT_MS", cfg.MXQueryTimeoutMS, 2000)

	log.Println("Initializing signupguard...")
	log.Printf("Blocklist dir: %s", baseDir)
	log.Printf("API Port: %s", apiPort)
	log.Printf("Refresh interval: %dh (retry %dm)", refreshHours, retryMin)

	// 2. Dependencies
	events := eventbus.New()
	defer events.Close()

	registry := blocklist.NewRegistry()

	fetcher := blocklist.NewFetcher(blocklist.FetcherConfig{
		URLOverride: cfg.FeedURLs,
	})

	loader := blocklist.NewLoader(registry, fetcher, blocklist.LoaderConfig{
		BaseDir:         baseDir,
		RefreshInterval: time.Duration(refreshHours) * time.Hour,
		RetryInterval:   time.Duration(retryMin) * time.Minute,
		Events:          events,
	})

	var pool []mxresolver.Upstream
	for _, rc := range cfg.Resolvers {
		port := rc.Port
		if port == "" {
			port = "53"
		}
		pool = append(pool, mxresolver.Upstream{IP: rc.IP, Port: port, Name: rc.Name})
	}
	resolver, err := mxresolver.New(mxresolver.Config{
		Pool:           pool,
		BucketCapacity: bucketCap,
		QueryTimeout:   time.Duration(mxTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("Failed to build MX resolver: %v", err)
	}
	log.Printf("MX resolver pool: %d upstreams, %d qps each", resolver.PoolSize(), bucketCap)

	cls := classifier.New(registry, resolver)

	api.BuildCommit = BuildCommit
	apiServer := api.NewServer(cls, loader, events, apiPort, jwtSecret)

	// 3. Run
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		loader.Start(ctx)
	}()

	// Start API in background
	go func() {
		log.Printf("Starting API Server on :%s", apiPort)
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API Server failed: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()
}
