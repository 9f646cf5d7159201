package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"signupguard/internal/blocklist"
	"signupguard/internal/classifier"
	"signupguard/internal/mxresolver"
)

// Classify a single email/IP pair against the newest local snapshot,
// without starting the HTTP server.
//
//	EMAIL=foo@example.com IP=1.2.3.4 go run ./cmd/tools/check_target
func main() {
	email := os.Getenv("EMAIL")
	ip := os.Getenv("IP")
	if email == "" && ip == "" {
		log.Fatal("Set EMAIL and/or IP")
	}

	baseDir := "priv/blocklists"
	if d := os.Getenv("BLOCKLIST_DIR"); d != "" {
		baseDir = d
	}

	registry := blocklist.NewRegistry()
	loader := blocklist.NewLoader(registry, blocklist.NewFetcher(blocklist.FetcherConfig{}), blocklist.LoaderConfig{
		BaseDir: baseDir,
	})
	if err := loader.LoadOnce(); err != nil {
		log.Printf("Warning: no snapshot loaded, matching against empty indexes: %v", err)
	}

	resolver, err := mxresolver.New(mxresolver.Config{})
	if err != nil {
		log.Fatalf("Failed to build MX resolver: %v", err)
	}

	cls := classifier.New(registry, resolver)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	verdict := cls.Classify(ctx, classifier.Input{Email: email, IP: ip})
	fmt.Printf("risk_level: %s\n", verdict.Level)
	fmt.Printf("reasons:    %v\n", verdict.Reasons)
}
