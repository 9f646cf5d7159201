package blocklist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Refresh error kinds observable through loader status.
var (
	ErrDownloadFailed = errors.New("download_failed")
	ErrLoadFailed     = errors.New("load_failed")
	ErrSwapFailed     = errors.New("swap_failed")
)

const (
	defaultMaxInFlight  = 5
	defaultFetchTimeout = 10 * time.Minute
)

// Fetcher downloads every feed in the catalog into a snapshot directory.
type Fetcher struct {
	client      *http.Client
	maxInFlight int
	timeout     time.Duration
	urls        map[string]string // per-category URL overrides
}

type FetcherConfig struct {
	Client      *http.Client
	MaxInFlight int
	Timeout     time.Duration
	URLOverride map[string]string
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	f := &Fetcher{
		client:      cfg.Client,
		maxInFlight: cfg.MaxInFlight,
		timeout:     cfg.Timeout,
		urls:        cfg.URLOverride,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.maxInFlight <= 0 {
		f.maxInFlight = defaultMaxInFlight
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	return f
}

// FetchAll downloads every category's feed into dir, bounded to maxInFlight
// concurrent requests with a per-request deadline. It succeeds only if every
// category succeeded; otherwise it returns ErrDownloadFailed. Partial files
// may remain on disk — callers only promote the directory on success.
func (f *Fetcher) FetchAll(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	sem := make(chan struct{}, f.maxInFlight)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, cat := range Catalog {
		wg.Add(1)
		go func(cat Category) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := f.fetchOne(ctx, cat, dir); err != nil {
				log.Printf("[Fetcher] %s: %v", cat.Name, err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(cat)
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d feeds failed", ErrDownloadFailed, failed, len(Catalog))
	}
	return nil
}

func (f *Fetcher) fetchOne(ctx context.Context, cat Category, dir string) error {
	url := cat.URL
	if override, ok := f.urls[cat.Name]; ok {
		url = override
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "signupguard/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	path := filepath.Join(dir, cat.Name+".txt")
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
