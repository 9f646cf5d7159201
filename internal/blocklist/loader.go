package blocklist

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"signupguard/internal/eventbus"
)

const (
	defaultRefreshInterval = 24 * time.Hour
	defaultRetryInterval   = time.Hour

	snapshotDayFormat = "20060102"
)

var snapshotDirPattern = regexp.MustCompile(`^\d{8}$`)

// Loader owns the blocklist refresh lifecycle: bootstrap from the newest
// on-disk snapshot, periodic re-download, retry on failure, and status
// reporting. A single refresh runs at a time; concurrent update requests
// coalesce into the next run.
type Loader struct {
	reg     *Registry
	fetcher *Fetcher
	cfg     LoaderConfig

	updateCh chan struct{}

	statusMu     sync.Mutex
	lastUpdate   time.Time
	lastStatus   string
	lastError    string
	updateCount  int
	nextUpdateAt time.Time

	now func() time.Time
}

type LoaderConfig struct {
	BaseDir         string
	RefreshInterval time.Duration
	RetryInterval   time.Duration
	Events          *eventbus.Bus
}

// Status is the loader's observable state. Cheap to build: sizes come from
// the in-memory registry, no I/O.
type Status struct {
	LastUpdate    time.Time      `json:"last_update"`
	LastStatus    string         `json:"last_status"`
	LastError     string         `json:"last_error,omitempty"`
	UpdateCount   int            `json:"update_count"`
	NextUpdateAt  time.Time      `json:"next_update_at"`
	CategorySizes map[string]int `json:"per_category_sizes"`
}

func NewLoader(reg *Registry, fetcher *Fetcher, cfg LoaderConfig) *Loader {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	l := &Loader{
		reg:        reg,
		fetcher:    fetcher,
		cfg:        cfg,
		updateCh:   make(chan struct{}, 1),
		lastStatus: "pending",
		now:        time.Now,
	}
	return l
}

// Start bootstraps the indexes and runs the refresh schedule until ctx is
// cancelled. Call from a dedicated goroutine.
func (l *Loader) Start(ctx context.Context) {
	log.Printf("[Loader] Starting (base=%s interval=%s)", l.cfg.BaseDir, l.cfg.RefreshInterval)

	l.bootstrap()

	for {
		l.statusMu.Lock()
		wait := time.Until(l.nextUpdateAt)
		l.statusMu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("[Loader] Stopping")
			return
		case <-timer.C:
		case <-l.updateCh:
			timer.Stop()
			log.Println("[Loader] Manual update requested")
		}

		l.runRefresh(ctx)

		// A trigger that arrived while the refresh ran coalesces with it.
		select {
		case <-l.updateCh:
		default:
		}
	}
}

// UpdateNow asks the loader to refresh as soon as possible. Requests made
// while a refresh is queued or running coalesce into one run.
func (l *Loader) UpdateNow() {
	select {
	case l.updateCh <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the loader's state plus live index sizes.
func (l *Loader) Status() Status {
	l.statusMu.Lock()
	st := Status{
		LastUpdate:   l.lastUpdate,
		LastStatus:   l.lastStatus,
		LastError:    l.lastError,
		UpdateCount:  l.updateCount,
		NextUpdateAt: l.nextUpdateAt,
	}
	l.statusMu.Unlock()

	st.CategorySizes = make(map[string]int, len(Catalog))
	for _, cat := range Catalog {
		st.CategorySizes[cat.Name] = l.reg.Size(cat.Name)
	}
	return st
}

// LoadOnce creates the indexes and promotes the newest on-disk snapshot
// without starting the refresh schedule. Used by one-shot tooling.
func (l *Loader) LoadOnce() error {
	for _, cat := range Catalog {
		l.reg.Create(cat.Name)
	}
	l.reg.Create(MXCacheIndex)
	return l.loadLatestSnapshot()
}

// bootstrap creates every live index (empty) and tries to promote the most
// recent snapshot. Without a usable snapshot the process serves empty
// indexes and fetches immediately.
func (l *Loader) bootstrap() {
	for _, cat := range Catalog {
		l.reg.Create(cat.Name)
	}
	l.reg.Create(MXCacheIndex)

	if err := l.loadLatestSnapshot(); err != nil {
		log.Printf("[Loader] No usable snapshot: %v", err)
		l.statusMu.Lock()
		l.nextUpdateAt = l.now()
		l.statusMu.Unlock()
		return
	}

	l.statusMu.Lock()
	l.lastStatus = "ok"
	l.lastUpdate = l.now()
	l.nextUpdateAt = l.now().Add(l.cfg.RefreshInterval)
	l.statusMu.Unlock()
	l.publish("snapshot_loaded", nil)
}

// loadLatestSnapshot builds staging indexes from the lexicographically
// greatest dated directory under BaseDir and swaps them live.
func (l *Loader) loadLatestSnapshot() error {
	entries, err := os.ReadDir(l.cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", l.cfg.BaseDir, err)
	}

	days := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && snapshotDirPattern.MatchString(e.Name()) {
			days = append(days, e.Name())
		}
	}
	if len(days) == 0 {
		return fmt.Errorf("no snapshot directories under %s", l.cfg.BaseDir)
	}
	sort.Strings(days)
	day := days[len(days)-1]

	dir := filepath.Join(l.cfg.BaseDir, day)
	if err := l.buildStaging(dir); err != nil {
		l.dropStaging()
		return err
	}
	if err := l.swapStaging(); err != nil {
		l.dropStaging()
		return err
	}
	log.Printf("[Loader] Loaded snapshot %s", day)
	return nil
}

// runRefresh executes one full refresh cycle and reschedules.
func (l *Loader) runRefresh(ctx context.Context) {
	start := l.now()
	log.Println("[Loader] Refresh started")
	l.publish("refresh_started", nil)

	err := l.refresh(ctx)

	l.statusMu.Lock()
	l.updateCount++
	if err != nil {
		l.lastStatus = "error"
		l.lastError = err.Error()
		l.nextUpdateAt = l.now().Add(l.cfg.RetryInterval)
	} else {
		l.lastStatus = "ok"
		l.lastError = ""
		l.lastUpdate = l.now()
		l.nextUpdateAt = l.now().Add(l.cfg.RefreshInterval)
	}
	next := l.nextUpdateAt
	l.statusMu.Unlock()

	if err != nil {
		log.Printf("[Loader] Refresh failed after %s: %v (retry at %s)",
			time.Since(start).Round(time.Millisecond), err, next.Format(time.RFC3339))
		l.publish("refresh_failed", map[string]any{"error": err.Error()})
		return
	}
	log.Printf("[Loader] Refresh complete in %s (next at %s)",
		time.Since(start).Round(time.Millisecond), next.Format(time.RFC3339))
	l.publish("refresh_succeeded", nil)
}

// refresh downloads all feeds into today's snapshot directory, builds
// staging indexes from the files, and swaps them live. The previous live
// indexes stay untouched unless every build succeeded.
func (l *Loader) refresh(ctx context.Context) error {
	day := l.now().UTC().Format(snapshotDayFormat)
	dir := filepath.Join(l.cfg.BaseDir, day)

	if err := l.fetcher.FetchAll(ctx, dir); err != nil {
		return err
	}
	if err := l.buildStaging(dir); err != nil {
		l.dropStaging()
		return err
	}
	if err := l.swapStaging(); err != nil {
		l.dropStaging()
		return err
	}
	return nil
}

// buildStaging parses each category's snapshot file into a fresh staging
// index. Any unreadable file fails the whole build.
func (l *Loader) buildStaging(dir string) error {
	for _, cat := range Catalog {
		staging := StagingName(cat.Name)
		l.reg.Delete(staging)
		l.reg.Create(staging)

		path := filepath.Join(dir, cat.Name+".txt")
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrLoadFailed, path, err)
		}
		err = ParseFeed(f, cat.Kind, func(entry string) {
			l.reg.Insert(staging, entry, "true")
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrLoadFailed, path, err)
		}
	}
	return nil
}

// swapStaging promotes every staging index to its live name. A failure here
// leaves the registry mixed; the update is reported failed but the process
// keeps serving.
func (l *Loader) swapStaging() error {
	for _, cat := range Catalog {
		if err := l.reg.Swap(StagingName(cat.Name), cat.Name); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSwapFailed, cat.Name, err)
		}
	}
	return nil
}

func (l *Loader) dropStaging() {
	for _, cat := range Catalog {
		l.reg.Delete(StagingName(cat.Name))
	}
}

func (l *Loader) publish(eventType string, data map[string]any) {
	if l.cfg.Events == nil {
		return
	}
	l.cfg.Events.Publish(eventbus.Event{
		Type:      eventType,
		Timestamp: l.now(),
		Data:      data,
	})
}
