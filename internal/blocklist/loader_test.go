package blocklist

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupguard/internal/eventbus"
)

// writeSnapshot materializes a dated snapshot directory where every category
// file holds the given lines.
func writeSnapshot(t *testing.T, baseDir, day string, lines map[string]string) {
	t.Helper()
	dir := filepath.Join(baseDir, day)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, cat := range Catalog {
		content := lines[cat.Name]
		require.NoError(t, os.WriteFile(filepath.Join(dir, cat.Name+".txt"), []byte(content), 0o644))
	}
}

func TestLoader_BootstrapPicksGreatestSnapshot(t *testing.T) {
	baseDir := t.TempDir()
	writeSnapshot(t, baseDir, "20260820", map[string]string{"malicious_ip": "9.9.9.1\n"})
	writeSnapshot(t, baseDir, "20260822", map[string]string{"malicious_ip": "9.9.9.2\n"})
	writeSnapshot(t, baseDir, "20260821", map[string]string{"malicious_ip": "9.9.9.3\n"})

	reg := NewRegistry()
	l := NewLoader(reg, NewFetcher(FetcherConfig{}), LoaderConfig{BaseDir: baseDir})
	l.bootstrap()

	assert.True(t, reg.Has("malicious_ip", "9.9.9.2"), "entries from the newest day expected")
	assert.False(t, reg.Has("malicious_ip", "9.9.9.1"), "entries from older days must not load")

	st := l.Status()
	assert.Equal(t, "ok", st.LastStatus)
	assert.Equal(t, 1, st.CategorySizes["malicious_ip"])
}

func TestLoader_BootstrapWithoutSnapshotServesEmpty(t *testing.T) {
	reg := NewRegistry()
	l := NewLoader(reg, NewFetcher(FetcherConfig{}), LoaderConfig{BaseDir: t.TempDir()})
	l.bootstrap()

	// Every index exists and is empty; an immediate refresh is scheduled.
	for _, cat := range Catalog {
		assert.True(t, reg.Exists(cat.Name), cat.Name)
		assert.Zero(t, reg.Size(cat.Name), cat.Name)
	}
	assert.True(t, reg.Exists(MXCacheIndex))

	st := l.Status()
	assert.Equal(t, "pending", st.LastStatus)
	assert.False(t, st.NextUpdateAt.After(time.Now()))
}

func TestLoader_NonSnapshotDirsIgnored(t *testing.T) {
	baseDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "tmp"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, "2026082"), 0o755))

	reg := NewRegistry()
	l := NewLoader(reg, NewFetcher(FetcherConfig{}), LoaderConfig{BaseDir: baseDir})
	require.Error(t, l.LoadOnce())
}

func TestLoader_RefreshSwapsNewData(t *testing.T) {
	urls, _ := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/malicious_ip":
			w.Write([]byte("# export\n5.5.5.5\n"))
		case "/disposable_email":
			w.Write([]byte("MailDrop.CC\n"))
		default:
			w.Write([]byte(""))
		}
	})

	baseDir := t.TempDir()
	reg := NewRegistry()
	events := eventbus.New()
	defer events.Close()

	l := NewLoader(reg, NewFetcher(FetcherConfig{URLOverride: urls}), LoaderConfig{
		BaseDir: baseDir,
		Events:  events,
	})
	l.bootstrap()

	received := make(chan eventbus.Event, 10)
	events.SubscribeAll([]string{"refresh_started", "refresh_succeeded", "refresh_failed"}, received)

	l.runRefresh(context.Background())

	assert.True(t, reg.Has("malicious_ip", "5.5.5.5"))
	assert.True(t, reg.Has("disposable_email", "maildrop.cc"), "email entries must be lowercased")

	st := l.Status()
	assert.Equal(t, "ok", st.LastStatus)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 1, st.UpdateCount)
	assert.True(t, st.NextUpdateAt.After(time.Now()))

	// Snapshot directory persisted for the next boot.
	day := time.Now().UTC().Format("20060102")
	_, err := os.Stat(filepath.Join(baseDir, day, "malicious_ip.txt"))
	assert.NoError(t, err)

	types := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case evt := <-received:
			types = append(types, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("missing lifecycle event")
		}
	}
	assert.Equal(t, []string{"refresh_started", "refresh_succeeded"}, types)
}

func TestLoader_FailedRefreshKeepsLiveIndexes(t *testing.T) {
	baseDir := t.TempDir()
	writeSnapshot(t, baseDir, "20260820", map[string]string{"malicious_ip": "9.9.9.9\n"})

	urls, _ := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	reg := NewRegistry()
	l := NewLoader(reg, NewFetcher(FetcherConfig{URLOverride: urls}), LoaderConfig{
		BaseDir:       baseDir,
		RetryInterval: time.Minute,
	})
	l.bootstrap()
	require.True(t, reg.Has("malicious_ip", "9.9.9.9"))

	l.runRefresh(context.Background())

	assert.True(t, reg.Has("malicious_ip", "9.9.9.9"), "failed refresh must not disturb live indexes")

	st := l.Status()
	assert.Equal(t, "error", st.LastStatus)
	assert.Contains(t, st.LastError, "download_failed")
	assert.Equal(t, 1, st.UpdateCount)
	// Retry scheduled on the short interval, not the refresh interval.
	assert.True(t, st.NextUpdateAt.Before(time.Now().Add(2*time.Minute)))
}

func TestLoader_RefreshMissingFileIsLoadFailed(t *testing.T) {
	baseDir := t.TempDir()
	reg := NewRegistry()
	l := NewLoader(reg, NewFetcher(FetcherConfig{}), LoaderConfig{BaseDir: baseDir})
	l.bootstrap()

	// A snapshot directory that exists but lacks category files.
	day := time.Now().UTC().Format("20060102")
	require.NoError(t, os.MkdirAll(filepath.Join(baseDir, day), 0o755))

	err := l.buildStaging(filepath.Join(baseDir, day))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoadFailed))
	l.dropStaging()

	for _, cat := range Catalog {
		assert.False(t, reg.Exists(StagingName(cat.Name)), "staging must be dropped on failure")
	}
}

func TestLoader_UpdateNowCoalesces(t *testing.T) {
	l := NewLoader(NewRegistry(), NewFetcher(FetcherConfig{}), LoaderConfig{BaseDir: t.TempDir()})

	// Many triggers collapse into a single queued update.
	for i := 0; i < 5; i++ {
		l.UpdateNow()
	}
	assert.Len(t, l.updateCh, 1)
}

func TestLoader_StartStopsOnCancel(t *testing.T) {
	baseDir := t.TempDir()
	writeSnapshot(t, baseDir, "20260820", nil)

	l := NewLoader(NewRegistry(), NewFetcher(FetcherConfig{}), LoaderConfig{
		BaseDir:         baseDir,
		RefreshInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loader did not stop on context cancel")
	}
}
