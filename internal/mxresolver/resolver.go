// Package mxresolver fronts a fixed pool of public DNS resolvers for MX
// lookups. It caps the per-upstream query rate with token buckets, rotates
// across the pool round-robin, and pins each query to the single resolver
// it selected — the system resolver is never consulted.
package mxresolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited means every resolver in the pool exhausted its token
	// bucket for the current second. Callers degrade, they do not retry.
	ErrRateLimited = errors.New("rate_limited")

	// ErrLookupFailed covers DNS transport, timeout, and response errors.
	ErrLookupFailed = errors.New("lookup_failed")
)

const (
	defaultBucketCapacity = 100
	defaultQueryTimeout   = 2 * time.Second
)

// Upstream is one public resolver in the pool.
type Upstream struct {
	IP   string
	Port string
	Name string
}

func (u Upstream) addr() string {
	return net.JoinHostPort(u.IP, u.Port)
}

// DefaultPool mirrors the well-known public resolver set the service ships
// with. Order matters only for the rotation start point.
var DefaultPool = []Upstream{
	{IP: "8.8.8.8", Port: "53", Name: "google-1"},
	{IP: "8.8.4.4", Port: "53", Name: "google-2"},
	{IP: "1.1.1.1", Port: "53", Name: "cloudflare-1"},
	{IP: "1.0.0.1", Port: "53", Name: "cloudflare-2"},
	{IP: "9.9.9.9", Port: "53", Name: "quad9-1"},
	{IP: "149.112.112.112", Port: "53", Name: "quad9-2"},
	{IP: "208.67.222.222", Port: "53", Name: "opendns-1"},
	{IP: "208.67.220.220", Port: "53", Name: "opendns-2"},
	{IP: "94.140.14.14", Port: "53", Name: "adguard-1"},
	{IP: "94.140.15.15", Port: "53", Name: "adguard-2"},
}

// MX is one mail exchanger record.
type MX struct {
	Priority uint16 `json:"priority"`
	Host     string `json:"host"`
}

// Resolver is the process-wide MX lookup proxy. Selection state (buckets and
// rotation cursor) is serialized under a short critical section; the DNS I/O
// itself runs outside it, so queries to the same or different upstreams
// proceed in parallel.
type Resolver struct {
	pool    []Upstream
	timeout time.Duration
	client  *dns.Client

	mu      sync.Mutex
	buckets []*rate.Limiter
	cursor  int

	// exchange is swappable in tests; defaults to client.ExchangeContext.
	exchange func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error)
}

type Config struct {
	Pool           []Upstream
	BucketCapacity int
	QueryTimeout   time.Duration
}

func New(cfg Config) (*Resolver, error) {
	pool := cfg.Pool
	if len(pool) == 0 {
		pool = DefaultPool
	}
	if len(pool) < 3 {
		return nil, fmt.Errorf("resolver pool needs at least 3 upstreams, got %d", len(pool))
	}
	capacity := cfg.BucketCapacity
	if capacity <= 0 {
		capacity = defaultBucketCapacity
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	buckets := make([]*rate.Limiter, len(pool))
	for i := range buckets {
		// Capacity tokens per second, refilled continuously. Equivalent
		// budget to a full-bucket refill on a 1s tick.
		buckets[i] = rate.NewLimiter(rate.Limit(capacity), capacity)
	}

	client := &dns.Client{Timeout: timeout}
	r := &Resolver{
		pool:    pool,
		timeout: timeout,
		client:  client,
		buckets: buckets,
	}
	r.exchange = func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
		in, _, err := r.client.ExchangeContext(ctx, msg, addr)
		return in, err
	}
	return r, nil
}

// pick selects the next upstream with budget and consumes one token.
// It scans at most len(pool) resolvers starting at the rotation cursor,
// which advances by one on every successful pick.
func (r *Resolver) pick() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.pool)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if r.buckets[idx].Allow() {
			r.cursor = (r.cursor + 1) % n
			return idx, nil
		}
	}
	return 0, ErrRateLimited
}

// LookupMX resolves the MX record set for domain through one upstream of
// the pool. Results are sorted ascending by priority. An authoritative
// empty answer returns (nil, nil); transport and response failures return
// ErrLookupFailed; an exhausted pool returns ErrRateLimited.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]MX, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if _, ok := dns.IsDomainName(domain); !ok || domain == "" {
		// Malformed labels are expected junk input, not resolver faults.
		log.Printf("[MXResolver] Skipping malformed domain %q", domain)
		return nil, fmt.Errorf("%w: invalid domain %q", ErrLookupFailed, domain)
	}

	idx, err := r.pick()
	if err != nil {
		return nil, err
	}
	up := r.pool[idx]

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	in, err := r.exchange(queryCtx, msg, up.addr())
	if err != nil {
		log.Printf("[MXResolver] %s via %s: %v", domain, up.Name, err)
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		// NXDOMAIN and NOERROR-with-no-answer both mean "no MX".
	default:
		return nil, fmt.Errorf("%w: %s returned %s", ErrLookupFailed, up.Name, dns.RcodeToString[in.Rcode])
	}

	records := make([]MX, 0, len(in.Answer))
	for _, ans := range in.Answer {
		if mx, ok := ans.(*dns.MX); ok {
			records = append(records, MX{
				Priority: mx.Preference,
				Host:     strings.TrimSuffix(mx.Mx, "."),
			})
		}
	}
	if len(records) == 0 {
		return nil, nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})
	return records, nil
}

// PoolSize returns the number of upstreams in the pool.
func (r *Resolver) PoolSize() int {
	return len(r.pool)
}
