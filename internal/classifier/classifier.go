// Package classifier merges IP and email risk signals into the final
// signup verdict. Classification itself is pure over the live indexes; the
// only side effect is populating the MX cache the first time a domain is
// seen.
package classifier

import (
	"context"
	"log"
	"strings"

	"signupguard/internal/blocklist"
	"signupguard/internal/mxresolver"
)

// MX cache values. Entries are written once per process lifetime.
const (
	mxValid = "valid_mx"
	mxNone  = "no_mx"
)

// ipScanOrder is the strict consultation order for IP categories. The first
// hit wins and contributes the category's own tier. Note old_attacker_ip is
// consulted before reported_ip even though it carries the lower tier of the
// two groups it sits between.
var ipScanOrder = []string{
	"criminal_network_ip",
	"malicious_ip",
	"tor_network_ip",
	"recent_attacker_ip",
	"week_attacker_ip",
	"suspicious_ip",
	"vpn_ip",
	"datacenter_ip",
	"old_attacker_ip",
	"reported_ip",
}

// trustedProviders are consumer mail domains that downgrade an otherwise
// clean signal to low rather than triggering an MX probe.
var trustedProviders = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"yahoo.com":      {},
	"ymail.com":      {},
	"icloud.com":     {},
	"me.com":         {},
	"mac.com":        {},
	"aol.com":        {},
	"protonmail.com": {},
	"proton.me":      {},
	"zoho.com":       {},
}

// MXLookup is the slice of the resolver the classifier needs.
type MXLookup interface {
	LookupMX(ctx context.Context, domain string) ([]mxresolver.MX, error)
}

// Input carries the optional signals of one classification request.
type Input struct {
	Email string
	IP    string
}

// Verdict is the final (level, reasons) pair.
type Verdict struct {
	Level   blocklist.Tier
	Reasons []string
}

// Classifier evaluates inputs against the live indexes and the MX resolver.
type Classifier struct {
	reg      *blocklist.Registry
	resolver MXLookup
}

func New(reg *blocklist.Registry, resolver MXLookup) *Classifier {
	return &Classifier{reg: reg, resolver: resolver}
}

// Classify produces the final verdict for the given signals. It never
// fails: MX resolution errors collapse to no_mx.
func (c *Classifier) Classify(ctx context.Context, in Input) Verdict {
	return merge(c.classifyIP(in.IP), c.classifyEmail(ctx, in.Email))
}

// classifyIP consults the IP categories in strict order; the first index
// covering the address wins.
func (c *Classifier) classifyIP(ip string) Verdict {
	if ip == "" {
		return Verdict{Level: blocklist.TierNone}
	}
	for _, name := range ipScanOrder {
		if c.reg.MatchIP(name, ip) {
			cat := blocklist.CategoryByName(name)
			return Verdict{Level: cat.Tier, Reasons: []string{name}}
		}
	}
	return Verdict{Level: blocklist.TierNone}
}

// classifyEmail decides on the domain part of the address: disposable and
// privacy lists first, then the trusted-provider set, then MX validation
// through the cache.
func (c *Classifier) classifyEmail(ctx context.Context, email string) Verdict {
	if email == "" {
		return Verdict{Level: blocklist.TierNone}
	}
	domain := emailDomain(email)
	if domain == "" {
		return Verdict{Level: blocklist.TierHigh, Reasons: []string{"invalid_email"}}
	}

	if c.reg.Has("disposable_email", domain) {
		return Verdict{Level: blocklist.TierHigh, Reasons: []string{"disposable_email"}}
	}
	if c.reg.Has("privacy_email", domain) {
		return Verdict{Level: blocklist.TierMedium, Reasons: []string{"privacy_email"}}
	}
	if _, ok := trustedProviders[domain]; ok {
		return Verdict{Level: blocklist.TierLow, Reasons: []string{"free_email"}}
	}

	if c.mxStatus(ctx, domain) == mxValid {
		return Verdict{Level: blocklist.TierNone}
	}
	return Verdict{Level: blocklist.TierHigh, Reasons: []string{"invalid_email"}}
}

// mxStatus returns the cached MX verdict for domain, performing and caching
// a live lookup on first sight. Any resolver error counts as no_mx.
func (c *Classifier) mxStatus(ctx context.Context, domain string) string {
	if v, ok := c.reg.Lookup(blocklist.MXCacheIndex, domain); ok {
		return v
	}

	status := mxNone
	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		log.Printf("[Classifier] MX lookup for %s failed: %v", domain, err)
	} else if len(records) > 0 {
		status = mxValid
	}

	c.reg.Insert(blocklist.MXCacheIndex, domain, status)
	return status
}

// emailDomain extracts the lowercased, trimmed domain after the last '@'.
func emailDomain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// merge combines the IP verdict with the email verdict. The tier is the
// numeric max except for one override: a corporate email with working MX
// cleans a low-tier IP to none. (A free email downgrading a clean IP to low
// already falls out of the max.)
func merge(ip, email Verdict) Verdict {
	if ip.Level == blocklist.TierLow && email.Level == blocklist.TierNone {
		return Verdict{Level: blocklist.TierNone}
	}

	final := ip.Level
	if email.Level > final {
		final = email.Level
	}

	switch {
	case final == email.Level && email.Level != blocklist.TierNone:
		return Verdict{Level: final, Reasons: uniqueConcat(email.Reasons, ip.Reasons)}
	case final == ip.Level:
		return Verdict{Level: final, Reasons: ip.Reasons}
	default:
		return Verdict{Level: final, Reasons: uniqueConcat(email.Reasons, ip.Reasons)}
	}
}

// uniqueConcat appends b after a, dropping duplicates and preserving order.
func uniqueConcat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
