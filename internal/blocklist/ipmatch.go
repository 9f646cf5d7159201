package blocklist

import (
	"log"
	"net/netip"
	"strings"
	"time"
)

// How long a parsed-CIDR cache stays valid before it is rebuilt from the
// index. Swaps invalidate it immediately.
const cidrCacheTTL = 5 * time.Minute

type cidrEntry struct {
	base uint32
	mask uint32
}

// MatchIP reports whether ip (a dotted-quad IPv4 string) is covered by the
// named index, either as an exact entry or inside one of its CIDR ranges.
// Syntactically invalid input never matches.
func (r *Registry) MatchIP(name, ip string) bool {
	query, ok := parseIPv4(ip)
	if !ok {
		log.Printf("[IPMatcher] Rejecting malformed IPv4 %q", ip)
		return false
	}

	idx := r.get(name)
	if idx == nil {
		return false
	}

	idx.mu.RLock()
	_, exact := idx.entries[ip]
	idx.mu.RUnlock()
	if exact {
		return true
	}

	for _, c := range idx.cidrEntries() {
		if query&c.mask == c.base&c.mask {
			return true
		}
	}
	return false
}

// cidrEntries returns the parsed CIDR ranges of the index, rebuilding the
// cache when it is stale or was invalidated by a write.
func (idx *Index) cidrEntries() []cidrEntry {
	idx.cidrMu.Lock()
	defer idx.cidrMu.Unlock()

	if !idx.cidrBuiltAt.IsZero() && time.Since(idx.cidrBuiltAt) < cidrCacheTTL {
		return idx.cidrs
	}

	idx.mu.RLock()
	parsed := make([]cidrEntry, 0)
	for key := range idx.entries {
		if !strings.Contains(key, "/") {
			continue
		}
		if c, ok := parseCIDR(key); ok {
			parsed = append(parsed, c)
		}
		// Malformed range entries are dropped from matching.
	}
	idx.mu.RUnlock()

	idx.cidrs = parsed
	idx.cidrBuiltAt = time.Now()
	return idx.cidrs
}

func (idx *Index) invalidateCIDRCache() {
	idx.cidrMu.Lock()
	idx.cidrBuiltAt = time.Time{}
	idx.cidrMu.Unlock()
}

// ValidIPv4 reports whether s is a strict dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	_, ok := parseIPv4(s)
	return ok
}

// parseIPv4 accepts only a strict dotted quad: four decimal octets 0-255,
// no signs, no missing or extra components.
func parseIPv4(s string) (uint32, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

// parseCIDR parses "a.b.c.d/p" into a base address and netmask. A /0 mask
// is zero and therefore matches every address.
func parseCIDR(s string) (cidrEntry, bool) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil || !prefix.Addr().Is4() {
		return cidrEntry{}, false
	}
	bits := prefix.Bits()
	if bits < 0 || bits > 32 {
		return cidrEntry{}, false
	}
	b := prefix.Addr().As4()
	base := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	var mask uint32
	if bits > 0 {
		mask = 0xFFFFFFFF << (32 - bits)
	}
	return cidrEntry{base: base, mask: mask}, true
}
