package blocklist

// Tier is the risk level a category (and ultimately a verdict) carries.
type Tier int

const (
	TierNone Tier = iota + 1
	TierLow
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "none"
	}
}

// Kind says how entries in a category are interpreted.
type Kind int

const (
	KindIP Kind = iota
	KindEmail
)

// Category is one named blocklist bucket tied to a feed URL and a tier.
type Category struct {
	Name string
	Tier Tier
	Kind Kind
	URL  string
}

// MXCacheIndex is the registry name of the MX verdict cache. It is created
// alongside the category indexes but never swapped.
const MXCacheIndex = "mx_cache"

// Catalog is the fixed set of categories. Order matters for the classifier:
// within each kind, higher tiers are consulted first and the first hit wins.
var Catalog = []Category{
	{Name: "criminal_network_ip", Tier: TierHigh, Kind: KindIP, URL: "https://feeds.signupguard.io/criminal_network_ip.txt"},
	{Name: "malicious_ip", Tier: TierHigh, Kind: KindIP, URL: "https://feeds.signupguard.io/malicious_ip.txt"},
	{Name: "tor_network_ip", Tier: TierHigh, Kind: KindIP, URL: "https://check.torproject.org/torbulkexitlist"},
	{Name: "recent_attacker_ip", Tier: TierHigh, Kind: KindIP, URL: "https://feeds.signupguard.io/recent_attacker_ip.txt"},
	{Name: "disposable_email", Tier: TierHigh, Kind: KindEmail, URL: "https://feeds.signupguard.io/disposable_email.txt"},
	{Name: "week_attacker_ip", Tier: TierMedium, Kind: KindIP, URL: "https://feeds.signupguard.io/week_attacker_ip.txt"},
	{Name: "suspicious_ip", Tier: TierMedium, Kind: KindIP, URL: "https://feeds.signupguard.io/suspicious_ip.txt"},
	{Name: "vpn_ip", Tier: TierMedium, Kind: KindIP, URL: "https://feeds.signupguard.io/vpn_ip.txt"},
	{Name: "datacenter_ip", Tier: TierMedium, Kind: KindIP, URL: "https://feeds.signupguard.io/datacenter_ip.txt"},
	{Name: "privacy_email", Tier: TierMedium, Kind: KindEmail, URL: "https://feeds.signupguard.io/privacy_email.txt"},
	{Name: "reported_ip", Tier: TierLow, Kind: KindIP, URL: "https://feeds.signupguard.io/reported_ip.txt"},
	{Name: "old_attacker_ip", Tier: TierLow, Kind: KindIP, URL: "https://feeds.signupguard.io/old_attacker_ip.txt"},
}

// CategoryByName returns the catalog entry for name, or nil.
func CategoryByName(name string) *Category {
	for i := range Catalog {
		if Catalog[i].Name == name {
			return &Catalog[i]
		}
	}
	return nil
}

// StagingName returns the staging index name for a category.
func StagingName(category string) string {
	return "staging:" + category
}
