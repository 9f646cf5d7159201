package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Every field has an env
// var counterpart in main; env wins over file values.
type Config struct {
	Port                 string            `yaml:"port"`
	BlocklistDir         string            `yaml:"blocklist_dir"`
	RefreshIntervalHours int               `yaml:"refresh_interval_hours"`
	RetryIntervalMin     int               `yaml:"retry_interval_min"`
	AdminJWTSecret       string            `yaml:"admin_jwt_secret"`
	FeedURLs             map[string]string `yaml:"feed_urls"`
	Resolvers            []Resolver        `yaml:"resolvers"`
	ResolverBucketCap    int               `yaml:"resolver_bucket_capacity"`
	MXQueryTimeoutMS     int               `yaml:"mx_query_timeout_ms"`
}

// Resolver is one upstream DNS server entry in the pool override.
type Resolver struct {
	IP   string `yaml:"ip"`
	Port string `yaml:"port"`
	Name string `yaml:"name"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
