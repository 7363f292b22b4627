package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config represents the complete configuration shared by the edge responder and the probe client
type Config struct {
	// Page
	Title  string `yaml:"title" json:"title" default:"IP SENTINEL"`
	Footer string `yaml:"footer" json:"footer" default:"SYSTEM ONLINE // READY"`

	// Edge responder
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" default:":8080"`

	// Probe client
	UA           string    `yaml:"ua" json:"ua" default:"IPSentinel/1.0 (+https://github.com/gustycube/ip-sentinel)"`
	EdgeURL      string    `yaml:"edge_url" json:"edge_url"`
	Providers    Providers `yaml:"providers" json:"providers"`
	Targets      []Target  `yaml:"targets" json:"targets"`
	OutputFormat string    `yaml:"output_format" json:"output_format" default:"table"`
	MaskIP       bool      `yaml:"mask_ip" json:"mask_ip"`

	// Timing
	PingIntervalMs  int  `yaml:"ping_interval_ms" json:"ping_interval_ms" default:"2000"`
	PingStaggerMs   int  `yaml:"ping_stagger_ms" json:"ping_stagger_ms" default:"200"`
	DomesticDelayMs int  `yaml:"domestic_delay_ms" json:"domestic_delay_ms" default:"300"`
	ForeignDelayMs  int  `yaml:"foreign_delay_ms" json:"foreign_delay_ms" default:"400"`
	EdgeDelayMs     int  `yaml:"edge_delay_ms" json:"edge_delay_ms" default:"500"`
	RespectRobots   bool `yaml:"respect_robots" json:"respect_robots"`

	// Risk lookups
	RiskCacheSize   int `yaml:"risk_cache_size" json:"risk_cache_size" default:"256"`
	RiskCacheTTLSec int `yaml:"risk_cache_ttl_sec" json:"risk_cache_ttl_sec" default:"600"`

	// Theme preference
	ThemeStore string `yaml:"theme_store" json:"theme_store" default:"file"`
	ThemePath  string `yaml:"theme_path" json:"theme_path"`
	ThemeKey   string `yaml:"theme_key" json:"theme_key" default:"sentinel:theme"`
	RedisAddr  string `yaml:"redis_addr" json:"redis_addr"`

	// Observability
	LogLevel     string `yaml:"log_level" json:"log_level" default:"info"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr" default:":9090"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service" default:"ip-sentinel"`
}

// Providers holds the endpoint of every external collaborator. Response shapes are fixed
// per provider; only the location is configurable.
type Providers struct {
	IPSB          string `yaml:"ipsb" json:"ipsb" default:"https://api.ip.sb/geoip"`
	IPAPICo       string `yaml:"ipapi_co" json:"ipapi_co" default:"https://ipapi.co/json/"`
	IPIPNet       string `yaml:"ipip_net" json:"ipip_net" default:"https://myip.ipip.net/json"`
	UserAgentInfo string `yaml:"useragentinfo" json:"useragentinfo" default:"https://ip.useragentinfo.com/json"`
	Ipify         string `yaml:"ipify" json:"ipify" default:"https://api.ipify.org/"`
	IpifyV4       string `yaml:"ipify_v4" json:"ipify_v4" default:"https://api.ipify.org?format=json"`
	IpifyV6       string `yaml:"ipify_v6" json:"ipify_v6" default:"https://api6.ipify.org?format=json"`
	IPAPIIs       string `yaml:"ipapi_is" json:"ipapi_is" default:"https://api.ipapi.is"`
	Trace         string `yaml:"trace" json:"trace" default:"https://www.cloudflare.com/cdn-cgi/trace"`
}

// Target is a latency probe endpoint. An empty name is derived from the URL host.
type Target struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

var validOutputFormats = map[string]bool{"table": true, "json": true, "jsonl": true, "csv": true}

var validThemeStores = map[string]bool{"file": true, "redis": true, "memory": true}

// DefaultTargets returns the stock latency probe list: small static images on well-known hosts.
func DefaultTargets() []Target {
	return []Target{
		{Name: "Bilibili", URL: "https://i0.hdslb.com/bfs/face/member/noface.jpg"},
		{Name: "WeChat", URL: "https://res.wx.qq.com/a/wx_fed/assets/res/NTI4MWU5.ico"},
		{Name: "Google", URL: "https://www.google.com/favicon.ico"},
		{Name: "Cloudflare", URL: "https://www.cloudflare.com/favicon.ico"},
		{Name: "GitHub", URL: "https://github.github.io/janky/images/bg_hr.png"},
		{Name: "YouTube", URL: "https://i.ytimg.com/vi/M7lc1UVf-VE/mqdefault.jpg"},
		{Name: "OpenAI", URL: "https://openai.com/favicon.ico"},
		{Name: "Telegram", URL: "https://telegram.org/img/t_logo.png"},
		{Name: "Netflix", URL: "https://assets.nflxext.com/us/ffe/siteui/common/icons/nficon2016.ico"},
		{Name: "Apple", URL: "https://www.apple.com/favicon.ico"},
	}
}

// SetDefaults fills every unset field from its default tag
func (c *Config) SetDefaults() {
	// Only fails for malformed tags, which is a programming error.
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	if len(c.Targets) == 0 {
		c.Targets = DefaultTargets()
	}
	if c.ThemePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		c.ThemePath = filepath.Join(dir, "ip-sentinel", "theme.json")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PingIntervalMs < 1 {
		return fmt.Errorf("ping_interval_ms must be at least 1")
	}
	if c.PingStaggerMs < 0 {
		return fmt.Errorf("ping_stagger_ms must not be negative")
	}
	if c.DomesticDelayMs < 0 || c.ForeignDelayMs < 0 || c.EdgeDelayMs < 0 {
		return fmt.Errorf("lane delays must not be negative")
	}
	if c.RiskCacheSize < 1 {
		return fmt.Errorf("risk_cache_size must be at least 1")
	}
	if !validOutputFormats[c.OutputFormat] {
		return fmt.Errorf("unsupported output_format: %s (use table, json, jsonl or csv)", c.OutputFormat)
	}
	if !validThemeStores[c.ThemeStore] {
		return fmt.Errorf("unsupported theme_store: %s (use file, redis or memory)", c.ThemeStore)
	}
	if c.ThemeStore == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("theme_store redis requires redis_addr")
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t.URL) == "" {
			return fmt.Errorf("target %d has no url", i)
		}
	}
	return nil
}

// PingInterval is the period between two probes of the same target.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// PingStagger is the start offset added per target index.
func (c *Config) PingStagger() time.Duration {
	return time.Duration(c.PingStaggerMs) * time.Millisecond
}

// RiskCacheTTL is how long a risk report is reused for the same address.
func (c *Config) RiskCacheTTL() time.Duration {
	return time.Duration(c.RiskCacheTTLSec) * time.Second
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["title"].(string); ok && v != "" {
		c.Title = v
	}
	if v, ok := flags["footer"].(string); ok && v != "" {
		c.Footer = v
	}
	if v, ok := flags["listen_addr"].(string); ok && v != "" {
		c.ListenAddr = v
	}
	if v, ok := flags["ua"].(string); ok && v != "" {
		c.UA = v
	}
	if v, ok := flags["edge_url"].(string); ok && v != "" {
		c.EdgeURL = v
	}
	if v, ok := flags["output_format"].(string); ok && v != "" {
		c.OutputFormat = v
	}
	if v, ok := flags["mask_ip"].(bool); ok && v {
		c.MaskIP = v
	}
	if v, ok := flags["ping_interval_ms"].(int); ok && v > 0 {
		c.PingIntervalMs = v
	}
	if v, ok := flags["respect_robots"].(bool); ok && v {
		c.RespectRobots = v
	}
	if v, ok := flags["theme_store"].(string); ok && v != "" {
		c.ThemeStore = v
	}
	if v, ok := flags["theme_path"].(string); ok && v != "" {
		c.ThemePath = v
	}
	if v, ok := flags["redis_addr"].(string); ok && v != "" {
		c.RedisAddr = v
	}
	if v, ok := flags["log_level"].(string); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("TITLE"); v != "" {
		c.Title = v
	}
	if v := os.Getenv("FOOTER"); v != "" {
		c.Footer = v
	}
	if v := os.Getenv("SENTINEL_EDGE_URL"); v != "" {
		c.EdgeURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
