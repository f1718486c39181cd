package offline0

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
		// Timeout bounds each request to the origin.
		Timeout string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"server"`

	Cache struct {
		Version string `yaml:"version"`
		Static  string `yaml:"static"`
		Dynamic string `yaml:"dynamic"`
	} `yaml:"cache"`

	Storage struct {
		Backend string `yaml:"backend"`
		RAM     struct {
			Max string `yaml:"max"`

			maxBytes int64
		} `yaml:"ram"`
		LevelDB struct {
			Path string `yaml:"path"`
		} `yaml:"leveldb"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Classify struct {
		StaticPrefixes []string `yaml:"staticPrefixes"`
		StaticSuffixes []string `yaml:"staticSuffixes"`
		ContentRoutes  string   `yaml:"contentRoutes"`
		SearchSegment  string   `yaml:"searchSegment"`

		contentMatchers []pathPrefixMatcher
	} `yaml:"classify"`

	Prewarm struct {
		Routes      []string `yaml:"routes"`
		OfflinePage string   `yaml:"offlinePage"`
		Sitemaps    []string `yaml:"sitemaps"`
		Concurrency int      `yaml:"concurrency"`
	} `yaml:"prewarm"`

	Revalidate struct {
		MaxInFlight int    `yaml:"maxInFlight"`
		Timeout     string `yaml:"timeout"`

		timeoutDur time.Duration
	} `yaml:"revalidate"`

	Sync struct {
		Tag string `yaml:"tag"`
	} `yaml:"sync"`

	Push struct {
		Title string `yaml:"title"`
		Body  string `yaml:"body"`
		Icon  string `yaml:"icon"`
		Badge string `yaml:"badge"`
	} `yaml:"push"`

	Admin struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"admin"`

	Logging struct {
		Level         string `yaml:"level"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`

	Rules []Rule `yaml:"rules"`
}

type Rule struct {
	Match             string   `yaml:"match"`
	Priority          int      `yaml:"priority"`
	Bypass            bool     `yaml:"bypass"`
	BypassWhenCookies []string `yaml:"bypassWhenCookies"`
	Strategy          string   `yaml:"strategy"`

	// compiled
	matchers []pathPrefixMatcher
	strategy Strategy
}

type pathPrefixMatcher struct{ Prefix string }

func (m pathPrefixMatcher) Match(path string) bool { return strings.HasPrefix(path, m.Prefix) }

// DefaultConfig returns the configuration used for the consulting site.
// Origin is left empty; LoadConfig and Compile require it.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.Timeout = "30s"
	cfg.Cache.Version = "v1"
	cfg.Cache.Static = "static"
	cfg.Cache.Dynamic = "dynamic"
	cfg.Storage.Backend = "leveldb"
	cfg.Storage.RAM.Max = "64m"
	cfg.Storage.LevelDB.Path = "./data/leveldb"
	cfg.Storage.Redis.Prefix = "offline0:"
	cfg.Classify.StaticPrefixes = []string{"/_next/static/", "/static/"}
	cfg.Classify.StaticSuffixes = []string{".js", ".css", ".woff2", ".png", ".jpg", ".jpeg", ".svg", ".ico"}
	cfg.Classify.ContentRoutes = "PathPrefix(/api/)|PathPrefix(/our-insights)|PathPrefix(/research)|PathPrefix(/case-studies)"
	cfg.Classify.SearchSegment = "/search"
	cfg.Prewarm.Routes = []string{"/", "/services", "/industries", "/our-insights", "/about", "/contact", "/manifest.json", "/offline"}
	cfg.Prewarm.OfflinePage = "/offline"
	cfg.Prewarm.Concurrency = 4
	cfg.Revalidate.MaxInFlight = 32
	cfg.Revalidate.Timeout = "30s"
	cfg.Sync.Tag = "contact-form-sync"
	cfg.Push.Title = "AI Insights"
	cfg.Push.Body = "New insights available"
	cfg.Push.Icon = "/icon-192x192.png"
	cfg.Push.Badge = "/icon-72x72.png"
	cfg.Admin.Prefix = "/__offline0/"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig reads YAML from path on top of DefaultConfig and compiles it.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Compile validates cfg and fills in its parsed fields.
func (cfg *Config) Compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	u, err := url.Parse(cfg.Server.Origin)
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.origin must be an absolute URL, got %q", cfg.Server.Origin)
	}

	if cfg.Server.timeoutDur, err = parseDurationDefault(cfg.Server.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("server.timeout: %w", err)
	}
	if cfg.Revalidate.timeoutDur, err = parseDurationDefault(cfg.Revalidate.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("revalidate.timeout: %w", err)
	}
	if cfg.Logging.logStatsEveryDur, err = parseDurationDefault(cfg.Logging.LogStatsEvery, 0); err != nil {
		return fmt.Errorf("logging.logStatsEvery: %w", err)
	}

	if cfg.Cache.Version == "" {
		return fmt.Errorf("cache.version is required")
	}
	if cfg.Cache.Static == "" || cfg.Cache.Dynamic == "" {
		return fmt.Errorf("cache.static and cache.dynamic are required")
	}
	if cfg.Cache.Static == cfg.Cache.Dynamic {
		return fmt.Errorf("cache.static and cache.dynamic must differ")
	}

	if cfg.Storage.RAM.Max != "" {
		if cfg.Storage.RAM.maxBytes, err = parseBytes(cfg.Storage.RAM.Max); err != nil {
			return fmt.Errorf("storage.ram.max: %w", err)
		}
	}
	switch cfg.Storage.Backend {
	case "", "memory", "leveldb", "redis":
	default:
		return fmt.Errorf("storage.backend %q: %w", cfg.Storage.Backend, ErrUnknownBackend)
	}

	if strings.TrimSpace(cfg.Classify.ContentRoutes) != "" {
		ms, err := parseMatch(cfg.Classify.ContentRoutes)
		if err != nil {
			return fmt.Errorf("classify.contentRoutes: %w", err)
		}
		cfg.Classify.contentMatchers = ms
	}

	if cfg.Prewarm.Concurrency <= 0 {
		cfg.Prewarm.Concurrency = 4
	}
	if cfg.Revalidate.MaxInFlight <= 0 {
		cfg.Revalidate.MaxInFlight = 32
	}
	if cfg.Admin.Prefix == "" {
		cfg.Admin.Prefix = "/__offline0/"
	}
	if !strings.HasSuffix(cfg.Admin.Prefix, "/") {
		cfg.Admin.Prefix += "/"
	}

	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		ms, err := parseMatch(r.Match)
		if err != nil {
			return fmt.Errorf("rules[%d].match: %w", i, err)
		}
		r.matchers = ms
		if r.Strategy != "" {
			s, err := ParseStrategy(r.Strategy)
			if err != nil {
				return fmt.Errorf("rules[%d].strategy: %w", i, err)
			}
			r.strategy = s
		}
	}

	sort.SliceStable(cfg.Rules, func(i, j int) bool {
		return cfg.Rules[i].Priority < cfg.Rules[j].Priority
	})

	return nil
}

// StaticName is the versioned name of the app-shell partition.
func (cfg *Config) StaticName() string { return cfg.Cache.Static + "-" + cfg.Cache.Version }

// DynamicName is the versioned name of the runtime partition.
func (cfg *Config) DynamicName() string { return cfg.Cache.Dynamic + "-" + cfg.Cache.Version }

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func parseMatch(expr string) ([]pathPrefixMatcher, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty match")
	}

	parts := strings.Split(expr, "|")
	out := make([]pathPrefixMatcher, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "PathPrefix(") || !strings.HasSuffix(p, ")") {
			return nil, fmt.Errorf("only PathPrefix(...) supported, got %q", p)
		}
		inside := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(p, "PathPrefix("), ")"))
		if inside == "" || !strings.HasPrefix(inside, "/") {
			return nil, fmt.Errorf("invalid prefix %q", inside)
		}
		out = append(out, pathPrefixMatcher{Prefix: inside})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid matchers")
	}
	return out, nil
}

func (r *Rule) Matches(path string) bool {
	for _, m := range r.matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}
