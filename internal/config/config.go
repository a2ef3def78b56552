// Package config implements the TOML configuration loader: it parses the
// on-disk document into the immutable site set the rest of the daemon
// consumes, rejecting unknown or missing keys at load time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Mubelotix/nginx-hibernator/internal/clockutil"
	"github.com/Mubelotix/nginx-hibernator/internal/errs"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

// siteTOML mirrors the `[[sites]]` table shape. Fields are pointers or
// plain values per whether a zero value is a valid override; required-key
// presence is checked explicitly in validate, not via TOML decoding alone,
// so the error names the exact missing field.
type siteTOML struct {
	Name               string             `toml:"name"`
	Hosts              []string           `toml:"hosts"`
	Port               int                `toml:"port"`
	AccessLog          string             `toml:"access_log"`
	AccessLogFilter    string             `toml:"access_log_filter"`
	ServiceName        string             `toml:"service_name"`
	AvailableConfig    string             `toml:"available_config"`
	EnabledConfig      string             `toml:"enabled_config"`
	KeepAlive          clockutil.Duration `toml:"keep_alive"`
	ProxyMode          string             `toml:"proxy_mode"`
	BrowserProxyMode   string             `toml:"browser_proxy_mode"`
	ProxyTimeout       clockutil.Duration `toml:"proxy_timeout"`
	ProxyCheckInterval clockutil.Duration `toml:"proxy_check_interval"`
	StartTimeout       clockutil.Duration `toml:"start_timeout"`
	StartCheckInterval clockutil.Duration `toml:"start_check_interval"`
	PathBlacklist      []string           `toml:"path_blacklist"`
	IPBlacklist        []string           `toml:"ip_blacklist"`
	IPWhitelist        []string           `toml:"ip_whitelist"`
	EtaSampleSize      int                `toml:"eta_sample_size"`
	EtaPercentile      *float64           `toml:"eta_percentile"`
	LandingFolder      string             `toml:"landing_folder"`
	RestartCooldown    clockutil.Duration `toml:"restart_cooldown"`
}

type rootTOML struct {
	HibernatorPort  int        `toml:"hibernator_port"`
	DatabasePath    string     `toml:"database_path"`
	LandingFolder   string     `toml:"landing_folder"`
	APIKeySHA256    string     `toml:"api_key_sha256"`
	ServiceManager  string     `toml:"service_manager"`
	ReverseProxyCmd string     `toml:"reverse_proxy_command"`
	HibernatorCfg   string     `toml:"hibernator_config"`
	Sites           []siteTOML `toml:"sites"`
}

// Config is the fully validated, load-time-immutable configuration.
type Config struct {
	HibernatorPort  int
	DatabasePath    string
	LandingFolder   string
	APIKeySHA256    string // lowercase hex, empty = auth disabled
	ServiceManager  string
	ReverseProxyCmd string
	HibernatorCfg   string // shared hibernator config path, default per site
	Sites           []site.Config
}

// Load reads and validates the TOML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.ConfigError{Field: "file", Err: err}
	}

	var root rootTOML
	meta, err := toml.Decode(string(data), &root)
	if err != nil {
		return nil, &errs.ConfigError{Field: "parse", Err: err}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &errs.ConfigError{Field: "unknown_keys", Err: fmt.Errorf("%s", strings.Join(keys, ", "))}
	}

	cfg := &Config{
		HibernatorPort:  root.HibernatorPort,
		DatabasePath:    root.DatabasePath,
		LandingFolder:   root.LandingFolder,
		APIKeySHA256:    strings.ToLower(strings.TrimSpace(root.APIKeySHA256)),
		ServiceManager:  root.ServiceManager,
		ReverseProxyCmd: root.ReverseProxyCmd,
		HibernatorCfg:   root.HibernatorCfg,
	}
	applyDefaults(cfg)

	seenHosts := make(map[string]string) // host -> site name, for duplicate detection
	for _, st := range root.Sites {
		sc, err := toSiteConfig(st, cfg)
		if err != nil {
			return nil, err
		}
		for _, h := range sc.Hosts {
			if owner, dup := seenHosts[h]; dup {
				return nil, &errs.ConfigError{Site: sc.Name, Field: "hosts", Err: fmt.Errorf("hostname %q already claimed by site %q", h, owner)}
			}
			seenHosts[h] = sc.Name
		}
		cfg.Sites = append(cfg.Sites, sc)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HibernatorPort == 0 {
		cfg.HibernatorPort = 7878
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./data"
	}
	if cfg.LandingFolder == "" {
		cfg.LandingFolder = "./landing"
	}
	if cfg.ServiceManager == "" {
		cfg.ServiceManager = "systemctl"
	}
	if cfg.ReverseProxyCmd == "" {
		cfg.ReverseProxyCmd = "nginx"
	}
}

func toSiteConfig(st siteTOML, top *Config) (site.Config, error) {
	if st.Name == "" {
		return site.Config{}, &errs.ConfigError{Field: "name", Err: fmt.Errorf("required")}
	}
	if st.Port <= 0 || st.Port > 65535 {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "port", Err: fmt.Errorf("must be 1..65535, got %d", st.Port)}
	}
	if st.AccessLog == "" {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "access_log", Err: fmt.Errorf("required")}
	}
	if st.ServiceName == "" {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "service_name", Err: fmt.Errorf("required")}
	}
	if len(st.Hosts) == 0 {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "hosts", Err: fmt.Errorf("required, non-empty")}
	}
	if time.Duration(st.KeepAlive) <= 0 {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "keep_alive", Err: fmt.Errorf("required, must be >= 1s")}
	}
	if st.AvailableConfig == "" {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "available_config", Err: fmt.Errorf("required")}
	}
	if _, err := os.Stat(st.AvailableConfig); err != nil {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "available_config", Err: fmt.Errorf("must exist on disk: %w", err)}
	}

	hosts := make([]string, len(st.Hosts))
	for i, h := range st.Hosts {
		hosts[i] = strings.ToLower(strings.TrimSpace(h))
	}

	proxyMode, err := parseMode(st.ProxyMode, site.ModeAlways)
	if err != nil {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "proxy_mode", Err: err}
	}
	browserMode, err := parseMode(st.BrowserProxyMode, proxyMode)
	if err != nil {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "browser_proxy_mode", Err: err}
	}

	landingFolder := st.LandingFolder
	if landingFolder == "" {
		landingFolder = top.LandingFolder
	}

	available := st.AvailableConfig
	enabled := st.EnabledConfig
	hibernatorCfg := top.HibernatorCfg

	sc := site.Config{
		Name:               st.Name,
		Hosts:              hosts,
		Port:               st.Port,
		AccessLogPath:      st.AccessLog,
		AccessLogFilter:    st.AccessLogFilter,
		ServiceUnitName:    st.ServiceName,
		AvailableConfig:    available,
		EnabledConfig:      enabled,
		HibernatorConfig:   hibernatorCfg,
		KeepAlive:          time.Duration(st.KeepAlive),
		ProxyMode:          proxyMode,
		BrowserProxyMode:   browserMode,
		ProxyTimeout:       orDefault(time.Duration(st.ProxyTimeout), 28*time.Second),
		ProxyCheckInterval: orDefault(time.Duration(st.ProxyCheckInterval), 500*time.Millisecond),
		StartTimeout:       orDefault(time.Duration(st.StartTimeout), 5*time.Minute),
		StartCheckInterval: orDefault(time.Duration(st.StartCheckInterval), 100*time.Millisecond),
		PathBlacklist:      st.PathBlacklist,
		IPBlacklist:        st.IPBlacklist,
		IPWhitelist:        st.IPWhitelist,
		EtaSampleSize:      orDefaultInt(st.EtaSampleSize, 100),
		EtaPercentile:      etaPercentileOrDefault(st.EtaPercentile, 95),
		LandingFolder:      landingFolder,
		RestartCooldown:    orDefault(time.Duration(st.RestartCooldown), 10*time.Second),
	}

	if sc.EtaPercentile < 0 || sc.EtaPercentile > 100 {
		return site.Config{}, &errs.ConfigError{Site: st.Name, Field: "eta_percentile", Err: fmt.Errorf("must be 0..100, got %v", sc.EtaPercentile)}
	}

	return sc, nil
}

func parseMode(raw string, def site.ProxyMode) (site.ProxyMode, error) {
	if raw == "" {
		return def, nil
	}
	switch site.ProxyMode(raw) {
	case site.ModeAlways, site.ModeWhenReady, site.ModeNever:
		return site.ProxyMode(raw), nil
	default:
		return "", fmt.Errorf("must be one of always|when_ready|never, got %q", raw)
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// etaPercentileOrDefault applies def only when the field was absent from the
// TOML document. An explicit eta_percentile = 0 is a valid configured value
// and must survive, not be mistaken for "unset".
func etaPercentileOrDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
