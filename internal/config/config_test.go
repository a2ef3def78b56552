package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/errs"
	"github.com/Mubelotix/nginx-hibernator/internal/site"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hibernator.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestLoadMinimalSite(t *testing.T) {
	dir := t.TempDir()
	available := filepath.Join(dir, "blog.available")
	if err := os.WriteFile(available, []byte("# available config"), 0o644); err != nil {
		t.Fatalf("writing available_config fixture: %v", err)
	}
	path := writeConfig(t, `
hibernator_port = 7878

[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
available_config = "`+available+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("got %d sites, want 1", len(cfg.Sites))
	}
	s := cfg.Sites[0]
	if s.Name != "blog" || s.Port != 8080 {
		t.Fatalf("got %+v", s)
	}
	if s.KeepAlive != 10*time.Minute {
		t.Fatalf("got keep_alive %v, want 10m", s.KeepAlive)
	}
	if s.ProxyMode != site.ModeAlways {
		t.Fatalf("got default proxy_mode %v, want always", s.ProxyMode)
	}
	if s.EtaSampleSize != 100 || s.EtaPercentile != 95 {
		t.Fatalf("got eta defaults %d/%v, want 100/95", s.EtaSampleSize, s.EtaPercentile)
	}
}

func TestLoadPreservesExplicitZeroEtaPercentile(t *testing.T) {
	dir := t.TempDir()
	available := filepath.Join(dir, "blog.available")
	if err := os.WriteFile(available, []byte("# available config"), 0o644); err != nil {
		t.Fatalf("writing available_config fixture: %v", err)
	}
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
available_config = "`+available+`"
eta_percentile = 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sites[0].EtaPercentile != 0 {
		t.Fatalf("got eta_percentile %v, want 0 to survive an explicit zero", cfg.Sites[0].EtaPercentile)
	}
}

func TestLoadRejectsMissingAvailableConfigFile(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
available_config = "/does/not/exist/blog.available"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for a missing available_config file")
	}
	var cerr *errs.ConfigError
	if ce, ok := err.(*errs.ConfigError); ok {
		cerr = ce
	}
	if cerr == nil || cerr.Field != "available_config" {
		t.Fatalf("got %v, want ConfigError on field available_config", err)
	}
}

func TestLoadRejectsEmptyAvailableConfig(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for an unset available_config")
	}
	var cerr *errs.ConfigError
	if ce, ok := err.(*errs.ConfigError); ok {
		cerr = ce
	}
	if cerr == nil || cerr.Field != "available_config" {
		t.Fatalf("got %v, want ConfigError on field available_config", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
totally_unknown_key = "oops"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for an unknown key")
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
hosts = ["blog.example.com"]
port = 8080
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for a missing name")
	}
	var cerr *errs.ConfigError
	if ce, ok := err.(*errs.ConfigError); ok {
		cerr = ce
	}
	if cerr == nil || cerr.Field != "name" {
		t.Fatalf("got %v, want ConfigError on field name", err)
	}
}

func TestLoadRejectsDuplicateHostnames(t *testing.T) {
	dir := t.TempDir()
	available := filepath.Join(dir, "shared.available")
	if err := os.WriteFile(available, []byte("# available config"), 0o644); err != nil {
		t.Fatalf("writing available_config fixture: %v", err)
	}
	path := writeConfig(t, `
[[sites]]
name = "a"
hosts = ["shared.example.com"]
port = 8080
access_log = "/var/log/a.log"
service_name = "a.service"
keep_alive = "10m"
available_config = "`+available+`"

[[sites]]
name = "b"
hosts = ["shared.example.com"]
port = 8081
access_log = "/var/log/b.log"
service_name = "b.service"
keep_alive = "10m"
available_config = "`+available+`"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for a duplicate hostname")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `
[[sites]]
name = "blog"
hosts = ["blog.example.com"]
port = 0
access_log = "/var/log/nginx/blog.access.log"
service_name = "blog.service"
keep_alive = "10m"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected an error for port 0")
	}
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.toml")
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
