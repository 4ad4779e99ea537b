package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
scrape:
  base_url: https://registry.example/verify/
  start_id: 100
  end_id: 250
  concurrency: 8
  max_retries: 3
  batch_size: 25
http:
  timeout_seconds: 20
  connect_timeout_seconds: 4
  user_agent: certpull-test
  backoff_cap_seconds: 8
  rate_limit_cap_seconds: 40
  requests_per_second: 2.5
output:
  path: /tmp/certs.csv
server:
  enabled: true
  port: 9090
export:
  enabled: true
  dsn: postgres://localhost/certs
  table: cert_rows
mirror:
  enabled: true
  bucket: cert-snapshots
  prefix: daily
notify:
  enabled: true
  project_id: proj
  topic_name: persist-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scrape.BaseURL != "https://registry.example/verify/" {
		t.Fatalf("expected base_url override, got %q", cfg.Scrape.BaseURL)
	}
	if cfg.Scrape.StartID != 100 || cfg.Scrape.EndID != 250 {
		t.Fatalf("expected range overrides, got [%d,%d]", cfg.Scrape.StartID, cfg.Scrape.EndID)
	}
	if cfg.Scrape.Concurrency != 8 || cfg.Scrape.MaxRetries != 3 || cfg.Scrape.BatchSize != 25 {
		t.Fatalf("expected scrape overrides to apply: %+v", cfg.Scrape)
	}
	if cfg.HTTP.RequestsPerSecond != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.HTTP.RequestsPerSecond)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected ops server enabled on 9090: %+v", cfg.Server)
	}
	if !cfg.Export.Enabled || cfg.Export.Table != "cert_rows" {
		t.Fatalf("expected export overrides to apply: %+v", cfg.Export)
	}
	if !cfg.Mirror.Enabled || cfg.Mirror.Bucket != "cert-snapshots" {
		t.Fatalf("expected mirror overrides to apply: %+v", cfg.Mirror)
	}
	if cfg.Logging.Development {
		t.Fatal("expected production logging")
	}
	if got := cfg.RequestTimeout(); got != 20*time.Second {
		t.Fatalf("expected request timeout 20s, got %v", got)
	}
	if got := cfg.ConnectTimeout(); got != 4*time.Second {
		t.Fatalf("expected connect timeout 4s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scrape.Concurrency != 50 || cfg.Scrape.MaxRetries != 5 || cfg.Scrape.BatchSize != 50 {
		t.Fatalf("unexpected scrape defaults: %+v", cfg.Scrape)
	}
	if cfg.HTTP.TimeoutSeconds != 10 || cfg.HTTP.ConnectTimeoutSeconds != 5 {
		t.Fatalf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.HTTP.BackoffCapSeconds != 16 || cfg.HTTP.RateLimitCapSeconds != 32 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.HTTP)
	}
	if cfg.Output.Path != "certificates.csv" {
		t.Fatalf("unexpected output default: %q", cfg.Output.Path)
	}
	if cfg.Server.Enabled || cfg.Export.Enabled || cfg.Mirror.Enabled || cfg.Notify.Enabled {
		t.Fatal("optional integrations should default to disabled")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Scrape: ScrapeConfig{
			BaseURL:     "https://registry.example/verify/",
			Concurrency: 1,
			MaxRetries:  1,
			BatchSize:   1,
		},
		HTTP:   HTTPConfig{TimeoutSeconds: 10},
		Output: OutputConfig{Path: "out.csv"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing base url",
			cfg: func() Config {
				c := base
				c.Scrape.BaseURL = ""
				return c
			}(),
			want: "scrape.base_url",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Scrape.Concurrency = 0
				return c
			}(),
			want: "scrape.concurrency",
		},
		{
			name: "invalid max retries",
			cfg: func() Config {
				c := base
				c.Scrape.MaxRetries = 0
				return c
			}(),
			want: "scrape.max_retries",
		},
		{
			name: "invalid batch size",
			cfg: func() Config {
				c := base
				c.Scrape.BatchSize = 0
				return c
			}(),
			want: "scrape.batch_size",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "missing output path",
			cfg: func() Config {
				c := base
				c.Output.Path = ""
				return c
			}(),
			want: "output.path",
		},
		{
			name: "server enabled without port",
			cfg: func() Config {
				c := base
				c.Server.Enabled = true
				return c
			}(),
			want: "server.port",
		},
		{
			name: "export enabled without dsn",
			cfg: func() Config {
				c := base
				c.Export.Enabled = true
				return c
			}(),
			want: "export.dsn",
		},
		{
			name: "mirror enabled without bucket",
			cfg: func() Config {
				c := base
				c.Mirror.Enabled = true
				return c
			}(),
			want: "mirror.bucket",
		},
		{
			name: "notify enabled without topic",
			cfg: func() Config {
				c := base
				c.Notify.Enabled = true
				c.Notify.ProjectID = "proj"
				return c
			}(),
			want: "notify.project_id and notify.topic_name",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
