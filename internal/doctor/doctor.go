// Package doctor runs local diagnostics for a lyrebird installation.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/presets"
	"github.com/basket/lyrebird/internal/shared"
	"github.com/basket/lyrebird/internal/store"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// lookupHost is swapped in tests.
var lookupHost = net.DefaultResolver.LookupHost

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkMusicKey,
		checkStore,
		checkPresets,
		checkPermissions,
		checkNetwork,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if cfg.Fresh {
		return CheckResult{Name: "Config", Status: StatusWarn, Message: "No config.yaml, using defaults",
			Detail: config.ConfigPath(cfg.HomeDir)}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail: "fingerprint " + cfg.Fingerprint()}
}

func checkMusicKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Music Key", Status: StatusSkip, Message: "Config missing"}
	}
	if !cfg.Music.Enabled {
		return CheckResult{Name: "Music Key", Status: StatusSkip, Message: "Music provider disabled, fallback tone only"}
	}
	if cfg.Music.APIKey != "" {
		return CheckResult{Name: "Music Key", Status: StatusPass, Message: "MiniMax API key configured",
			Detail: musicEnv(cfg)}
	}
	return CheckResult{
		Name:    "Music Key",
		Status:  StatusWarn,
		Message: "MINIMAX_API_KEY not set, music stage will use the fallback tone",
		Detail:  "Set MINIMAX_API_KEY or music.api_key in config.yaml",
	}
}

// musicEnv renders the env-overridable music settings with credentials redacted.
func musicEnv(cfg *config.Config) string {
	return fmt.Sprintf("MINIMAX_API_KEY=%s MINIMAX_API_HOST=%s MINIMAX_MUSIC_MODEL=%s",
		shared.RedactEnvValue("MINIMAX_API_KEY", cfg.Music.APIKey),
		shared.RedactEnvValue("MINIMAX_API_HOST", cfg.Music.Host),
		shared.RedactEnvValue("MINIMAX_MUSIC_MODEL", cfg.Music.Model))
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Store", Status: StatusSkip, Message: "Config missing"}
	}
	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	reg, err := store.Open(openCtx, store.Config{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		RedisAddr:  cfg.Store.RedisAddr,
		RedisDB:    cfg.Store.RedisDB,
		KeyPrefix:  cfg.Store.KeyPrefix,
	})
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer reg.Close()

	n, err := reg.Count(openCtx)
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{Name: "Store", Status: StatusPass, Message: fmt.Sprintf("%s store reachable, %d run(s)", reg.Driver(), n)}
}

func checkPresets(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Presets", Status: StatusSkip, Message: "Config missing"}
	}
	path := config.PresetsPath(cfg.HomeDir)
	extra, err := presets.LoadFile(path)
	if err != nil {
		return CheckResult{Name: "Presets", Status: StatusFail, Message: "presets.yaml invalid", Detail: err.Error()}
	}
	if len(extra) == 0 {
		return CheckResult{Name: "Presets", Status: StatusPass, Message: "Built-in presets only"}
	}
	return CheckResult{Name: "Presets", Status: StatusPass, Message: fmt.Sprintf("%d preset(s) from presets.yaml", len(extra))}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	if !cfg.Music.Enabled || cfg.Music.APIKey == "" {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Music provider not in use"}
	}
	u, err := url.Parse(cfg.Music.Host)
	if err != nil || u.Hostname() == "" {
		return CheckResult{Name: "Network", Status: StatusFail, Message: fmt.Sprintf("Invalid music host %q", cfg.Music.Host)}
	}
	host := u.Hostname()

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := lookupHost(lookupCtx, host)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}
