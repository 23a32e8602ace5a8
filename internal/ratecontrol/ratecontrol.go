// Package ratecontrol paces outbound LLM requests from a models.yaml file
// that operators can edit at runtime; a filesystem watcher reloads it without
// restarting the worker.
package ratecontrol

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type config struct {
	RateLimits struct {
		DefaultRPM        int `yaml:"default_rpm"`
		ProviderOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

var builtInProviderRPM = map[string]int{
	"openai":    30,
	"anthropic": 20,
}

var defaultPaths = []string{
	os.Getenv("MODELS_CONFIG_PATH"),
	"/app/config/models.yaml",
	"./config/models.yaml",
}

var (
	mu       sync.Mutex
	loaded   *config
	limiters = map[string]*rate.Limiter{}
)

func loadLocked() *config {
	if loaded != nil {
		return loaded
	}
	cfg := &config{}
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			continue
		}
		cfg = &tmp
		break
	}
	loaded = cfg
	return cfg
}

func rpmFor(provider string) int {
	cfg := loadLocked()
	key := strings.ToLower(strings.TrimSpace(provider))
	if o, ok := cfg.RateLimits.ProviderOverrides[key]; ok && o.RPM > 0 {
		return o.RPM
	}
	if cfg.RateLimits.DefaultRPM > 0 {
		return cfg.RateLimits.DefaultRPM
	}
	if rpm, ok := builtInProviderRPM[key]; ok {
		return rpm
	}
	return 45
}

// LimiterFor returns a shared request limiter for the given provider. The
// limiter allows short bursts up to one minute's quota.
func LimiterFor(provider string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(provider))
	if l, ok := limiters[key]; ok {
		return l
	}
	rpm := rpmFor(key)
	l := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), maxInt(1, rpm/10))
	limiters[key] = l
	return l
}

// Reload drops cached config and limiters so the next LimiterFor call reads
// fresh limits.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	loaded = nil
	limiters = map[string]*rate.Limiter{}
}

// Watch reloads limits when the models config file changes. Returns a stop
// function; a missing file or watcher failure downgrades to built-in limits.
func Watch(logger *zap.Logger) func() {
	var path string
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		return func() {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Rate limit config watcher unavailable", zap.Error(err))
		return func() {}
	}
	// Watch the directory: editors replace files, which drops file watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("Rate limit config watch failed", zap.Error(err))
		_ = watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(path) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					Reload()
					logger.Info("Rate limit configuration reloaded", zap.String("path", path))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Rate limit config watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
