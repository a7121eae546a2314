// Package cartconfig serves hot-reloadable cart settings to the engine, the
// stores and the reconciliation jobs.
package cartconfig

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

// Loader reads and validates a fresh settings snapshot.
type Loader func() (config.CartSettings, error)

// FileLoader overlays the dotenv file at path (when set) onto the process env.
func FileLoader(path string) Loader {
	return func() (config.CartSettings, error) {
		return config.LoadCartSettings(path)
	}
}

// Provider hands out immutable settings snapshots. A reload that fails
// validation leaves the previous snapshot in place.
type Provider struct {
	current atomic.Pointer[config.CartSettings]
	load    Loader
	path    string
	logg    *logger.Logger

	mu      sync.Mutex
	modTime time.Time
}

type Params struct {
	Initial      config.CartSettings
	SettingsFile string
	Loader       Loader
	Logger       *logger.Logger
}

func NewProvider(params Params) (*Provider, error) {
	if err := params.Initial.Validate(); err != nil {
		return nil, err
	}
	load := params.Loader
	if load == nil {
		load = FileLoader(params.SettingsFile)
	}
	p := &Provider{load: load, path: params.SettingsFile, logg: params.Logger}
	initial := params.Initial
	p.current.Store(&initial)
	return p, nil
}

// Current returns the active snapshot by value.
func (p *Provider) Current() config.CartSettings {
	return *p.current.Load()
}

// Update validates next and swaps it in.
func (p *Provider) Update(next config.CartSettings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	p.current.Store(&next)
	return nil
}

// Reload re-reads the settings source and swaps it in on success.
func (p *Provider) Reload() error {
	next, err := p.load()
	if err != nil {
		return fmt.Errorf("reload cart settings: %w", err)
	}
	return p.Update(next)
}

// Watch polls the settings file every interval and reloads when it changes.
// It returns when ctx is done.
func (p *Provider) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 || p.path == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reloadIfChanged(ctx)
		}
	}
}

func (p *Provider) reloadIfChanged(ctx context.Context) {
	info, err := os.Stat(p.path)
	if err != nil {
		p.warn(ctx, "cart settings file unavailable: "+err.Error())
		return
	}

	p.mu.Lock()
	changed := !info.ModTime().Equal(p.modTime)
	p.modTime = info.ModTime()
	p.mu.Unlock()
	if !changed {
		return
	}

	if err := p.Reload(); err != nil {
		p.warn(ctx, "cart settings rejected, keeping previous values: "+err.Error())
		return
	}
	if p.logg != nil {
		p.logg.Info(p.logg.WithField(ctx, "settings_file", p.path), "cart settings reloaded")
	}
}

func (p *Provider) warn(ctx context.Context, msg string) {
	if p.logg != nil {
		p.logg.Warn(ctx, msg)
	}
}
