package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/kmelchor/floodgate/internal/admission"
)

// PolicyHolder hands out the currently active admission policy.
// Reads vastly outnumber writes (one write per config reload).
type PolicyHolder struct {
	mu sync.RWMutex
	p  admission.Policy
}

func NewPolicyHolder(p admission.Policy) *PolicyHolder {
	return &PolicyHolder{p: p}
}

func (h *PolicyHolder) Current() admission.Policy {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p
}

func (h *PolicyHolder) Set(p admission.Policy) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.p = p
}

// WatchLimits re-reads the config file whenever it changes and swaps the
// active policy. Only rate_per_sec, burst, delay_mode and max_delay_ms take
// effect without a restart; store sizing (max_clients, idle_ttl_ms) is fixed
// at startup. The watch runs until ctx is cancelled.
func WatchLimits(ctx context.Context, path string, holder *PolicyHolder, logger zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// watch the directory: editors and config management tools replace the
	// file by rename, which drops a watch placed on the file itself
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("config reload failed, keeping previous policy")
					continue
				}
				holder.Set(cfg.Limits.Policy())
				logger.Info().
					Float64("rate_per_sec", cfg.Limits.RatePerSec).
					Int("burst", cfg.Limits.Burst).
					Bool("delay_mode", cfg.Limits.DelayMode).
					Msg("policy reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watch error")
			}
		}
	}()
	return nil
}
